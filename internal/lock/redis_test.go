package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestRedisLocker_Integration requires a running Redis; it is skipped otherwise.
func TestRedisLocker_Integration(t *testing.T) {
	addr := os.Getenv("EXCHANGE_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := NewRedisClient(addr, "", 0)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	locker := NewRedisLocker(client, WithRedisPrefix("exchange-test:"+uuid.NewString()+":"), WithRedisTTL(time.Minute))

	first, err := locker.Lock(ctx, "X.xml")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := locker.Lock(ctx, "X.xml"); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("Expected ErrAlreadyLocked, got %v", err)
	}

	if err := locker.Unlock(ctx, FileLock{Key: "X.xml", LockID: "foreign"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if locked, _ := locker.IsLocked(ctx, "X.xml"); !locked {
		t.Fatalf("Foreign unlock must not release the lock")
	}

	if err := locker.Unlock(ctx, first); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := locker.Lock(ctx, "X.xml"); err != nil {
		t.Fatalf("Expected lock after release, got %v", err)
	}
}
