package lock

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL bounds how long a crashed worker can keep a file blocked.
const DefaultTTL = 5 * time.Minute

// ErrAlreadyLocked is returned when another holder owns an unexpired lock.
var ErrAlreadyLocked = errors.New("already locked")

// FileLock is an advisory, expiring lock on one key. Callers derive the key
// from a file name; the transport manager scopes it per connector.
type FileLock struct {
	Key        string    `json:"key"`
	LockID     string    `json:"lock_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Locker grants exclusive file locks shared between workers.
type Locker interface {
	// Lock fails with ErrAlreadyLocked while another unexpired lock exists.
	Lock(ctx context.Context, name string) (FileLock, error)
	// Unlock releases the lock only if lock.LockID still holds it; otherwise it
	// logs and does nothing.
	Unlock(ctx context.Context, lock FileLock) error
	IsLocked(ctx context.Context, name string) (bool, error)
}

// Sweeper is implemented by lockers whose expired entries need explicit cleanup.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}
