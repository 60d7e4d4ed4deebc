package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	lockID    string
	expiresAt time.Time
}

// MemoryLocker keeps locks in process memory. It suits a single worker
// process and tests; expired entries are reclaimed by Lock or Sweep.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// MemoryOption configures a MemoryLocker.
type MemoryOption func(*MemoryLocker)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(l *MemoryLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithClock overrides the clock used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLocker) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger used for foreign unlock attempts.
func WithLogger(logger *slog.Logger) MemoryOption {
	return func(l *MemoryLocker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewMemoryLocker creates an empty locker.
func NewMemoryLocker(opts ...MemoryOption) *MemoryLocker {
	l := &MemoryLocker{
		entries: map[string]memoryEntry{},
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MemoryLocker) Lock(_ context.Context, name string) (FileLock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.entries[name]; ok && now.Before(entry.expiresAt) {
		return FileLock{}, fmt.Errorf("%s: %w", name, ErrAlreadyLocked)
	}
	lock := FileLock{
		Key:        name,
		LockID:     uuid.NewString(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(l.ttl),
	}
	l.entries[name] = memoryEntry{lockID: lock.LockID, expiresAt: lock.ExpiresAt}
	return lock, nil
}

func (l *MemoryLocker) Unlock(_ context.Context, lock FileLock) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[lock.Key]
	if !ok || entry.lockID != lock.LockID {
		l.logger.Warn("lock not released: not held by caller", "key", lock.Key, "lock_id", lock.LockID)
		return nil
	}
	delete(l.entries, lock.Key)
	return nil
}

func (l *MemoryLocker) IsLocked(_ context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[name]
	return ok && l.now().Before(entry.expiresAt), nil
}

// Sweep drops expired entries and reports how many were removed.
func (l *MemoryLocker) Sweep(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for name, entry := range l.entries {
		if !now.Before(entry.expiresAt) {
			delete(l.entries, name)
			removed++
		}
	}
	return removed, nil
}
