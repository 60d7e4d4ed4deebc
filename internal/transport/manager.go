package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rmskTV/advPlanner-sub000/internal/domain"
	"github.com/rmskTV/advPlanner-sub000/internal/enterprisedata"
	"github.com/rmskTV/advPlanner-sub000/internal/lock"
)

// Manager is the file manager of one connector: it lists, locks, downloads,
// uploads and archives message files on the connector's drop location.
type Manager struct {
	connector domain.Connector
	driver    Driver
	locker    lock.Locker
	naming    *Naming
	maxSize   int64
	logger    *slog.Logger
	now       func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxFileSize overrides the download and upload size limit.
func WithMaxFileSize(size int64) ManagerOption {
	return func(m *Manager) {
		if size > 0 {
			m.maxSize = size
		}
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerClock overrides the clock used for archive paths.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a file manager for connector over driver.
func NewManager(connector domain.Connector, driver Driver, locker lock.Locker, opts ...ManagerOption) (*Manager, error) {
	naming, err := NewNaming(connector)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		connector: connector,
		driver:    driver,
		locker:    locker,
		naming:    naming,
		maxSize:   enterprisedata.DefaultMaxSize,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("connector", connector.Name)
	return m, nil
}

// Naming returns the connector's naming rules.
func (m *Manager) Naming() *Naming {
	return m.naming
}

// lockKey scopes lock names per connector so two connectors sharing a drop
// location never block each other.
func (m *Manager) lockKey(name string) string {
	return m.connector.ID.String() + "/" + name
}

const maxOutgoingSequence = 1000

// NextOutgoingName returns the first outgoing name that is neither in taken
// nor still present on the drop location, so a message the peer has not
// picked up yet is never overwritten.
func (m *Manager) NextOutgoingName(ctx context.Context, taken map[string]bool) (string, error) {
	for seq := 1; seq <= maxOutgoingSequence; seq++ {
		name := m.naming.Outgoing(seq)
		if taken[name] {
			continue
		}
		_, err := m.driver.Stat(ctx, name)
		if errors.Is(err, fs.ErrNotExist) {
			return name, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", name, err)
		}
	}
	return "", fmt.Errorf("no free outgoing file name after %d attempts", maxOutgoingSequence)
}

// Remove deletes a file from the drop location.
func (m *Manager) Remove(ctx context.Context, name string) error {
	return m.driver.Remove(ctx, name)
}

// ScanIncoming lists message files addressed to us, skipping locked ones.
func (m *Manager) ScanIncoming(ctx context.Context) ([]string, error) {
	entries, err := m.driver.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to scan drop location: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir || !m.naming.IsIncoming(entry.Name) {
			continue
		}
		locked, err := m.locker.IsLocked(ctx, m.lockKey(entry.Name))
		if err != nil {
			return nil, fmt.Errorf("failed to check lock on %s: %w", entry.Name, err)
		}
		if locked {
			m.logger.Debug("skipping locked file", "file", entry.Name)
			continue
		}
		names = append(names, entry.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Lock acquires the file lock or fails with a FileError{locked}.
func (m *Manager) Lock(ctx context.Context, name string) (lock.FileLock, error) {
	fl, err := m.locker.Lock(ctx, m.lockKey(name))
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyLocked) {
			return lock.FileLock{}, &FileError{Reason: ReasonLocked, File: name, Err: err}
		}
		return lock.FileLock{}, fmt.Errorf("failed to lock %s: %w", name, err)
	}
	return fl, nil
}

// Unlock releases a lock obtained from Lock.
func (m *Manager) Unlock(ctx context.Context, fl lock.FileLock) error {
	return m.locker.Unlock(ctx, fl)
}

// Download reads and validates a message file. Size is checked before any
// content is transferred.
func (m *Manager) Download(ctx context.Context, name string) ([]byte, error) {
	if !hasXMLExtension(name) {
		return nil, &FileError{Reason: ReasonInvalidExtension, File: name}
	}

	info, err := m.driver.Stat(ctx, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &FileError{Reason: ReasonNotFound, File: name, Err: err}
		}
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if info.Size > m.maxSize {
		return nil, &FileError{
			Reason: ReasonTooLarge,
			File:   name,
			Err:    fmt.Errorf("file is %d bytes, limit is %d", info.Size, m.maxSize),
		}
	}

	data, err := m.driver.ReadFile(ctx, name, m.maxSize)
	switch {
	case errors.Is(err, errReadLimit):
		return nil, &FileError{Reason: ReasonTooLarge, File: name, Err: err}
	case errors.Is(err, fs.ErrNotExist):
		return nil, &FileError{Reason: ReasonNotFound, File: name, Err: err}
	case err != nil:
		return nil, fmt.Errorf("failed to download %s: %w", name, err)
	}

	content, err := ValidateContent(data)
	if err != nil {
		return nil, &FileError{Reason: ReasonMalformedContent, File: name, Err: err}
	}
	return content, nil
}

// Upload validates data and publishes it under name. The content is written to
// a uniquely named temporary file first and renamed into place, so readers
// never observe a partial message.
func (m *Manager) Upload(ctx context.Context, name string, data []byte) error {
	if !hasXMLExtension(name) {
		return &FileError{Reason: ReasonInvalidExtension, File: name}
	}
	if int64(len(data)) > m.maxSize {
		return &FileError{
			Reason: ReasonTooLarge,
			File:   name,
			Err:    fmt.Errorf("file is %d bytes, limit is %d", len(data), m.maxSize),
		}
	}
	if _, err := ValidateContent(data); err != nil {
		return &FileError{Reason: ReasonMalformedContent, File: name, Err: err}
	}

	tmp := fmt.Sprintf("%s.%s.tmp", name, uuid.NewString())
	if err := m.driver.WriteFile(ctx, tmp, data); err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	if err := m.driver.Rename(ctx, tmp, name); err != nil {
		if rmErr := m.driver.Remove(ctx, tmp); rmErr != nil {
			m.logger.Warn("failed to remove temporary upload", "file", tmp, "error", rmErr)
		}
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	m.logger.Info("uploaded message file", "file", name, "bytes", len(data))
	return nil
}

// Archive copies a processed file under the date-partitioned archive tree and
// removes the original. It returns the archive path. Failing to remove the
// original is only logged.
func (m *Manager) Archive(ctx context.Context, name string) (string, error) {
	dest := ArchivePath(name, m.now())
	if err := m.driver.MkdirAll(ctx, path.Dir(dest)); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}
	data, err := m.driver.ReadFile(ctx, name, 0)
	if err != nil {
		return "", fmt.Errorf("failed to read %s for archiving: %w", name, err)
	}
	if err := m.driver.WriteFile(ctx, dest, data); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", name, err)
	}
	if err := m.driver.Remove(ctx, name); err != nil {
		m.logger.Warn("archived file could not be removed", "file", name, "archive", dest, "error", err)
	}
	return dest, nil
}

// Close releases the driver.
func (m *Manager) Close() error {
	return m.driver.Close()
}
