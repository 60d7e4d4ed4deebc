package transport

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rmskTV/advPlanner-sub000/internal/domain"
)

// FileInfo describes one entry of the drop location.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Driver is the remote-filesystem protocol behind a connector's drop location.
// Paths are slash separated and relative to the connector's root directory.
// Missing files are reported with errors matching fs.ErrNotExist.
type Driver interface {
	List(ctx context.Context, dir string) ([]FileInfo, error)
	Stat(ctx context.Context, name string) (FileInfo, error)
	// ReadFile fails with an error wrapping errReadLimit when the file is larger
	// than limit bytes. A limit <= 0 disables the check.
	ReadFile(ctx context.Context, name string, limit int64) ([]byte, error)
	WriteFile(ctx context.Context, name string, data []byte) error
	Rename(ctx context.Context, from, to string) error
	Remove(ctx context.Context, name string) error
	MkdirAll(ctx context.Context, dir string) error
	Close() error
}

// Open builds the driver described by settings, throttled when a rate limit is set.
func Open(ctx context.Context, settings domain.TransportSettings) (Driver, error) {
	var (
		driver Driver
		err    error
	)
	switch settings.Kind {
	case domain.TransportFTP:
		driver = NewFTPDriver(FTPConfig{
			Address:  settings.Address,
			User:     settings.User,
			Password: settings.Password,
			Dir:      settings.Dir,
			TLS:      settings.TLS,
		})
	case domain.TransportLocal, "":
		driver, err = NewLocalDriver(settings.Dir)
	case domain.TransportS3:
		driver, err = NewS3Driver(ctx, S3Config{
			Bucket:    settings.Bucket,
			Region:    settings.Region,
			Endpoint:  settings.Endpoint,
			Prefix:    settings.Dir,
			AccessKey: settings.User,
			SecretKey: settings.Password,
		})
	default:
		return nil, fmt.Errorf("unsupported transport kind %q", settings.Kind)
	}
	if err != nil {
		return nil, err
	}
	if settings.RateLimit > 0 {
		driver = RateLimited(driver, rate.NewLimiter(rate.Limit(settings.RateLimit), 1))
	}
	return driver, nil
}

func cleanPath(name string) string {
	cleaned := path.Clean("/" + strings.TrimSpace(name))
	return strings.TrimPrefix(cleaned, "/")
}

func readLimited(r io.Reader, name string, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s is larger than %d bytes: %w", name, limit, errReadLimit)
	}
	return data, nil
}
