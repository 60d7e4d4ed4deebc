package transport

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/spf13/afero"
)

// FSDriver serves a drop location from an afero filesystem: a local directory
// in dev deployments, an in-memory filesystem in tests.
type FSDriver struct {
	fs afero.Fs
}

// NewFSDriver wraps fs; paths are resolved from its root.
func NewFSDriver(fs afero.Fs) *FSDriver {
	return &FSDriver{fs: fs}
}

// NewLocalDriver serves dir from the OS filesystem, creating it when missing.
func NewLocalDriver(dir string) (*FSDriver, error) {
	if dir == "" {
		return nil, fmt.Errorf("local transport requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create drop directory %s: %w", dir, err)
	}
	return NewFSDriver(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

func (d *FSDriver) abs(name string) string {
	return path.Join("/", cleanPath(name))
}

func (d *FSDriver) List(_ context.Context, dir string) ([]FileInfo, error) {
	entries, err := afero.ReadDir(d.fs, d.abs(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", dir, err)
	}
	infos := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		infos = append(infos, FileInfo{
			Name:    entry.Name(),
			Size:    entry.Size(),
			ModTime: entry.ModTime(),
			IsDir:   entry.IsDir(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (d *FSDriver) Stat(_ context.Context, name string) (FileInfo, error) {
	info, err := d.fs.Stat(d.abs(name))
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return FileInfo{Name: info.Name(), Size: info.Size(), ModTime: info.ModTime(), IsDir: info.IsDir()}, nil
}

func (d *FSDriver) ReadFile(_ context.Context, name string, limit int64) ([]byte, error) {
	f, err := d.fs.Open(d.abs(name))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()
	return readLimited(f, name, limit)
}

func (d *FSDriver) WriteFile(_ context.Context, name string, data []byte) error {
	if err := afero.WriteFile(d.fs, d.abs(name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (d *FSDriver) Rename(_ context.Context, from, to string) error {
	if err := d.fs.Rename(d.abs(from), d.abs(to)); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", from, to, err)
	}
	return nil
}

func (d *FSDriver) Remove(_ context.Context, name string) error {
	if err := d.fs.Remove(d.abs(name)); err != nil {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

func (d *FSDriver) MkdirAll(_ context.Context, dir string) error {
	if err := d.fs.MkdirAll(d.abs(dir), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

func (d *FSDriver) Close() error { return nil }
