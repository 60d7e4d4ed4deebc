package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/textproto"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
)

const defaultFTPTimeout = 30 * time.Second

// FTPConfig holds the connection settings of an FTP drop location.
type FTPConfig struct {
	Address  string
	User     string
	Password string
	Dir      string
	TLS      bool
	Timeout  time.Duration
}

// FTPDriver talks to an FTP server over one lazily dialed control connection.
// Operations are serialized because a control connection carries one transfer
// at a time.
type FTPDriver struct {
	cfg  FTPConfig
	mu   sync.Mutex
	conn *ftp.ServerConn
}

// NewFTPDriver creates a driver; the connection is opened on first use.
func NewFTPDriver(cfg FTPConfig) *FTPDriver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFTPTimeout
	}
	if cfg.Address != "" && !strings.Contains(cfg.Address, ":") {
		cfg.Address = net.JoinHostPort(cfg.Address, "21")
	}
	return &FTPDriver{cfg: cfg}
}

func (d *FTPDriver) remote(name string) string {
	return path.Join("/", cleanPath(d.cfg.Dir), cleanPath(name))
}

func (d *FTPDriver) connect(ctx context.Context) (*ftp.ServerConn, error) {
	if d.conn != nil {
		return d.conn, nil
	}
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(d.cfg.Timeout),
	}
	if d.cfg.TLS {
		host, _, _ := net.SplitHostPort(d.cfg.Address)
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}))
	}
	conn, err := ftp.Dial(d.cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ftp %s: %w", d.cfg.Address, err)
	}
	if err := conn.Login(d.cfg.User, d.cfg.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("failed to log in to ftp %s: %w", d.cfg.Address, err)
	}
	d.conn = conn
	return conn, nil
}

// do runs op on the shared connection. A failure that is not a server reply
// drops the connection so the next call redials.
func (d *FTPDriver) do(ctx context.Context, op func(*ftp.ServerConn) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	conn, err := d.connect(ctx)
	if err != nil {
		return err
	}
	err = op(conn)
	if err != nil {
		var reply *textproto.Error
		if !errors.As(err, &reply) {
			_ = d.conn.Quit()
			d.conn = nil
		}
	}
	return err
}

func notFound(err error) error {
	var reply *textproto.Error
	if errors.As(err, &reply) && reply.Code == ftp.StatusFileUnavailable {
		return fmt.Errorf("%w: %v", fs.ErrNotExist, err)
	}
	return err
}

func (d *FTPDriver) List(ctx context.Context, dir string) ([]FileInfo, error) {
	var infos []FileInfo
	err := d.do(ctx, func(conn *ftp.ServerConn) error {
		entries, err := conn.List(d.remote(dir))
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.Name == "." || entry.Name == ".." {
				continue
			}
			infos = append(infos, FileInfo{
				Name:    path.Base(entry.Name),
				Size:    int64(entry.Size),
				ModTime: entry.Time,
				IsDir:   entry.Type == ftp.EntryTypeFolder,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", dir, notFound(err))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (d *FTPDriver) Stat(ctx context.Context, name string) (FileInfo, error) {
	var size int64
	err := d.do(ctx, func(conn *ftp.ServerConn) error {
		var err error
		size, err = conn.FileSize(d.remote(name))
		return err
	})
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to stat %s: %w", name, notFound(err))
	}
	return FileInfo{Name: path.Base(name), Size: size}, nil
}

func (d *FTPDriver) ReadFile(ctx context.Context, name string, limit int64) ([]byte, error) {
	var data []byte
	err := d.do(ctx, func(conn *ftp.ServerConn) error {
		resp, err := conn.Retr(d.remote(name))
		if err != nil {
			return err
		}
		data, err = readLimited(resp, name, limit)
		closeErr := resp.Close()
		if err != nil {
			return err
		}
		return closeErr
	})
	if err != nil {
		if errors.Is(err, errReadLimit) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, notFound(err))
	}
	return data, nil
}

func (d *FTPDriver) WriteFile(ctx context.Context, name string, data []byte) error {
	err := d.do(ctx, func(conn *ftp.ServerConn) error {
		return conn.Stor(d.remote(name), bytes.NewReader(data))
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (d *FTPDriver) Rename(ctx context.Context, from, to string) error {
	err := d.do(ctx, func(conn *ftp.ServerConn) error {
		return conn.Rename(d.remote(from), d.remote(to))
	})
	if err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", from, to, notFound(err))
	}
	return nil
}

func (d *FTPDriver) Remove(ctx context.Context, name string) error {
	err := d.do(ctx, func(conn *ftp.ServerConn) error {
		return conn.Delete(d.remote(name))
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", name, notFound(err))
	}
	return nil
}

// MkdirAll creates every missing segment of dir. MakeDir replies for segments
// that already exist are ignored.
func (d *FTPDriver) MkdirAll(ctx context.Context, dir string) error {
	return d.do(ctx, func(conn *ftp.ServerConn) error {
		current := path.Join("/", cleanPath(d.cfg.Dir))
		for _, segment := range strings.Split(cleanPath(dir), "/") {
			if segment == "" {
				continue
			}
			current = path.Join(current, segment)
			if err := conn.MakeDir(current); err != nil {
				var reply *textproto.Error
				if !errors.As(err, &reply) {
					return fmt.Errorf("failed to create %s: %w", current, err)
				}
			}
		}
		return nil
	})
}

func (d *FTPDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Quit()
	d.conn = nil
	return err
}
