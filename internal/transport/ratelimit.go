package transport

import (
	"context"

	"golang.org/x/time/rate"
)

type rateLimitedDriver struct {
	next    Driver
	limiter *rate.Limiter
}

// RateLimited throttles every remote operation of next through limiter.
func RateLimited(next Driver, limiter *rate.Limiter) Driver {
	return &rateLimitedDriver{next: next, limiter: limiter}
}

func (d *rateLimitedDriver) List(ctx context.Context, dir string) ([]FileInfo, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return d.next.List(ctx, dir)
}

func (d *rateLimitedDriver) Stat(ctx context.Context, name string) (FileInfo, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return FileInfo{}, err
	}
	return d.next.Stat(ctx, name)
}

func (d *rateLimitedDriver) ReadFile(ctx context.Context, name string, limit int64) ([]byte, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return d.next.ReadFile(ctx, name, limit)
}

func (d *rateLimitedDriver) WriteFile(ctx context.Context, name string, data []byte) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.next.WriteFile(ctx, name, data)
}

func (d *rateLimitedDriver) Rename(ctx context.Context, from, to string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.next.Rename(ctx, from, to)
}

func (d *rateLimitedDriver) Remove(ctx context.Context, name string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.next.Remove(ctx, name)
}

func (d *rateLimitedDriver) MkdirAll(ctx context.Context, dir string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.next.MkdirAll(ctx, dir)
}

func (d *rateLimitedDriver) Close() error { return d.next.Close() }
