package enterprisedata

import "time"

const (
	// DefaultMaxSize bounds inbound and outbound documents.
	DefaultMaxSize int64 = 50 << 20
	// DefaultVersion is the EnterpriseData version used when a header names none.
	DefaultVersion = "1.8"

	maxNestingDepth = 64
)

// Codec converts between EnterpriseData XML documents and Messages. It holds no
// state besides its options and is safe for concurrent use.
type Codec struct {
	maxSize      int64
	sectionHints map[string]struct{}
	now          func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithMaxSize overrides the document size limit in bytes.
func WithMaxSize(size int64) Option {
	return func(c *Codec) {
		if size > 0 {
			c.maxSize = size
		}
	}
}

// WithTabularSections marks element names that are always tabular sections,
// even with a single row. Other elements fall back to the repeating-row heuristic.
func WithTabularSections(names ...string) Option {
	return func(c *Codec) {
		for _, name := range names {
			if name != "" {
				c.sectionHints[name] = struct{}{}
			}
		}
	}
}

// WithClock overrides the clock used for CreationDate.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec creates a codec with the given options.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		maxSize:      DefaultMaxSize,
		sectionHints: map[string]struct{}{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxSize returns the configured document size limit.
func (c *Codec) MaxSize() int64 {
	return c.maxSize
}
