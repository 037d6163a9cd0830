// Package codec wraps DEFLATE encoding and decoding as stateful sessions with
// an explicit lifecycle.
//
// A Deflater is push style: input is supplied with SetInput and compressed
// bytes are drained with Deflate. An Inflater pulls compressed bytes from a
// source through a bounded read-ahead window; bytes pulled into the window
// but not consumed by the decoder are reported by Unread so a caller parsing
// a container format can push them back before reading the next record.
//
// Both types default to raw DEFLATE (no zlib wrapper), as used inside ZIP
// entries and GZIP members. Neither is safe for use by more than one logical
// stream; methods are serialized internally anyway.
package codec

import "github.com/klauspost/compress/flate"

// Compression levels.
const (
	NoCompression      = flate.NoCompression
	BestSpeed          = flate.BestSpeed
	BestCompression    = flate.BestCompression
	DefaultCompression = flate.DefaultCompression
	HuffmanOnly        = flate.HuffmanOnly
)

// DefaultWindowSize is the size of the inflater read-ahead window.
const DefaultWindowSize = 512

type config struct {
	level      int
	dict       []byte
	zlib       bool
	windowSize int
}

func newConfig(opts []Option) config {
	c := config{
		level:      DefaultCompression,
		windowSize: DefaultWindowSize,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Option configures a Deflater or an Inflater.
type Option func(*config)

// WithLevel sets the compression level of a Deflater.
func WithLevel(level int) Option {
	return func(c *config) { c.level = level }
}

// WithDictionary presets the dictionary.
func WithDictionary(dict []byte) Option {
	return func(c *config) { c.dict = dict }
}

// WithZlibHeader selects the zlib wrapper (RFC 1950) instead of raw DEFLATE.
func WithZlibHeader() Option {
	return func(c *config) { c.zlib = true }
}

// WithWindowSize sets the inflater read-ahead window. Values below 16 are
// raised to 16.
func WithWindowSize(n int) Option {
	return func(c *config) { c.windowSize = n }
}
