package ziparchive

import (
	"go.uber.org/zap"

	"github.com/martin-sucha/ziparchive/codec"
)

type options struct {
	logger     *zap.Logger
	level      int
	bufferSize int
	newEntry   func(name string) *FileHeader
}

func newOptions(opts []Option) options {
	o := options{
		logger:     zap.NewNop(),
		level:      codec.DefaultCompression,
		bufferSize: codec.DefaultWindowSize,
		newEntry:   func(name string) *FileHeader { return &FileHeader{Name: name} },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a ZipFile, StreamReader or StreamWriter.
type Option func(*options)

// WithLogger sets the logger for debug events. The default discards
// everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLevel sets the compression level used by StreamWriter for DEFLATE
// entries.
func WithLevel(level int) Option {
	return func(o *options) { o.level = level }
}

// WithBufferSize sets the size of the read-ahead window of the DEFLATE
// decoder. It bounds how far a StreamReader reads past the end of an entry's
// compressed data.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithEntryFactory sets the function StreamReader uses to allocate the header
// for each entry it reads. The returned header must have Name set to name.
func WithEntryFactory(newEntry func(name string) *FileHeader) Option {
	return func(o *options) {
		if newEntry != nil {
			o.newEntry = newEntry
		}
	}
}
