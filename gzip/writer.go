package gzip

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/martin-sucha/ziparchive/checksum"
	"github.com/martin-sucha/ziparchive/codec"
	"github.com/martin-sucha/ziparchive/errs"
)

const drainBufferSize = 4096

type writerConfig struct {
	level   int
	modTime time.Time
}

// Option configures a Writer.
type Option func(*writerConfig)

// WithLevel sets the compression level, see the codec package constants.
func WithLevel(level int) Option {
	return func(c *writerConfig) { c.level = level }
}

// WithModTime sets the MTIME header field.
func WithModTime(t time.Time) Option {
	return func(c *writerConfig) { c.modTime = t }
}

// Writer compresses everything written to it into a single GZIP member.
// The header carries no optional fields.
type Writer struct {
	w           io.Writer
	cfg         writerConfig
	def         *codec.Deflater
	crc         checksum.Accumulator
	size        uint32
	buf         []byte
	wroteHeader bool
	finished    bool
	closed      bool
	err         error
}

// NewWriter returns a Writer compressing to w.
func NewWriter(w io.Writer, opts ...Option) (*Writer, error) {
	cfg := writerConfig{level: codec.DefaultCompression}
	for _, opt := range opts {
		opt(&cfg)
	}
	def, err := codec.NewDeflater(codec.WithLevel(cfg.level))
	if err != nil {
		return nil, err
	}
	return &Writer{
		w:   w,
		cfg: cfg,
		def: def,
		crc: checksum.NewCRC32(),
		buf: make([]byte, drainBufferSize),
	}, nil
}

func (z *Writer) writeHeader() error {
	var hdr [headerLen]byte
	hdr[0] = gzipID1
	hdr[1] = gzipID2
	hdr[2] = gzipDeflate
	// hdr[3], the flags, stays zero: no optional fields.
	if !z.cfg.modTime.IsZero() && z.cfg.modTime.Unix() > 0 {
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(z.cfg.modTime.Unix()))
	}
	switch z.cfg.level {
	case codec.BestCompression:
		hdr[8] = 2
	case codec.BestSpeed:
		hdr[8] = 4
	}
	hdr[9] = osUnknown
	z.wroteHeader = true
	_, err := z.w.Write(hdr[:])
	return err
}

// drain moves compressed bytes from the codec to the underlying writer.
func (z *Writer) drain() error {
	for !z.def.NeedsInput() && !z.def.Finished() {
		n, err := z.def.Deflate(z.buf)
		if err != nil {
			return err
		}
		if _, err := z.w.Write(z.buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

func (z *Writer) check() error {
	switch {
	case z.closed:
		return errs.ErrClosed
	case z.finished:
		return errs.Usagef("gzip: write after finish")
	}
	return z.err
}

func (z *Writer) Write(p []byte) (int, error) {
	if err := z.check(); err != nil {
		return 0, err
	}
	if !z.wroteHeader {
		if z.err = z.writeHeader(); z.err != nil {
			return 0, z.err
		}
	}
	z.crc.Update(p)
	z.size += uint32(len(p))
	if z.err = z.def.SetInput(p); z.err != nil {
		return 0, z.err
	}
	if z.err = z.drain(); z.err != nil {
		return 0, z.err
	}
	return len(p), nil
}

// Flush writes everything compressed so far, with a sync marker, to the
// underlying writer.
func (z *Writer) Flush() error {
	if err := z.check(); err != nil {
		return err
	}
	if !z.wroteHeader {
		if z.err = z.writeHeader(); z.err != nil {
			return z.err
		}
	}
	if z.err = z.def.Flush(); z.err != nil {
		return z.err
	}
	z.err = z.drain()
	return z.err
}

// Finish completes the member: the codec is drained and the trailer
// (CRC-32, then size modulo 2^32, little-endian) is written. The underlying
// writer is not closed.
func (z *Writer) Finish() error {
	if z.closed {
		return errs.ErrClosed
	}
	if z.finished {
		return z.err
	}
	if z.err != nil {
		return z.err
	}
	if !z.wroteHeader {
		if z.err = z.writeHeader(); z.err != nil {
			return z.err
		}
	}
	z.finished = true
	if z.err = z.def.Finish(); z.err != nil {
		return z.err
	}
	if z.err = z.drain(); z.err != nil {
		return z.err
	}
	var trailer [trailerLen]byte
	binary.LittleEndian.PutUint32(trailer[:4], z.crc.Value())
	binary.LittleEndian.PutUint32(trailer[4:], z.size)
	_, err := z.w.Write(trailer[:])
	z.err = errors.Wrap(err, "gzip: write trailer")
	return z.err
}

// Close finishes the member if needed and releases the codec. It is safe to
// call more than once.
func (z *Writer) Close() error {
	if z.closed {
		return nil
	}
	var result *multierror.Error
	if !z.finished {
		if err := z.Finish(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	z.closed = true
	if err := z.def.End(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
