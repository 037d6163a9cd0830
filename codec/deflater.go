package codec

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"

	"github.com/martin-sucha/ziparchive/errs"
)

type encoder interface {
	io.WriteCloser
	Flush() error
	Reset(w io.Writer)
}

// Deflater is a DEFLATE encoding session.
type Deflater struct {
	mu        sync.Mutex
	enc       encoder
	pending   bytes.Buffer // compressed bytes not yet drained
	finishing bool
	ended     bool
	in, out   int64
}

// NewDeflater starts an encoding session.
func NewDeflater(opts ...Option) (*Deflater, error) {
	c := newConfig(opts)
	d := &Deflater{}
	var err error
	switch {
	case c.zlib:
		d.enc, err = zlib.NewWriterLevelDict(&d.pending, c.level, c.dict)
	case c.dict != nil:
		d.enc, err = flate.NewWriterDict(&d.pending, c.level, c.dict)
	default:
		d.enc, err = flate.NewWriter(&d.pending, c.level)
	}
	if err != nil {
		return nil, errs.Usagef("codec: %v", err)
	}
	return d, nil
}

// SetInput compresses p. The compressed form becomes available to Deflate.
func (d *Deflater) SetInput(p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ended {
		return errs.ErrClosed
	}
	if d.finishing {
		return errs.Usagef("codec: input after finish")
	}
	if _, err := d.enc.Write(p); err != nil {
		return errors.Wrap(err, "codec: deflate")
	}
	d.in += int64(len(p))
	return nil
}

// NeedsInput reports whether all compressed output produced so far has been
// drained and more input may be supplied.
func (d *Deflater) NeedsInput() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.finishing && d.pending.Len() == 0
}

// Flush emits a sync flush marker so that everything supplied so far can be
// decoded by a reader.
func (d *Deflater) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ended {
		return errs.ErrClosed
	}
	if d.finishing {
		return nil
	}
	return errors.Wrap(d.enc.Flush(), "codec: flush")
}

// Finish signals the end of input. The final block becomes available to
// Deflate.
func (d *Deflater) Finish() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ended {
		return errs.ErrClosed
	}
	if d.finishing {
		return nil
	}
	d.finishing = true
	return errors.Wrap(d.enc.Close(), "codec: finish")
}

// Deflate copies pending compressed bytes into out.
func (d *Deflater) Deflate(out []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ended {
		return 0, errs.ErrClosed
	}
	n, _ := d.pending.Read(out) // io.EOF on an empty buffer only
	d.out += int64(n)
	return n, nil
}

// Finished reports whether Finish was called and all output was drained.
func (d *Deflater) Finished() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finishing && d.pending.Len() == 0
}

// TotalIn returns the number of uncompressed bytes supplied.
func (d *Deflater) TotalIn() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.in
}

// TotalOut returns the number of compressed bytes drained.
func (d *Deflater) TotalOut() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.out
}

// Reset discards all state so the session can encode a new stream with the
// same settings.
func (d *Deflater) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ended {
		return errs.ErrClosed
	}
	d.pending.Reset()
	d.enc.Reset(&d.pending)
	d.finishing = false
	d.in, d.out = 0, 0
	return nil
}

// End releases the session. It is safe to call more than once.
func (d *Deflater) End() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ended {
		return nil
	}
	d.ended = true
	d.enc = nil
	d.pending = bytes.Buffer{}
	return nil
}
