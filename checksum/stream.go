package checksum

import (
	"io"

	"github.com/martin-sucha/ziparchive/errs"
)

const skipBufferSize = 512

// Reader feeds every byte read through it to an Accumulator exactly once.
type Reader struct {
	r   io.Reader
	acc Accumulator
	buf []byte // scratch space for Skip
}

// NewReader returns a Reader reading from r and updating acc.
func NewReader(r io.Reader, acc Accumulator) *Reader {
	return &Reader{r: r, acc: acc}
}

// Accumulator returns the accumulator updated by the reader.
func (r *Reader) Accumulator() Accumulator { return r.acc }

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.acc.Update(p[:n])
	}
	return n, err
}

// ReadByte reads a single byte and adds it to the checksum.
func (r *Reader) ReadByte() (byte, error) {
	if br, ok := r.r.(io.ByteReader); ok {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		r.acc.UpdateByte(b)
		return b, nil
	}
	var one [1]byte
	if _, err := io.ReadFull(r, one[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return 0, err
	}
	return one[0], nil
}

// Skip discards up to n bytes. Skipped bytes are still consumed from the
// underlying reader and added to the checksum. It returns the number of
// bytes skipped; fewer than n only together with an error (io.EOF when the
// input ended).
func (r *Reader) Skip(n int64) (int64, error) {
	if n < 0 {
		return 0, errs.Usagef("checksum: negative skip %d", n)
	}
	if r.buf == nil {
		r.buf = make([]byte, skipBufferSize)
	}
	var skipped int64
	for skipped < n {
		chunk := r.buf
		if rem := n - skipped; rem < int64(len(chunk)) {
			chunk = chunk[:rem]
		}
		m, err := r.Read(chunk)
		skipped += int64(m)
		if err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

// Writer feeds every byte accepted by the underlying writer to an
// Accumulator exactly once.
type Writer struct {
	w   io.Writer
	acc Accumulator
}

// NewWriter returns a Writer writing to w and updating acc.
func NewWriter(w io.Writer, acc Accumulator) *Writer {
	return &Writer{w: w, acc: acc}
}

// Accumulator returns the accumulator updated by the writer.
func (w *Writer) Accumulator() Accumulator { return w.acc }

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if n > 0 {
		w.acc.Update(p[:n])
	}
	return n, err
}
