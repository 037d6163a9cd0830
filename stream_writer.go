package ziparchive

import (
	"io"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/martin-sucha/ziparchive/checksum"
	"github.com/martin-sucha/ziparchive/codec"
	"github.com/martin-sucha/ziparchive/errs"
)

// StreamWriter writes a ZIP archive to a plain io.Writer, entry by entry.
//
// DEFLATE entries are written with their CRC32 and sizes in a data
// descriptor after the data. Stored entries must declare CRC32 and sizes in
// the header passed to CreateHeader, as the local header is written first.
type StreamWriter struct {
	cw      *countWriter
	opts    options
	dir     []*FileHeader
	comment string

	cur     *FileHeader
	body    *checksum.Writer
	sink    *deflateSink    // nil for stored entries
	def     *codec.Deflater // reused across entries
	written int64
	start   int64 // offset of the current entry data

	err    error
	closed bool
}

// NewStreamWriter returns a StreamWriter writing to w. Closing the
// StreamWriter does not close w.
func NewStreamWriter(w io.Writer, opts ...Option) *StreamWriter {
	return &StreamWriter{
		cw:   &countWriter{w: w},
		opts: newOptions(opts),
	}
}

// SetComment sets the archive comment written by Close.
func (z *StreamWriter) SetComment(comment string) error {
	if z.closed {
		return errs.ErrClosed
	}
	if len(comment) > uint16max {
		return errLongComment
	}
	z.comment = comment
	return nil
}

// Create adds an entry with the given name, compressed with DEFLATE.
func (z *StreamWriter) Create(name string) error {
	return z.CreateHeader(&FileHeader{Name: name, Method: Deflate})
}

// CreateHeader closes the current entry and writes the local header of a
// new one. The StreamWriter owns fh until the next entry is created; its
// CRC32 and sizes are filled in when the entry is closed.
func (z *StreamWriter) CreateHeader(fh *FileHeader) error {
	if z.closed {
		return errs.ErrClosed
	}
	if fh == nil {
		return errs.Usagef("zip: nil header")
	}
	if z.cur != nil {
		if err := z.CloseEntry(); err != nil {
			return err
		}
	}
	if z.err != nil {
		return z.err
	}
	if fh.Method != Store && fh.Method != Deflate {
		return errs.Unsupportedf("zip: unsupported compression method %d for %s", fh.Method, fh.Name)
	}
	if len(fh.Comment) > uint16max {
		return errLongComment
	}
	// fh is left untouched when it is rejected.
	if !fh.IsDir() && fh.Method == Store && fh.CompressedSize != fh.UncompressedSize {
		return errs.Usagef("zip: stored entry %s declares compressed size %d and size %d",
			fh.Name, fh.CompressedSize, fh.UncompressedSize)
	}
	if z.cw.count > uint32max {
		return errTooLarge
	}
	prepareEntry(fh)
	switch {
	case fh.IsDir():
	case fh.Method == Deflate:
		fh.Flags |= flagDataDescriptor
		fh.CRC32 = 0
		fh.CompressedSize = 0
		fh.UncompressedSize = 0
	default:
		fh.Flags &^= flagDataDescriptor
	}
	fh.offset = z.cw.count
	if err := writeHeader(z.cw, fh); err != nil {
		z.err = err
		return err
	}

	var sink io.Writer = z.cw
	z.sink = nil
	if fh.Method == Deflate && !fh.IsDir() {
		if z.def == nil {
			def, err := codec.NewDeflater(codec.WithLevel(z.opts.level))
			if err != nil {
				return err
			}
			z.def = def
		} else if err := z.def.Reset(); err != nil {
			return err
		}
		z.sink = &deflateSink{def: z.def, w: z.cw, buf: make([]byte, skipBufferSize)}
		sink = z.sink
	}
	z.body = checksum.NewWriter(sink, checksum.NewCRC32())
	z.cur = fh
	z.written = 0
	z.start = z.cw.count
	z.opts.logger.Debug("started entry",
		zap.String("name", fh.Name),
		zap.Uint16("method", fh.Method),
		zap.Int64("offset", fh.offset))
	return nil
}

// Write writes entry data to the current entry.
func (z *StreamWriter) Write(p []byte) (int, error) {
	switch {
	case z.closed:
		return 0, errs.ErrClosed
	case z.err != nil:
		return 0, z.err
	case z.cur == nil:
		return 0, errs.Usagef("zip: write with no current entry")
	case z.cur.IsDir() && len(p) > 0:
		return 0, errs.Usagef("zip: write to directory %s", z.cur.Name)
	case z.written+int64(len(p)) > uint32max:
		return 0, errTooLarge
	case z.cur.Method == Store && z.written+int64(len(p)) > int64(z.cur.UncompressedSize):
		return 0, errs.Usagef("zip: write past the declared size %d of %s", z.cur.UncompressedSize, z.cur.Name)
	}
	n, err := z.body.Write(p)
	z.written += int64(n)
	if err != nil {
		z.err = err
	}
	return n, err
}

// CloseEntry completes the current entry. For DEFLATE entries the CRC32 and
// sizes are stored in the header and written in a data descriptor; stored
// entries are checked against their declared values.
func (z *StreamWriter) CloseEntry() error {
	if z.closed {
		return errs.ErrClosed
	}
	if z.err != nil {
		return z.err
	}
	if z.cur == nil {
		return nil
	}
	fh := z.cur
	z.cur = nil
	crc := z.body.Accumulator().Value()
	if z.sink != nil {
		if err := z.sink.finish(); err != nil {
			z.err = err
			return err
		}
	}
	compressed := z.cw.count - z.start
	if compressed > uint32max {
		z.err = errTooLarge
		return z.err
	}
	switch {
	case fh.HasDataDescriptor():
		fh.CRC32 = crc
		fh.CompressedSize = uint32(compressed)
		fh.UncompressedSize = uint32(z.written)
		if _, err := z.cw.Write(dataDescriptor(fh)); err != nil {
			z.err = err
			return err
		}
	case !fh.IsDir():
		if crc != fh.CRC32 || z.written != int64(fh.UncompressedSize) {
			// The local header is already out, so the archive is broken.
			z.err = errs.Formatf("zip: stored entry %s: wrote %d bytes with CRC %#08x, declared %d bytes with CRC %#08x",
				fh.Name, z.written, crc, fh.UncompressedSize, fh.CRC32)
			return z.err
		}
	}
	z.dir = append(z.dir, fh)
	z.opts.logger.Debug("closed entry",
		zap.String("name", fh.Name),
		zap.Uint32("crc32", fh.CRC32),
		zap.Uint32("compressedSize", fh.CompressedSize),
		zap.Uint32("uncompressedSize", fh.UncompressedSize))
	return nil
}

// Close closes the current entry and writes the central directory. It does
// not close the underlying writer and is safe to call more than once.
func (z *StreamWriter) Close() error {
	if z.closed {
		return nil
	}
	var result *multierror.Error
	if err := z.CloseEntry(); err != nil {
		result = multierror.Append(result, err)
	} else if err := writeCentralDirectory(z.cw.count, z.dir, z.cw, z.comment); err != nil {
		result = multierror.Append(result, err)
	} else {
		z.opts.logger.Debug("wrote central directory", zap.Int("entries", len(z.dir)), zap.Int64("size", z.cw.count))
	}
	if z.def != nil {
		if err := z.def.End(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	z.closed = true
	return result.ErrorOrNil()
}

// deflateSink compresses what is written to it into w.
type deflateSink struct {
	def *codec.Deflater
	w   io.Writer
	buf []byte
}

func (s *deflateSink) Write(p []byte) (int, error) {
	if err := s.def.SetInput(p); err != nil {
		return 0, err
	}
	if err := s.drain(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *deflateSink) drain() error {
	for !s.def.NeedsInput() && !s.def.Finished() {
		n, err := s.def.Deflate(s.buf)
		if err != nil {
			return err
		}
		if _, err := s.w.Write(s.buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

func (s *deflateSink) finish() error {
	if err := s.def.Finish(); err != nil {
		return err
	}
	return s.drain()
}
