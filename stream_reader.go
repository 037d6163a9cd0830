package ziparchive

import (
	"encoding/binary"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/martin-sucha/ziparchive/checksum"
	"github.com/martin-sucha/ziparchive/codec"
	"github.com/martin-sucha/ziparchive/errs"
)

// skipBufferSize is the chunk size CloseEntry drains an entry with.
const skipBufferSize = 4096

// maxConsecutiveEmptyReads bounds how long CloseEntry waits on a source
// that returns no data and no error.
const maxConsecutiveEmptyReads = 100

// pushbackReader lets bytes read ahead of a record boundary be returned to
// the stream.
type pushbackReader struct {
	r      io.Reader
	pushed []byte
	offset int64 // position of the next byte Read returns
}

func (p *pushbackReader) Read(b []byte) (int, error) {
	if len(p.pushed) > 0 {
		n := copy(b, p.pushed)
		p.pushed = p.pushed[n:]
		p.offset += int64(n)
		return n, nil
	}
	n, err := p.r.Read(b)
	p.offset += int64(n)
	return n, err
}

func (p *pushbackReader) unread(b []byte) {
	if len(b) == 0 {
		return
	}
	p.pushed = append(append(make([]byte, 0, len(b)+len(p.pushed)), b...), p.pushed...)
	p.offset -= int64(len(b))
}

// StreamReader reads a ZIP archive front to back from its local headers,
// without access to the central directory.
//
// Entries whose sizes are deferred to a data descriptor are supported for
// DEFLATE only, since a stored entry has no other way to mark its end.
type StreamReader struct {
	src  *pushbackReader
	opts options

	cur      *FileHeader
	stored   *io.LimitedReader // body of a stored entry
	inf      *codec.Inflater   // body of a deflated entry
	cr       *checksum.Reader
	produced int64
	bodyDone bool  // the body and its descriptor were consumed
	entryErr error // sticky, io.EOF once bodyDone

	done   bool  // central directory reached
	err    error // stream can no longer be parsed
	closed bool
}

// NewStreamReader returns a StreamReader reading from r. Closing the
// StreamReader does not close r.
func NewStreamReader(r io.Reader, opts ...Option) *StreamReader {
	return &StreamReader{
		src:  &pushbackReader{r: r},
		opts: newOptions(opts),
	}
}

// Next advances to the next entry, closing the current one first. It
// returns io.EOF after the last entry, once the central directory is
// reached or the input ends at a record boundary.
func (z *StreamReader) Next() (*FileHeader, error) {
	if z.closed {
		return nil, errs.ErrClosed
	}
	if z.cur != nil {
		if err := z.CloseEntry(); err != nil {
			return nil, err
		}
	}
	if z.err != nil {
		return nil, z.err
	}
	if z.done {
		return nil, io.EOF
	}
	f, err := z.readHeader()
	if err != nil {
		if err != io.EOF {
			z.err = err
		}
		return nil, err
	}
	return f, nil
}

func (z *StreamReader) readHeader() (*FileHeader, error) {
	offset := z.src.offset
	var sig [4]byte
	if n, err := io.ReadFull(z.src, sig[:]); err != nil {
		if err == io.EOF && n == 0 {
			z.done = true
			z.opts.logger.Debug("input ended after last entry", zap.Int64("offset", offset))
			return nil, io.EOF
		}
		return nil, errs.FromRead(err, "record signature")
	}
	switch s := binary.LittleEndian.Uint32(sig[:]); s {
	case fileHeaderSignature:
	case directoryHeaderSignature, directoryEndSignature:
		z.done = true
		z.opts.logger.Debug("reached central directory", zap.Int64("offset", offset))
		return nil, io.EOF
	default:
		return nil, errs.Formatf("zip: bad record signature %#08x at offset %d", s, offset)
	}

	var buf [fileHeaderLen - 4]byte
	if _, err := io.ReadFull(z.src, buf[:]); err != nil {
		return nil, errs.FromRead(err, "local file header")
	}
	b := readBuf(buf[:])
	readerVersion := b.uint16()
	flags := b.uint16()
	method := b.uint16()
	modTime := b.uint16()
	modDate := b.uint16()
	crc32 := b.uint32()
	compressedSize := b.uint32()
	uncompressedSize := b.uint32()
	filenameLen := int(b.uint16())
	extraLen := int(b.uint16())
	d := make([]byte, filenameLen+extraLen)
	if _, err := io.ReadFull(z.src, d); err != nil {
		return nil, errs.FromRead(err, "local file header")
	}
	name := string(d[:filenameLen])

	f := z.opts.newEntry(name)
	f.Name = name
	f.ReaderVersion = readerVersion
	f.Flags = flags
	f.Method = method
	f.ModifiedTime = modTime
	f.ModifiedDate = modDate
	f.CRC32 = crc32
	f.CompressedSize = compressedSize
	f.UncompressedSize = uncompressedSize
	f.Extra = d[filenameLen:]
	f.NonUTF8 = flags&flagUTF8 == 0
	f.offset = offset
	f.setModified()

	if flags&flagEncrypted != 0 {
		return nil, errs.Unsupportedf("zip: entry %s is encrypted", name)
	}
	var body io.Reader
	switch method {
	case Store:
		if f.HasDataDescriptor() {
			return nil, errs.Unsupportedf("zip: stored entry %s has its sizes in a data descriptor", name)
		}
		z.stored = &io.LimitedReader{R: z.src, N: int64(compressedSize)}
		body = z.stored
	case Deflate:
		z.inf = codec.NewInflater(z.src, codec.WithWindowSize(z.opts.bufferSize))
		body = z.inf
	default:
		return nil, errs.Unsupportedf("zip: unsupported compression method %d for %s", method, name)
	}
	z.cr = checksum.NewReader(body, checksum.NewCRC32())
	z.cur = f
	z.produced = 0
	z.bodyDone = false
	z.entryErr = nil
	z.opts.logger.Debug("read local header",
		zap.String("name", name),
		zap.Int64("offset", offset),
		zap.Uint16("method", method),
		zap.Bool("dataDescriptor", f.HasDataDescriptor()))
	return f, nil
}

// Read reads the decompressed content of the current entry. At the end of
// the entry it checks the CRC and sizes and returns a format error on a
// mismatch instead of io.EOF.
func (z *StreamReader) Read(p []byte) (int, error) {
	if z.closed {
		return 0, errs.ErrClosed
	}
	if z.cur == nil {
		return 0, io.EOF
	}
	if z.entryErr != nil {
		return 0, z.entryErr
	}
	n, err := z.cr.Read(p)
	z.produced += int64(n)
	if err == io.EOF {
		if verr := z.finishBody(); verr != nil {
			err = verr
		}
	}
	if err != nil {
		z.entryErr = err
	}
	return n, err
}

// finishBody returns the decoder's read-ahead to the stream, consumes the
// data descriptor and checks the entry.
func (z *StreamReader) finishBody() error {
	f := z.cur
	var compressed int64
	if z.inf != nil {
		if unread := z.inf.Unread(); len(unread) > 0 {
			z.src.unread(unread)
			z.opts.logger.Debug("pushed back read-ahead", zap.String("name", f.Name), zap.Int("bytes", len(unread)))
		}
		compressed = z.inf.TotalIn()
	} else {
		if z.stored.N > 0 {
			return errs.Truncatedf("zip: unexpected end of input in %s, %d bytes missing", f.Name, z.stored.N)
		}
		compressed = int64(f.CompressedSize)
	}
	if f.HasDataDescriptor() {
		if err := z.readDataDescriptor(f); err != nil {
			return err
		}
	}
	z.bodyDone = true

	if got := z.cr.Accumulator().Value(); got != f.CRC32 {
		return errs.Formatf("zip: bad CRC for %s: %#08x, want %#08x", f.Name, got, f.CRC32)
	}
	if uint32(z.produced) != f.UncompressedSize || z.produced > uint32max {
		return errs.Formatf("zip: size mismatch for %s: %d bytes, want %d", f.Name, z.produced, f.UncompressedSize)
	}
	if uint32(compressed) != f.CompressedSize || compressed > uint32max {
		return errs.Formatf("zip: compressed size mismatch for %s: %d bytes, want %d", f.Name, compressed, f.CompressedSize)
	}
	return nil
}

// readDataDescriptor adopts the CRC and sizes from the descriptor following
// the entry data. The descriptor signature is optional.
func (z *StreamReader) readDataDescriptor(f *FileHeader) error {
	var buf [dataDescriptorLen]byte
	if _, err := io.ReadFull(z.src, buf[:12]); err != nil {
		return errs.FromRead(err, "data descriptor")
	}
	b := readBuf(buf[:12])
	if binary.LittleEndian.Uint32(buf[:4]) == dataDescriptorSignature {
		if _, err := io.ReadFull(z.src, buf[12:]); err != nil {
			return errs.FromRead(err, "data descriptor")
		}
		b = readBuf(buf[4:])
	}
	f.CRC32 = b.uint32()
	f.CompressedSize = b.uint32()
	f.UncompressedSize = b.uint32()
	z.opts.logger.Debug("read data descriptor",
		zap.String("name", f.Name),
		zap.Uint32("crc32", f.CRC32),
		zap.Uint32("compressedSize", f.CompressedSize),
		zap.Uint32("uncompressedSize", f.UncompressedSize))
	return nil
}

// CloseEntry skips the rest of the current entry and validates it. Next
// calls it implicitly.
func (z *StreamReader) CloseEntry() error {
	if z.closed {
		return errs.ErrClosed
	}
	if z.cur == nil {
		return nil
	}
	if z.entryErr == nil {
		buf := make([]byte, skipBufferSize)
		for empty := 0; z.entryErr == nil; {
			if n, _ := z.Read(buf); n > 0 {
				empty = 0
				continue
			}
			if empty++; empty >= maxConsecutiveEmptyReads {
				z.entryErr = errors.Wrapf(io.ErrNoProgress, "zip: skipping %s", z.cur.Name)
			}
		}
	}
	err := z.entryErr
	if err == io.EOF {
		err = nil
	}
	if err != nil && !z.bodyDone {
		// The next record cannot be located.
		z.err = err
	}
	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, err)
	}
	if z.inf != nil {
		if endErr := z.inf.End(); endErr != nil {
			result = multierror.Append(result, endErr)
		}
	}
	z.opts.logger.Debug("closed entry",
		zap.String("name", z.cur.Name),
		zap.Int64("produced", z.produced),
		zap.Error(err))
	z.cur, z.inf, z.stored, z.cr = nil, nil, nil, nil
	if result == nil {
		return nil
	}
	if len(result.Errors) == 1 {
		return result.Errors[0]
	}
	return result
}

// Close releases the current entry. It is safe to call more than once.
func (z *StreamReader) Close() error {
	if z.closed {
		return nil
	}
	var err error
	if z.inf != nil {
		err = z.inf.End()
	}
	z.cur, z.inf, z.stored, z.cr = nil, nil, nil, nil
	z.closed = true
	return err
}
