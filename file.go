package ziparchive

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go4.org/readerutil"

	"github.com/martin-sucha/ziparchive/checksum"
	"github.com/martin-sucha/ziparchive/codec"
	"github.com/martin-sucha/ziparchive/errs"
)

// ZipFile is a ZIP archive opened for random access. Its entries are listed
// from the central directory and can be read concurrently.
type ZipFile struct {
	// File lists the entries in central directory order.
	File []*FileHeader
	// Comment is the archive comment from the end record.
	Comment string

	src   *sharedSource
	names map[string]*FileHeader
	opts  options
}

// NewReader reads the central directory of the archive in r.
func NewReader(r readerutil.SizeReaderAt, opts ...Option) (*ZipFile, error) {
	size := r.Size()
	return newZipFile(io.NewSectionReader(r, 0, size), size, nil, opts)
}

// NewReadSeeker reads the central directory of the archive in rs. The
// ZipFile takes over positioning of rs; the caller must not use it until
// the ZipFile is closed.
func NewReadSeeker(rs io.ReadSeeker, opts ...Option) (*ZipFile, error) {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.Wrap(err, "zip: determine archive size")
	}
	return newZipFile(rs, size, nil, opts)
}

// OpenFile opens the named archive. Closing the ZipFile closes the file.
func OpenFile(name string, opts ...Option) (*ZipFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	z, err := newZipFile(f, fi.Size(), f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return z, nil
}

func newZipFile(rs io.ReadSeeker, size int64, closer io.Closer, opts []Option) (*ZipFile, error) {
	z := &ZipFile{
		src:  &sharedSource{rs: rs, size: size, closer: closer},
		opts: newOptions(opts),
	}
	if err := z.init(size); err != nil {
		return nil, err
	}
	return z, nil
}

func (z *ZipFile) init(size int64) error {
	endOff, err := findDirectoryEnd(z.src, size)
	if err != nil {
		return err
	}
	end, err := readDirectoryEnd(z.src, endOff, size)
	if err != nil {
		return err
	}
	z.Comment = end.comment
	z.opts.logger.Debug("located end of central directory",
		zap.Int64("offset", endOff),
		zap.Uint16("entries", end.directoryRecords),
		zap.Uint32("directoryOffset", end.directoryOffset),
		zap.Uint32("directorySize", end.directorySize))

	dir := bufio.NewReader(&sectionReader{
		src:       z.src,
		off:       int64(end.directoryOffset),
		remaining: endOff - int64(end.directoryOffset),
	})
	z.File = make([]*FileHeader, 0, end.directoryRecords)
	z.names = make(map[string]*FileHeader, end.directoryRecords)
	for i := 0; i < int(end.directoryRecords); i++ {
		f := &FileHeader{}
		if err := readDirectoryHeader(f, dir); err != nil {
			return errors.WithMessagef(err, "zip: entry %d of %d", i, end.directoryRecords)
		}
		z.File = append(z.File, f)
		if _, dup := z.names[f.Name]; !dup {
			z.names[f.Name] = f
		}
	}
	return nil
}

// Entry returns the header of the named entry, or nil. When several entries
// share a name the first one wins.
func (z *ZipFile) Entry(name string) *FileHeader {
	return z.names[name]
}

// Open returns a stream of the decompressed content of the named entry.
func (z *ZipFile) Open(name string) (io.ReadCloser, error) {
	f := z.names[name]
	if f == nil {
		return nil, &errs.Error{Kind: errs.Usage, Msg: "zip: no entry " + name, Err: os.ErrNotExist}
	}
	return z.open(f)
}

// OpenEntry is Open for a header taken from File. The header is looked up
// again by name, so a caller-modified copy cannot redirect the read.
func (z *ZipFile) OpenEntry(f *FileHeader) (io.ReadCloser, error) {
	if f == nil {
		return nil, errs.Usagef("zip: nil entry")
	}
	return z.Open(f.Name)
}

func (z *ZipFile) open(f *FileHeader) (io.ReadCloser, error) {
	if z.src.isClosed() {
		return nil, errs.ErrClosed
	}
	if f.Flags&flagEncrypted != 0 {
		return nil, errs.Unsupportedf("zip: entry %s is encrypted", f.Name)
	}
	dataOff, err := z.findBodyOffset(f)
	if err != nil {
		return nil, err
	}
	section := &sectionReader{src: z.src, off: dataOff, remaining: int64(f.CompressedSize)}
	rc := &entryReader{f: f, src: z.src}
	switch f.Method {
	case Store:
		rc.cr = checksum.NewReader(section, checksum.NewCRC32())
	case Deflate:
		rc.inf = codec.NewInflater(section, codec.WithWindowSize(z.opts.bufferSize))
		rc.cr = checksum.NewReader(rc.inf, checksum.NewCRC32())
	default:
		return nil, errs.Unsupportedf("zip: unsupported compression method %d for %s", f.Method, f.Name)
	}
	z.opts.logger.Debug("opened entry",
		zap.String("name", f.Name),
		zap.Uint16("method", f.Method),
		zap.Int64("headerOffset", f.offset),
		zap.Int64("dataOffset", dataOff))
	return rc, nil
}

// findBodyOffset returns the offset of the entry data. The name length comes
// from the central directory but the extra length is taken from the local
// header, as archives exist where the two extra fields differ.
func (z *ZipFile) findBodyOffset(f *FileHeader) (int64, error) {
	var buf [fileHeaderLen]byte
	if _, err := z.src.readAt(buf[:], f.offset); err != nil {
		return 0, errs.FromRead(err, "local file header")
	}
	if sig := binary.LittleEndian.Uint32(buf[:4]); sig != fileHeaderSignature {
		return 0, errs.Formatf("zip: bad local header signature %#08x for %s", sig, f.Name)
	}
	extraLen := int64(binary.LittleEndian.Uint16(buf[fileHeaderExtraLenOffset:]))
	return f.offset + fileHeaderLen + int64(len(f.Name)) + extraLen, nil
}

// Close releases the archive. Entry streams still open fail with
// errs.ErrClosed afterwards. Close is safe to call more than once.
func (z *ZipFile) Close() error {
	if z.src.isClosed() {
		return nil
	}
	z.opts.logger.Debug("closing archive", zap.Int("entries", len(z.File)))
	return z.src.close()
}

// entryReader yields the decompressed content of one entry and checks it
// against the central directory at the end.
type entryReader struct {
	f      *FileHeader
	src    *sharedSource
	inf    *codec.Inflater // nil for stored entries
	cr     *checksum.Reader
	nread  uint64
	err    error
	closed bool
}

func (r *entryReader) Read(p []byte) (int, error) {
	if r.closed || r.src.isClosed() {
		return 0, errs.ErrClosed
	}
	if r.err != nil {
		return 0, r.err
	}
	n, err := r.cr.Read(p)
	r.nread += uint64(n)
	if r.nread > uint64(r.f.UncompressedSize) {
		err = errs.Formatf("zip: size mismatch for %s: more than %d bytes", r.f.Name, r.f.UncompressedSize)
	} else if err == io.EOF {
		switch {
		case r.nread != uint64(r.f.UncompressedSize):
			err = errs.Formatf("zip: size mismatch for %s: %d bytes, want %d", r.f.Name, r.nread, r.f.UncompressedSize)
		case r.cr.Accumulator().Value() != r.f.CRC32:
			err = errs.Formatf("zip: bad CRC for %s: %#08x, want %#08x", r.f.Name, r.cr.Accumulator().Value(), r.f.CRC32)
		}
	}
	r.err = err
	return n, err
}

func (r *entryReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.inf != nil {
		return r.inf.End()
	}
	return nil
}
