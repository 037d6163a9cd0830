// Package gzip reads and writes single-member GZIP streams (RFC 1952).
package gzip

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/martin-sucha/ziparchive/checksum"
	"github.com/martin-sucha/ziparchive/codec"
	"github.com/martin-sucha/ziparchive/errs"
)

const (
	gzipID1     = 0x1f
	gzipID2     = 0x8b
	gzipDeflate = 8

	flagText    = 1 << 0
	flagHdrCrc  = 1 << 1
	flagExtra   = 1 << 2
	flagName    = 1 << 3
	flagComment = 1 << 4
	flagReserve = 0xe0

	headerLen  = 10
	trailerLen = 8

	osUnknown = 255
)

// Header is the GZIP member header.
type Header struct {
	Name    string    // FNAME, Latin-1 in the format, kept as bytes
	Comment string    // FCOMMENT
	Extra   []byte    // FEXTRA payload
	ModTime time.Time // MTIME, zero when absent
	OS      byte
	Text    bool // FTEXT hint
}

// Reader decompresses the first member of a GZIP stream. Bytes following
// the first member's trailer are not read.
type Reader struct {
	Header Header

	br     *bufio.Reader
	inf    *codec.Inflater
	crc    checksum.Accumulator
	err    error
	eof    bool
	closed bool
}

// NewReader reads and validates the GZIP header from r.
func NewReader(r io.Reader) (*Reader, error) {
	z := &Reader{
		br:  bufio.NewReader(r),
		crc: checksum.NewCRC32(),
	}
	if err := z.readHeader(); err != nil {
		return nil, err
	}
	z.inf = codec.NewInflater(z.br)
	return z, nil
}

func (z *Reader) readHeader() error {
	hcrc := checksum.NewCRC32()
	hr := checksum.NewReader(z.br, hcrc)

	var buf [headerLen]byte
	if _, err := io.ReadFull(hr, buf[:]); err != nil {
		return errs.FromRead(err, "gzip header")
	}
	if buf[0] != gzipID1 || buf[1] != gzipID2 {
		return errs.Formatf("gzip: invalid header magic %#02x%02x", buf[1], buf[0])
	}
	if buf[2] != gzipDeflate {
		return errs.Unsupportedf("gzip: unsupported compression method %d", buf[2])
	}
	flg := buf[3]
	if flg&flagReserve != 0 {
		return errs.Formatf("gzip: reserved flag bits set %#02x", flg)
	}
	if t := int64(binary.LittleEndian.Uint32(buf[4:8])); t > 0 {
		z.Header.ModTime = time.Unix(t, 0)
	}
	// buf[8] is XFL
	z.Header.OS = buf[9]
	z.Header.Text = flg&flagText != 0

	if flg&flagExtra != 0 {
		if _, err := io.ReadFull(hr, buf[:2]); err != nil {
			return errs.FromRead(err, "gzip extra length")
		}
		extra := make([]byte, binary.LittleEndian.Uint16(buf[:2]))
		if _, err := io.ReadFull(hr, extra); err != nil {
			return errs.FromRead(err, "gzip extra field")
		}
		z.Header.Extra = extra
	}
	if flg&flagName != 0 {
		s, err := readString(hr)
		if err != nil {
			return errs.FromRead(err, "gzip file name")
		}
		z.Header.Name = s
	}
	if flg&flagComment != 0 {
		s, err := readString(hr)
		if err != nil {
			return errs.FromRead(err, "gzip comment")
		}
		z.Header.Comment = s
	}
	if flg&flagHdrCrc != 0 {
		want := uint16(hcrc.Value())
		if _, err := io.ReadFull(z.br, buf[:2]); err != nil {
			return errs.FromRead(err, "gzip header CRC")
		}
		if got := binary.LittleEndian.Uint16(buf[:2]); got != want {
			return errs.Formatf("gzip: bad header CRC %#04x, want %#04x", got, want)
		}
	}
	return nil
}

// readString reads a zero-terminated field, returning it without the
// terminator.
func readString(r io.ByteReader) (string, error) {
	var b []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if c == 0 {
			return string(b), nil
		}
		b = append(b, c)
	}
}

func (z *Reader) Read(p []byte) (int, error) {
	if z.closed {
		return 0, errs.ErrClosed
	}
	if z.err != nil {
		return 0, z.err
	}
	if z.eof {
		return 0, io.EOF
	}
	n, err := z.inf.Read(p)
	z.crc.Update(p[:n])
	if err == io.EOF {
		if terr := z.readTrailer(); terr != nil {
			z.err = terr
			return n, terr
		}
		z.eof = true
		return n, io.EOF
	}
	if err != nil {
		z.err = err
	}
	return n, err
}

func (z *Reader) readTrailer() error {
	// The inflater may have pulled the trailer into its window already.
	src := io.MultiReader(bytes.NewReader(z.inf.Unread()), z.br)
	var buf [trailerLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return errs.FromRead(err, "gzip trailer")
	}
	if got, want := binary.LittleEndian.Uint32(buf[:4]), z.crc.Value(); got != want {
		return errs.Formatf("gzip: bad CRC %#08x, want %#08x", got, want)
	}
	if got, want := binary.LittleEndian.Uint32(buf[4:]), uint32(z.inf.TotalOut()); got != want {
		return errs.Formatf("gzip: size mismatch %d, want %d", got, want)
	}
	return nil
}

// Close releases the decoder. It does not close the underlying reader and is
// safe to call more than once.
func (z *Reader) Close() error {
	if z.closed {
		return nil
	}
	z.closed = true
	return z.inf.End()
}
