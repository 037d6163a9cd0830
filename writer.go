// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ziparchive

import (
	"encoding/binary"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/martin-sucha/ziparchive/errs"
)

var (
	errLongName    = errs.Usagef("zip: FileHeader.Name too long")
	errLongExtra   = errs.Usagef("zip: FileHeader.Extra too long")
	errLongComment = errs.Usagef("zip: comment too long")
	errTooLarge    = errs.Unsupportedf("zip: entry or archive exceeds 4GiB, zip64 is not supported")
	errTooMany     = errs.Unsupportedf("zip: more than 65535 entries, zip64 is not supported")
)

// detectUTF8 reports whether s is a valid UTF-8 string, and whether the string
// must be considered UTF-8 encoding (i.e., not compatible with CP-437, ASCII,
// or any other common encoding).
func detectUTF8(s string) (valid, require bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		// Officially, ZIP uses CP-437, but many readers use the system's
		// local character encoding. Most encoding are compatible with a large
		// subset of CP-437, which itself is ASCII-like.
		//
		// Forbid 0x7e and 0x5c since EUC-KR and Shift-JIS replace those
		// characters with localized currency and overline characters.
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}

// prepareEntry fills in the fields every writer derives from the user's
// header: UTF-8 flag, versions, extended timestamp and directory rules.
// The data descriptor bit is left to the caller.
func prepareEntry(fh *FileHeader) {
	// The ZIP format has a sad state of affairs regarding character encoding.
	// Officially, the name and comment fields are supposed to be encoded
	// in CP-437 (which is mostly compatible with ASCII), unless the UTF-8
	// flag bit is set. However, there are several problems:
	//
	//	* Many ZIP readers still do not support UTF-8.
	//	* If the UTF-8 flag is cleared, several readers simply interpret the
	//	name and comment fields as whatever the local system encoding is.
	//
	// In order to avoid breaking readers without UTF-8 support,
	// we avoid setting the UTF-8 flag if the strings are CP-437 compatible.
	// However, if the strings require multibyte UTF-8 encoding and is a
	// valid UTF-8 string, then we set the UTF-8 bit.
	//
	// For the case, where the user explicitly wants to specify the encoding
	// as UTF-8, they will need to set the flag bit themselves.
	utf8Valid1, utf8Require1 := detectUTF8(fh.Name)
	utf8Valid2, utf8Require2 := detectUTF8(fh.Comment)
	switch {
	case fh.NonUTF8:
		fh.Flags &^= flagUTF8
	case (utf8Require1 || utf8Require2) && (utf8Valid1 && utf8Valid2):
		fh.Flags |= flagUTF8
	}

	fh.CreatorVersion = fh.CreatorVersion&0xff00 | zipVersion20 // preserve compatibility byte
	fh.ReaderVersion = zipVersion20

	// Use "extended timestamp" format since this is what Info-ZIP uses.
	// Nearly every major ZIP implementation uses a different format,
	// but at least most seem to be able to understand the other formats.
	//
	// This format happens to be identical for both local and central header
	// if modification time is the only timestamp being encoded.
	if !fh.Modified.IsZero() {
		var mbuf [extTimeExtraLen]byte
		mt := uint32(fh.Modified.Unix())
		eb := writeBuf(mbuf[:])
		eb.uint16(extTimeExtraID)
		eb.uint16(5)  // Size: SizeOf(uint8) + SizeOf(uint32)
		eb.uint8(1)   // Flags: ModTime
		eb.uint32(mt) // ModTime
		fh.Extra = append(fh.Extra, mbuf[:]...)
		fh.ModifiedDate, fh.ModifiedTime = timeToMsDosTime(fh.Modified)
	}

	if strings.HasSuffix(fh.Name, "/") {
		// Set the compression method to Store to ensure data length is truly zero,
		// which the writeHeader method always encodes for the size fields.
		// This is necessary as most compression formats have non-zero lengths
		// even when compressing an empty string.
		fh.Method = Store
		fh.Flags &^= flagDataDescriptor // we will not write a data descriptor

		// Explicitly clear sizes as they have no meaning for directories.
		fh.CRC32 = 0
		fh.CompressedSize = 0
		fh.UncompressedSize = 0
	}
}

// writeHeader writes the local file header. CRC32 and sizes are written as
// zero when they are deferred to a data descriptor.
func writeHeader(w io.Writer, h *FileHeader) error {
	if len(h.Name) > uint16max {
		return errLongName
	}
	if len(h.Extra) > uint16max {
		return errLongExtra
	}

	var buf [fileHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(uint32(fileHeaderSignature))
	b.uint16(h.ReaderVersion)
	b.uint16(h.Flags)
	b.uint16(h.Method)
	b.uint16(h.ModifiedTime)
	b.uint16(h.ModifiedDate)
	if h.HasDataDescriptor() {
		b.uint32(0) // since we are writing a data descriptor crc32,
		b.uint32(0) // compressed size,
		b.uint32(0) // and uncompressed size should be zero
	} else {
		b.uint32(h.CRC32)
		b.uint32(h.CompressedSize)
		b.uint32(h.UncompressedSize)
	}
	b.uint16(uint16(len(h.Name)))
	b.uint16(uint16(len(h.Extra)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, h.Name); err != nil {
		return err
	}
	_, err := w.Write(h.Extra)
	return err
}

// dataDescriptor encodes the data descriptor, signature included.
func dataDescriptor(h *FileHeader) []byte {
	buf := make([]byte, dataDescriptorLen)
	b := writeBuf(buf)
	b.uint32(dataDescriptorSignature) // de-facto standard, required by OS X
	b.uint32(h.CRC32)
	b.uint32(h.CompressedSize)
	b.uint32(h.UncompressedSize)
	return buf
}

// writeCentralDirectory writes the directory records for dir followed by the
// end of central directory record. start is the offset of the first
// directory record.
func writeCentralDirectory(start int64, dir []*FileHeader, writer io.Writer, comment string) error {
	if len(comment) > uint16max {
		return errLongComment
	}
	if len(dir) > uint16max {
		return errTooMany
	}
	cw := &countWriter{w: writer}
	for _, h := range dir {
		if len(h.Name) > uint16max {
			return errLongName
		}
		if len(h.Extra) > uint16max {
			return errLongExtra
		}
		if len(h.Comment) > uint16max {
			return errLongComment
		}
		if h.offset > uint32max {
			return errTooLarge
		}

		var buf [directoryHeaderLen]byte
		b := writeBuf(buf[:])
		b.uint32(uint32(directoryHeaderSignature))
		b.uint16(h.CreatorVersion)
		b.uint16(h.ReaderVersion)
		b.uint16(h.Flags)
		b.uint16(h.Method)
		b.uint16(h.ModifiedTime)
		b.uint16(h.ModifiedDate)
		b.uint32(h.CRC32)
		b.uint32(h.CompressedSize)
		b.uint32(h.UncompressedSize)
		b.uint16(uint16(len(h.Name)))
		b.uint16(uint16(len(h.Extra)))
		b.uint16(uint16(len(h.Comment)))
		b = b[4:] // skip disk number start and internal file attr (2x uint16)
		b.uint32(h.ExternalAttrs)
		b.uint32(uint32(h.offset))
		if _, err := cw.Write(buf[:]); err != nil {
			return err
		}
		if _, err := io.WriteString(cw, h.Name); err != nil {
			return err
		}
		if _, err := cw.Write(h.Extra); err != nil {
			return err
		}
		if _, err := io.WriteString(cw, h.Comment); err != nil {
			return err
		}
	}
	size := cw.count
	if size > uint32max || start > uint32max {
		return errTooLarge
	}
	records := len(dir)

	// write end record
	var buf [directoryEndLen]byte
	b := writeBuf(buf[:])
	b.uint32(uint32(directoryEndSignature))
	b = b[4:]                      // skip over disk number and first disk number (2x uint16)
	b.uint16(uint16(records))      // number of entries this disk
	b.uint16(uint16(records))      // number of entries total
	b.uint32(uint32(size))         // size of directory
	b.uint32(uint32(start))        // start of directory
	b.uint16(uint16(len(comment))) // byte size of EOCD comment
	if _, err := cw.Write(buf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(cw, comment)
	return err
}

type countWriter struct {
	w     io.Writer
	count int64
}

func (w *countWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.count += int64(n)
	return n, err
}

type writeBuf []byte

func (b *writeBuf) uint8(v uint8) {
	(*b)[0] = v
	*b = (*b)[1:]
}

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

type readBuf []byte

func (b *readBuf) uint8() uint8 {
	v := (*b)[0]
	*b = (*b)[1:]
	return v
}

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) sub(n int) readBuf {
	b2 := (*b)[:n]
	*b = (*b)[n:]
	return b2
}
