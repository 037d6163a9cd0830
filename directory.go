// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ziparchive

import (
	"encoding/binary"
	"io"

	"github.com/martin-sucha/ziparchive/errs"
)

// maxCommentLen is the largest EOCD comment the scan accounts for.
const maxCommentLen = 1 << 16

type directoryEnd struct {
	diskNbr            uint16 // unused
	dirDiskNbr         uint16 // unused
	dirRecordsThisDisk uint16 // unused
	directoryRecords   uint16
	directorySize      uint32
	directoryOffset    uint32 // relative to file
	commentLen         uint16
	comment            string
}

// findDirectoryEnd returns the offset of the end of central directory
// record. Candidates are tried from size-22 down to size-22-65536, highest
// first.
func findDirectoryEnd(src *sharedSource, size int64) (int64, error) {
	if size < directoryEndLen {
		return 0, errs.Formatf("zip: not a valid zip file: %d bytes is too short", size)
	}
	start := size - directoryEndLen - maxCommentLen
	if start < 0 {
		start = 0
	}
	buf := make([]byte, size-start)
	if _, err := src.readAt(buf, start); err != nil {
		return 0, errs.FromRead(err, "end of central directory")
	}
	for p := len(buf) - directoryEndLen; p >= 0; p-- {
		if binary.LittleEndian.Uint32(buf[p:]) == directoryEndSignature {
			return start + int64(p), nil
		}
	}
	return 0, errs.Formatf("zip: not a valid zip file: end of central directory not found")
}

// readDirectoryEnd parses the record at off and checks that the archive is
// not spanned over several disks.
func readDirectoryEnd(src *sharedSource, off, size int64) (*directoryEnd, error) {
	var buf [directoryEndLen]byte
	if _, err := src.readAt(buf[:], off); err != nil {
		return nil, errs.FromRead(err, "end of central directory")
	}
	b := readBuf(buf[4:]) // skip signature
	d := &directoryEnd{
		diskNbr:            b.uint16(),
		dirDiskNbr:         b.uint16(),
		dirRecordsThisDisk: b.uint16(),
		directoryRecords:   b.uint16(),
		directorySize:      b.uint32(),
		directoryOffset:    b.uint32(),
		commentLen:         b.uint16(),
	}
	if d.diskNbr != 0 || d.dirDiskNbr != 0 || d.dirRecordsThisDisk != d.directoryRecords {
		return nil, errs.Unsupportedf("zip: spanned archives are not supported (disk %d, directory disk %d, %d of %d records)",
			d.diskNbr, d.dirDiskNbr, d.dirRecordsThisDisk, d.directoryRecords)
	}
	commentOff := off + directoryEndLen
	if int64(d.commentLen) > size-commentOff {
		return nil, errs.Truncatedf("zip: archive comment of %d bytes exceeds the %d bytes left", d.commentLen, size-commentOff)
	}
	if d.commentLen > 0 {
		comment := make([]byte, d.commentLen)
		if _, err := src.readAt(comment, commentOff); err != nil {
			return nil, errs.FromRead(err, "archive comment")
		}
		d.comment = string(comment)
	}
	// directorySize is not trusted; the record count alone bounds the parse.
	if o := int64(d.directoryOffset); o > off {
		return nil, errs.Formatf("zip: central directory offset %d is past its end record at %d", o, off)
	}
	return d, nil
}

// readDirectoryHeader attempts to read a directory header from r.
func readDirectoryHeader(f *FileHeader, r io.Reader) error {
	var buf [directoryHeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return errs.FromRead(err, "central directory header")
	}
	b := readBuf(buf[:])
	if sig := b.uint32(); sig != directoryHeaderSignature {
		return errs.Formatf("zip: bad central directory signature %#08x", sig)
	}
	f.CreatorVersion = b.uint16()
	f.ReaderVersion = b.uint16()
	f.Flags = b.uint16()
	f.Method = b.uint16()
	f.ModifiedTime = b.uint16()
	f.ModifiedDate = b.uint16()
	f.CRC32 = b.uint32()
	f.CompressedSize = b.uint32()
	f.UncompressedSize = b.uint32()
	filenameLen := int(b.uint16())
	extraLen := int(b.uint16())
	commentLen := int(b.uint16())
	b = b[4:] // skipped start disk number and internal attributes (2x uint16)
	f.ExternalAttrs = b.uint32()
	f.offset = int64(b.uint32())
	d := make([]byte, filenameLen+extraLen+commentLen)
	if _, err := io.ReadFull(r, d); err != nil {
		return errs.FromRead(err, "central directory header")
	}
	f.Name = string(d[:filenameLen])
	f.Extra = d[filenameLen : filenameLen+extraLen]
	f.Comment = string(d[filenameLen+extraLen:])

	// Assume that uncompressed file names are in UTF-8 unless they clearly
	// are not, or the flag says otherwise.
	utf8Valid1, utf8Require1 := detectUTF8(f.Name)
	utf8Valid2, utf8Require2 := detectUTF8(f.Comment)
	switch {
	case !utf8Valid1 || !utf8Valid2:
		// Name and Comment definitely not UTF-8.
		f.NonUTF8 = true
	case !utf8Require1 && !utf8Require2:
		// Name and Comment use only single-byte runes that overlap with UTF-8.
		f.NonUTF8 = false
	default:
		// Might be UTF-8, might be some other encoding; preserve existing flag.
		f.NonUTF8 = f.Flags&flagUTF8 == 0
	}

	f.setModified()
	return nil
}
