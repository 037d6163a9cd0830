// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package ziparchive reads and writes ZIP archives.

Two access modes are provided over the same format. ZipFile locates the
central directory at the end of a seekable source and opens entries by name;
StreamReader and StreamWriter process local file headers strictly forward,
handling sizes deferred to data descriptors. NewArchive composes an archive
out of pre-compressed parts without copying them.

Only the STORED and DEFLATE methods on single-disk archives are supported.
ZIP64 is not.
*/
package ziparchive

import (
	"io"
	"os"
	"path"
	"time"
)

// Compression methods.
const (
	Store   uint16 = 0 // no compression
	Deflate uint16 = 8 // DEFLATE compressed
)

const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	dataDescriptorSignature  = 0x08074b50 // de-facto standard; required by OS X Finder
	fileHeaderLen            = 30         // + filename + extra
	directoryHeaderLen       = 46         // + filename + extra + comment
	directoryEndLen          = 22         // + comment
	dataDescriptorLen        = 16         // four uint32: descriptor signature, crc32, compressed size, size
	extTimeExtraLen          = 9          // 2*SizeOf(uint16) + SizeOf(uint8) + SizeOf(uint32)

	// Offset of the extra length field within the local file header.
	fileHeaderExtraLenOffset = 28

	// Constants for the first byte in CreatorVersion.
	creatorFAT    = 0
	creatorUnix   = 3
	creatorNTFS   = 11
	creatorVFAT   = 14
	creatorMacOSX = 19

	// Version numbers.
	zipVersion20 = 20 // 2.0

	// Limits of the non-zip64 format.
	uint16max = (1 << 16) - 1
	uint32max = (1 << 32) - 1

	// General purpose flag bits.
	flagEncrypted      = 0x1
	flagDataDescriptor = 0x8
	flagUTF8           = 0x800

	// Extended timestamp extra field.
	//
	// IDs 0..31 are reserved for official use by PKWARE.
	// IDs above that range are defined by third-party vendors.
	// See http://mdfs.net/Docs/Comp/Archiving/Zip/ExtraField
	extTimeExtraID = 0x5455
)

// FileHeader describes a file within a zip file.
// See the zip spec for details.
type FileHeader struct {
	// Name is the name of the file, byte-exact as stored in the archive.
	//
	// A trailing slash indicates that this file is a directory and should
	// have no data.
	Name string

	// Comment is any arbitrary user-defined string shorter than 64KiB.
	Comment string

	// NonUTF8 indicates that Name and Comment are not encoded in UTF-8.
	//
	// By specification, the only other encoding permitted should be CP-437,
	// but historically many ZIP readers interpret Name and Comment as whatever
	// the system's local character encoding happens to be.
	//
	// This flag should only be set if the user intends to encode a non-portable
	// ZIP file for a specific localized region. Otherwise, the writers
	// automatically set the ZIP format's UTF-8 flag for valid UTF-8 strings.
	NonUTF8 bool

	CreatorVersion uint16
	ReaderVersion  uint16

	// Flags holds the general purpose bits. Bit 3 means CRC32 and sizes
	// follow the data in a data descriptor.
	Flags uint16

	// Method is the compression method. If zero, Store is used.
	Method uint16

	// Modified is the modified time of the file.
	//
	// When reading, an extended timestamp is preferred to the legacy MS-DOS
	// date field. When writing, an extended timestamp (which is
	// timezone-agnostic) is always emitted. The legacy MS-DOS date field is
	// encoded according to the location of the Modified time.
	Modified time.Time

	// ModifiedTime and ModifiedDate are the MS-DOS packed fields as read
	// from the archive.
	ModifiedTime uint16
	ModifiedDate uint16

	// CRC32 is a checksum of the uncompressed file data.
	CRC32 uint32

	CompressedSize   uint32
	UncompressedSize uint32
	Extra            []byte
	ExternalAttrs    uint32 // Meaning depends on CreatorVersion

	// Content is the (compressed) data of the file. It is used only by
	// NewArchive.
	//
	// Size of content is specified in the CompressedSize field and
	// the content must be compressed using the Method specified.
	// In case Store is used (the default), the compressed data is the same as
	// uncompressed data.
	Content io.ReaderAt

	offset int64 // local file header offset
}

// Offset returns the position of the local file header relative to the start
// of the archive. It is known for entries read from the central directory
// and for entries written by StreamWriter.
func (h *FileHeader) Offset() int64 { return h.offset }

// HasDataDescriptor reports whether the CRC32 and sizes were deferred to a
// data descriptor following the entry data.
func (h *FileHeader) HasDataDescriptor() bool {
	return h.Flags&flagDataDescriptor != 0
}

// IsDir reports whether the name ends with a slash.
func (h *FileHeader) IsDir() bool {
	return len(h.Name) > 0 && h.Name[len(h.Name)-1] == '/'
}

// FileInfo returns an os.FileInfo for the FileHeader.
func (h *FileHeader) FileInfo() os.FileInfo {
	return headerFileInfo{h}
}

// headerFileInfo implements os.FileInfo.
type headerFileInfo struct {
	fh *FileHeader
}

func (fi headerFileInfo) Name() string { return path.Base(fi.fh.Name) }
func (fi headerFileInfo) Size() int64 {
	return int64(fi.fh.UncompressedSize)
}
func (fi headerFileInfo) IsDir() bool        { return fi.Mode().IsDir() }
func (fi headerFileInfo) ModTime() time.Time { return fi.fh.Modified }
func (fi headerFileInfo) Mode() os.FileMode  { return fi.fh.Mode() }
func (fi headerFileInfo) Sys() interface{}   { return fi.fh }

// FileInfoHeader creates a partially-populated FileHeader from an
// os.FileInfo.
// Because os.FileInfo's Name method returns only the base name of
// the file it describes, it may be necessary to modify the Name field
// of the returned header to provide the full path name of the file.
func FileInfoHeader(fi os.FileInfo) (*FileHeader, error) {
	size := fi.Size()
	if size > uint32max {
		return nil, errTooLarge
	}
	fh := &FileHeader{
		Name:             fi.Name(),
		UncompressedSize: uint32(size),
		CompressedSize:   uint32(size),
		Modified:         fi.ModTime(),
	}
	fh.SetMode(fi.Mode())
	return fh, nil
}

// msDosTimeToTime converts an MS-DOS date and time into a time.Time.
// The resolution is 2s.
// See: https://msdn.microsoft.com/en-us/library/ms724247(v=VS.85).aspx
func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		// date bits 0-4: day of month; 5-8: month; 9-15: years since 1980
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),

		// time bits 0-4: second/2; 5-10: minute; 11-15: hour
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f*2),
		0, // nanoseconds

		time.UTC,
	)
}

// timeToMsDosTime converts a time.Time to an MS-DOS date and time.
// The resolution is 2s.
// See: https://msdn.microsoft.com/en-us/library/ms724274(v=VS.85).aspx
func timeToMsDosTime(t time.Time) (fDate uint16, fTime uint16) {
	if t.Year() < 1980 {
		return 0, 0
	}
	fDate = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	fTime = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}

// timeZone returns a *time.Location based on the provided offset.
// If the offset is non-sensible, then this uses an offset of zero.
func timeZone(offset time.Duration) *time.Location {
	const (
		minOffset   = -12 * time.Hour  // E.g., Baker island at -12:00
		maxOffset   = +14 * time.Hour  // E.g., Line island at +14:00
		offsetAlias = 15 * time.Minute // E.g., Nepal at +5:45
	)
	offset = offset.Round(offsetAlias)
	if offset < minOffset || maxOffset < offset {
		offset = 0
	}
	return time.FixedZone("", int(offset/time.Second))
}

// setModified fills Modified from the MS-DOS fields, preferring an extended
// timestamp in Extra when there is one.
func (h *FileHeader) setModified() {
	if h.ModifiedTime != 0 || h.ModifiedDate != 0 {
		h.Modified = msDosTimeToTime(h.ModifiedDate, h.ModifiedTime)
	}
	ts, ok := extendedModTime(h.Extra)
	if !ok {
		return
	}
	modified := time.Unix(ts, 0).UTC()
	// The delta between the legacy and extended stamps estimates the
	// writer's timezone.
	if h.ModifiedTime != 0 || h.ModifiedDate != 0 {
		modified = modified.In(timeZone(h.Modified.Sub(modified)))
	}
	h.Modified = modified
}

// extendedModTime returns the modification time from an extended timestamp
// extra field.
func extendedModTime(extra []byte) (int64, bool) {
	b := readBuf(extra)
	for len(b) >= 4 { // need at least tag and size
		tag := b.uint16()
		size := int(b.uint16())
		if len(b) < size {
			return 0, false
		}
		field := b.sub(size)
		if tag != extTimeExtraID {
			continue
		}
		if len(field) < 5 || field.uint8()&1 == 0 {
			return 0, false
		}
		return int64(field.uint32()), true
	}
	return 0, false
}

const (
	// Unix constants. The specification doesn't mention them,
	// but these seem to be the values agreed on by tools.
	s_IFMT   = 0xf000
	s_IFSOCK = 0xc000
	s_IFLNK  = 0xa000
	s_IFREG  = 0x8000
	s_IFBLK  = 0x6000
	s_IFDIR  = 0x4000
	s_IFCHR  = 0x2000
	s_IFIFO  = 0x1000
	s_ISUID  = 0x800
	s_ISGID  = 0x400
	s_ISVTX  = 0x200

	msdosDir      = 0x10
	msdosReadOnly = 0x01
)

// Mode returns the permission and mode bits for the FileHeader.
func (h *FileHeader) Mode() (mode os.FileMode) {
	switch h.CreatorVersion >> 8 {
	case creatorUnix, creatorMacOSX:
		mode = unixModeToFileMode(h.ExternalAttrs >> 16)
	case creatorNTFS, creatorVFAT, creatorFAT:
		mode = msdosModeToFileMode(h.ExternalAttrs)
	}
	if h.IsDir() {
		mode |= os.ModeDir
	}
	return mode
}

// SetMode changes the permission and mode bits for the FileHeader.
func (h *FileHeader) SetMode(mode os.FileMode) {
	h.CreatorVersion = h.CreatorVersion&0xff | creatorUnix<<8
	h.ExternalAttrs = fileModeToUnixMode(mode) << 16

	// set MSDOS attributes too, as the original zip does.
	if mode&os.ModeDir != 0 {
		h.ExternalAttrs |= msdosDir
	}
	if mode&0200 == 0 {
		h.ExternalAttrs |= msdosReadOnly
	}
}

func msdosModeToFileMode(m uint32) (mode os.FileMode) {
	if m&msdosDir != 0 {
		mode = os.ModeDir | 0777
	} else {
		mode = 0666
	}
	if m&msdosReadOnly != 0 {
		mode &^= 0222
	}
	return mode
}

func fileModeToUnixMode(mode os.FileMode) uint32 {
	var m uint32
	switch mode & os.ModeType {
	default:
		m = s_IFREG
	case os.ModeDir:
		m = s_IFDIR
	case os.ModeSymlink:
		m = s_IFLNK
	case os.ModeNamedPipe:
		m = s_IFIFO
	case os.ModeSocket:
		m = s_IFSOCK
	case os.ModeDevice:
		if mode&os.ModeCharDevice != 0 {
			m = s_IFCHR
		} else {
			m = s_IFBLK
		}
	}
	if mode&os.ModeSetuid != 0 {
		m |= s_ISUID
	}
	if mode&os.ModeSetgid != 0 {
		m |= s_ISGID
	}
	if mode&os.ModeSticky != 0 {
		m |= s_ISVTX
	}
	return m | uint32(mode&0777)
}

func unixModeToFileMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0777)
	switch m & s_IFMT {
	case s_IFBLK:
		mode |= os.ModeDevice
	case s_IFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	case s_IFDIR:
		mode |= os.ModeDir
	case s_IFIFO:
		mode |= os.ModeNamedPipe
	case s_IFLNK:
		mode |= os.ModeSymlink
	case s_IFREG:
		// nothing to do
	case s_IFSOCK:
		mode |= os.ModeSocket
	}
	if m&s_ISGID != 0 {
		mode |= os.ModeSetgid
	}
	if m&s_ISUID != 0 {
		mode |= os.ModeSetuid
	}
	if m&s_ISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}
