// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ziparchive

import (
	"bytes"
	"io"

	"go4.org/readerutil"

	"github.com/martin-sucha/ziparchive/errs"
)

// Template describes an archive composed by NewArchive.
type Template struct {
	// Prefix is placed before the first entry, e.g. a self-extractor stub.
	// Offsets in the archive are relative to the start of Prefix.
	Prefix readerutil.SizeReaderAt
	// Entries must have Content compressed with Method, of CompressedSize
	// bytes, and CRC32 and UncompressedSize set.
	Entries []*FileHeader
	Comment string
}

type partsBuilder struct {
	parts  []readerutil.SizeReaderAt
	offset int64
}

func (pb *partsBuilder) add(r readerutil.SizeReaderAt) {
	size := r.Size()
	if size == 0 {
		return
	}
	pb.parts = append(pb.parts, r)
	pb.offset += size
}

// NewArchive lays out an archive from t without reading or copying entry
// content. The headers in t are updated in place. Entries are written with a
// data descriptor, like StreamWriter does.
func NewArchive(t *Template) (readerutil.SizeReaderAt, error) {
	if len(t.Comment) > uint16max {
		return nil, errLongComment
	}
	if len(t.Entries) > uint16max {
		return nil, errTooMany
	}

	dir := make([]*FileHeader, 0, len(t.Entries))
	var pb partsBuilder

	if t.Prefix != nil {
		pb.add(t.Prefix)
	}

	for _, entry := range t.Entries {
		if entry.Method != Store && entry.Method != Deflate {
			return nil, errs.Unsupportedf("zip: unsupported compression method %d for %s", entry.Method, entry.Name)
		}
		if entry.IsDir() && entry.Content != nil {
			return nil, errs.Usagef("zip: directory %s has content", entry.Name)
		}
		prepareEntry(entry)
		if !entry.IsDir() {
			entry.Flags |= flagDataDescriptor
		}
		if pb.offset > uint32max {
			return nil, errTooLarge
		}
		entry.offset = pb.offset
		dir = append(dir, entry)
		header, err := makeLocalFileHeader(entry)
		if err != nil {
			return nil, err
		}
		pb.add(header)
		if entry.Content != nil {
			pb.add(io.NewSectionReader(entry.Content, 0, int64(entry.CompressedSize)))
		} else if entry.CompressedSize != 0 {
			return nil, errs.Usagef("zip: entry %s has no content but a compressed size of %d", entry.Name, entry.CompressedSize)
		}
		if entry.HasDataDescriptor() {
			pb.add(bytes.NewReader(dataDescriptor(entry)))
		}
	}

	var buf bytes.Buffer
	if err := writeCentralDirectory(pb.offset, dir, &buf, t.Comment); err != nil {
		return nil, err
	}
	pb.add(bytes.NewReader(buf.Bytes()))

	return readerutil.NewMultiReaderAt(pb.parts...), nil
}

func makeLocalFileHeader(fh *FileHeader) (readerutil.SizeReaderAt, error) {
	var buf bytes.Buffer

	err := writeHeader(&buf, fh)
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(buf.Bytes()), nil
}
