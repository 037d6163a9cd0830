// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Tests that involve both reading and writing.

package ziparchive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martin-sucha/ziparchive/errs"
)

func manyEntries(n int) []*FileHeader {
	entries := make([]*FileHeader, n)
	for i := range entries {
		entries[i] = &FileHeader{
			Name:    fmt.Sprintf("%d.dat", i),
			Method:  Store,
			Content: bytes.NewReader(nil),
		}
	}
	return entries
}

func TestMaxFiles(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
	const nFiles = uint16max
	ar, err := NewArchive(&Template{Entries: manyEntries(nFiles)})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = io.Copy(&buf, io.NewSectionReader(ar, 0, ar.Size()))
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, nFiles)

	z, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, z.File, nFiles)
	for i := 0; i < nFiles; i++ {
		want := fmt.Sprintf("%d.dat", i)
		require.Equal(t, want, zr.File[i].Name)
		require.Equal(t, want, z.File[i].Name)
	}
}

func TestOver65kFiles(t *testing.T) {
	_, err := NewArchive(&Template{Entries: manyEntries(uint16max + 1)})
	assert.True(t, errors.Is(err, errs.ErrUnsupported), "got %v", err)
}

// TestArchiveThroughStreamReader reads a composed archive front to back. The
// entries use data descriptors, so the streaming reader has to push back
// what the decoder read past each entry.
func TestArchiveThroughStreamReader(t *testing.T) {
	tests := withLargeData(t)
	tmpl := &Template{Comment: "composed"}
	for i := range tests {
		tmpl.Entries = append(tmpl.Entries, testCreate(t, &tests[i]))
	}
	tmpl.Entries[0].Method = Deflate
	compressed := deflate(tests[0].Data)
	tmpl.Entries[0].CompressedSize = uint32(len(compressed))
	tmpl.Entries[0].Content = bytes.NewReader(compressed)
	ar, err := NewArchive(tmpl)
	require.NoError(t, err)

	zr := NewStreamReader(io.NewSectionReader(ar, 0, ar.Size()))
	for i := range tests {
		f, err := zr.Next()
		require.NoError(t, err)
		assert.Equal(t, tests[i].Name, f.Name)
		got, err := io.ReadAll(zr)
		require.NoError(t, err, f.Name)
		assert.Equal(t, tests[i].Data, got, f.Name)
		assert.Equal(t, crc(tests[i].Data), f.CRC32, "adopted from the data descriptor")
		assert.Equal(t, tmpl.Entries[i].Offset(), f.Offset())
	}
	_, err = zr.Next()
	assert.Equal(t, io.EOF, err)
	require.NoError(t, zr.Close())
}

// TestStreamWriterThroughZipFile writes with StreamWriter and reads the
// result with random access and with archive/zip.
func TestStreamWriterThroughZipFile(t *testing.T) {
	tests := withLargeData(t)
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)
	for _, wt := range tests {
		fh := &FileHeader{Name: wt.Name, Method: wt.Method}
		fh.SetMode(wt.Mode)
		if wt.Method == Store {
			fh.CRC32 = crc(wt.Data)
			fh.CompressedSize = uint32(len(wt.Data))
			fh.UncompressedSize = uint32(len(wt.Data))
		}
		require.NoError(t, w.CreateHeader(fh))
		_, err := w.Write(wt.Data)
		require.NoError(t, err)
	}
	require.NoError(t, w.SetComment("streamed"))
	require.NoError(t, w.Close())

	b := buf.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	assert.Equal(t, "streamed", zr.Comment)
	for i := range tests {
		testReadFile(t, zr.File[i], &tests[i])
	}

	z, err := NewReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer z.Close()
	assert.Equal(t, "streamed", z.Comment)
	for _, wt := range tests {
		assert.Equal(t, wt.Data, readEntry(t, z, wt.Name), wt.Name)
		assert.Equal(t, wt.Mode, z.Entry(wt.Name).Mode(), wt.Name)
	}
}

// TestFileInfoHeader writes entries described by os.Stat and reads the same
// name, size, mode and time back.
func TestFileInfoHeader(t *testing.T) {
	tmp := t.TempDir()
	data := []byte("described by the file system")
	filePath := filepath.Join(tmp, "file.txt")
	require.NoError(t, os.WriteFile(filePath, data, 0640))
	dirPath := filepath.Join(tmp, "sub")
	require.NoError(t, os.Mkdir(dirPath, 0750))
	mtime := time.Date(2019, 5, 6, 7, 8, 10, 0, time.UTC)
	require.NoError(t, os.Chtimes(filePath, mtime, mtime))

	var buf bytes.Buffer
	w := NewStreamWriter(&buf)
	fileInfos := make(map[string]os.FileInfo)
	for _, p := range []string{filePath, dirPath} {
		fi, err := os.Stat(p)
		require.NoError(t, err)
		fh, err := FileInfoHeader(fi)
		require.NoError(t, err)
		if fi.IsDir() {
			fh.Name += "/"
		} else {
			fh.CRC32 = crc(data)
		}
		fileInfos[fh.Name] = fi
		require.NoError(t, w.CreateHeader(fh))
		if !fi.IsDir() {
			_, err = w.Write(data)
			require.NoError(t, err)
		}
	}
	require.NoError(t, w.Close())

	z, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer z.Close()
	require.Len(t, z.File, 2)
	for _, f := range z.File {
		want := fileInfos[f.Name]
		require.NotNil(t, want, f.Name)
		got := f.FileInfo()
		assert.Equal(t, want.Name(), got.Name())
		assert.Equal(t, want.Mode(), got.Mode(), f.Name)
		assert.Equal(t, want.IsDir(), got.IsDir(), f.Name)
		assert.Same(t, f, got.Sys())
		if want.IsDir() {
			assert.Zero(t, got.Size())
			continue
		}
		assert.Equal(t, want.Size(), got.Size())
		assert.True(t, mtime.Equal(got.ModTime()), "got %v", got.ModTime())
		assert.Equal(t, data, readEntry(t, z, f.Name))
	}
}

type hugeFileInfo struct{ os.FileInfo }

func (hugeFileInfo) Size() int64 { return uint32max + 1 }

func TestFileInfoHeaderTooLarge(t *testing.T) {
	_, err := FileInfoHeader(hugeFileInfo{})
	assert.True(t, errors.Is(err, errs.ErrUnsupported), "got %v", err)
}
