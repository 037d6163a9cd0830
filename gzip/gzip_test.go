package gzip

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"testing"
	"time"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martin-sucha/ziparchive/codec"
	"github.com/martin-sucha/ziparchive/errs"
)

func compress(t *testing.T, data []byte, opts ...Option) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, opts...)
	require.NoError(t, err)
	// write in uneven pieces
	for len(data) > 0 {
		n := 777
		if n > len(data) {
			n = len(data)
		}
		m, err := w.Write(data[:n])
		require.NoError(t, err)
		require.Equal(t, n, m)
		data = data[n:]
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func decompress(t *testing.T, b []byte) ([]byte, error) {
	t.Helper()
	r, err := NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		opts []Option
	}{
		{name: "empty", data: []byte{}},
		{name: "one byte", data: []byte{42}},
		{name: "text", data: bytes.Repeat([]byte("gophers and quolls "), 1000)},
		{name: "best speed", data: bytes.Repeat([]byte{1, 2, 3, 4}, 5000), opts: []Option{WithLevel(codec.BestSpeed)}},
		{name: "stored", data: bytes.Repeat([]byte("x"), 70000), opts: []Option{WithLevel(codec.NoCompression)}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			b := compress(t, test.data, test.opts...)
			got, err := decompress(t, b)
			require.NoError(t, err)
			assert.Equal(t, len(test.data), len(got))
			assert.True(t, bytes.Equal(test.data, got))

			// trailer carries the CRC and the size
			trailer := b[len(b)-trailerLen:]
			assert.Equal(t, crc32.ChecksumIEEE(test.data), binary.LittleEndian.Uint32(trailer[:4]))
			assert.Equal(t, uint32(len(test.data)), binary.LittleEndian.Uint32(trailer[4:]))
		})
	}
}

func TestWriterHeader(t *testing.T) {
	mtime := time.Date(2020, 5, 17, 10, 0, 0, 0, time.UTC)
	b := compress(t, []byte("hello"), WithModTime(mtime), WithLevel(codec.BestCompression))
	require.True(t, len(b) > headerLen)
	assert.Equal(t, []byte{gzipID1, gzipID2, gzipDeflate, 0}, b[:4], "optional-field flags are cleared")
	assert.Equal(t, uint32(mtime.Unix()), binary.LittleEndian.Uint32(b[4:8]))
	assert.Equal(t, byte(2), b[8])
	assert.Equal(t, byte(osUnknown), b[9])

	r, err := NewReader(bytes.NewReader(b))
	require.NoError(t, err)
	assert.True(t, r.Header.ModTime.Equal(mtime))
}

func TestInteroperability(t *testing.T) {
	data := bytes.Repeat([]byte("interoperable bytes "), 3000)

	t.Run("ours to klauspost", func(t *testing.T) {
		zr, err := kgzip.NewReader(bytes.NewReader(compress(t, data)))
		require.NoError(t, err)
		got, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, got))
	})

	t.Run("klauspost to ours", func(t *testing.T) {
		var buf bytes.Buffer
		zw := kgzip.NewWriter(&buf)
		zw.Name = "data.txt"
		zw.Comment = "a comment"
		zw.Extra = []byte{'A', 'B', 2, 0, 'x', 'y'}
		zw.ModTime = time.Unix(1600000000, 0)
		_, err := zw.Write(data)
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		r, err := NewReader(&buf)
		require.NoError(t, err)
		assert.Equal(t, "data.txt", r.Header.Name)
		assert.Equal(t, "a comment", r.Header.Comment)
		assert.Equal(t, []byte{'A', 'B', 2, 0, 'x', 'y'}, r.Header.Extra)
		assert.Equal(t, int64(1600000000), r.Header.ModTime.Unix())
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, got))
	})
}

// member builds a GZIP member by hand, optionally with every optional header
// field and a header CRC.
func member(t *testing.T, data []byte, allFields bool) []byte {
	t.Helper()
	var hdr bytes.Buffer
	flags := byte(0)
	if allFields {
		flags = flagExtra | flagName | flagComment | flagHdrCrc
	}
	hdr.Write([]byte{gzipID1, gzipID2, gzipDeflate, flags, 0, 0, 0, 0, 0, 3})
	if allFields {
		hdr.Write([]byte{3, 0, 'e', 'x', 't'})
		hdr.WriteString("name.bin\x00")
		hdr.WriteString("comment\x00")
		var c [2]byte
		binary.LittleEndian.PutUint16(c[:], uint16(crc32.ChecksumIEEE(hdr.Bytes())))
		hdr.Write(c[:])
	}
	fw, err := flate.NewWriter(&hdr, flate.DefaultCompression)
	require.NoError(t, err)
	fw.Write(data)
	require.NoError(t, fw.Close())
	var trailer [trailerLen]byte
	binary.LittleEndian.PutUint32(trailer[:4], crc32.ChecksumIEEE(data))
	binary.LittleEndian.PutUint32(trailer[4:], uint32(len(data)))
	hdr.Write(trailer[:])
	return hdr.Bytes()
}

func TestReaderOptionalFields(t *testing.T) {
	data := []byte("payload with all header fields")
	r, err := NewReader(bytes.NewReader(member(t, data, true)))
	require.NoError(t, err)
	assert.Equal(t, "name.bin", r.Header.Name)
	assert.Equal(t, "comment", r.Header.Comment)
	assert.Equal(t, []byte("ext"), r.Header.Extra)
	assert.Equal(t, byte(3), r.Header.OS)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReaderSingleMember(t *testing.T) {
	first := member(t, []byte("first"), false)
	second := member(t, []byte("second"), false)
	got, err := decompress(t, append(append([]byte{}, first...), second...))
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
}

func TestReaderErrors(t *testing.T) {
	good := member(t, []byte("some data to protect"), true)
	corrupt := func(i int) []byte {
		b := append([]byte{}, good...)
		b[i] ^= 0xff
		return b
	}
	tests := []struct {
		name   string
		input  []byte
		target error
	}{
		{name: "empty", input: nil, target: errs.ErrTruncated},
		{name: "short header", input: good[:5], target: errs.ErrTruncated},
		{name: "bad magic", input: corrupt(0), target: errs.ErrFormat},
		{name: "bad method", input: append([]byte{gzipID1, gzipID2, 7}, good[3:]...), target: errs.ErrUnsupported},
		{name: "reserved flags", input: append([]byte{gzipID1, gzipID2, gzipDeflate, 0x80}, good[4:]...), target: errs.ErrFormat},
		{name: "unterminated name", input: good[:18], target: errs.ErrTruncated},
		{name: "bad header crc", input: corrupt(15), target: errs.ErrFormat},
		{name: "bad crc", input: corrupt(len(good) - 8), target: errs.ErrFormat},
		{name: "bad size", input: corrupt(len(good) - 1), target: errs.ErrFormat},
		{name: "truncated trailer", input: good[:len(good)-3], target: errs.ErrTruncated},
		{name: "truncated body", input: good[:len(good)-12], target: errs.ErrTruncated},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := decompress(t, test.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, test.target), "got %v", err)
		})
	}
}

func TestWriterLifecycle(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Finish())
	require.NoError(t, w.Finish())
	_, err = w.Write([]byte("more"))
	assert.True(t, errors.Is(err, errs.ErrUsage))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	_, err = w.Write([]byte("more"))
	assert.True(t, errors.Is(err, errs.ErrClosed))

	got, err := decompress(t, buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	_, err = r.Read(make([]byte, 1))
	assert.True(t, errors.Is(err, errs.ErrClosed))
}
