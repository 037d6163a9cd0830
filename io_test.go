package ziparchive

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martin-sucha/ziparchive/errs"
)

type closeCounter struct {
	closed int
}

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}

func TestSectionReader(t *testing.T) {
	data := []byte("0123456789abcdefghij")
	src := &sharedSource{rs: bytes.NewReader(data), size: int64(len(data))}

	tests := []struct {
		name      string
		off       int64
		remaining int64
		want      string
		wantErr   error
	}{
		{name: "start", off: 0, remaining: 4, want: "0123"},
		{name: "middle", off: 10, remaining: 6, want: "abcdef"},
		{name: "to end", off: 16, remaining: 4, want: "ghij"},
		{name: "empty", off: 5, remaining: 0, want: ""},
		{name: "past end", off: 16, remaining: 10, want: "ghij", wantErr: errs.ErrTruncated},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := &sectionReader{src: src, off: test.off, remaining: test.remaining}
			got, err := io.ReadAll(r)
			assert.Equal(t, test.want, string(got))
			if test.wantErr != nil {
				assert.True(t, errors.Is(err, test.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSectionReadersInterleave(t *testing.T) {
	data := []byte("aaaaaaaaaabbbbbbbbbb")
	src := &sharedSource{rs: bytes.NewReader(data), size: int64(len(data))}
	a := &sectionReader{src: src, off: 0, remaining: 10}
	b := &sectionReader{src: src, off: 10, remaining: 10}

	var gotA, gotB []byte
	buf := make([]byte, 3)
	for i := 0; i < 4; i++ {
		n, _ := a.Read(buf)
		gotA = append(gotA, buf[:n]...)
		n, _ = b.Read(buf)
		gotB = append(gotB, buf[:n]...)
	}
	assert.Equal(t, "aaaaaaaaaa", string(gotA))
	assert.Equal(t, "bbbbbbbbbb", string(gotB))
}

func TestSharedSourceClose(t *testing.T) {
	c := &closeCounter{}
	src := &sharedSource{rs: bytes.NewReader([]byte("data")), size: 4, closer: c}
	r := &sectionReader{src: src, off: 0, remaining: 4}

	require.NoError(t, src.close())
	require.NoError(t, src.close())
	assert.Equal(t, 1, c.closed)

	_, err := r.Read(make([]byte, 4))
	assert.True(t, errors.Is(err, errs.ErrClosed), "got %v", err)
}
