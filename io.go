package ziparchive

import (
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/martin-sucha/ziparchive/errs"
)

// sharedSource is the seekable handle behind a ZipFile. Every entry stream
// reads through it, so each seek-then-read happens under mu.
type sharedSource struct {
	mu     sync.Mutex
	rs     io.ReadSeeker
	size   int64
	closer io.Closer // nil unless the handle is owned
	closed bool
}

// readAt fills p from position off. A short read returns io.EOF or
// io.ErrUnexpectedEOF like io.ReadFull does.
func (s *sharedSource) readAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errs.ErrClosed
	}
	if _, err := s.rs.Seek(off, io.SeekStart); err != nil {
		return 0, errors.Wrapf(err, "zip: seek to %d", off)
	}
	return io.ReadFull(s.rs, p)
}

func (s *sharedSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *sharedSource) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return errors.Wrap(s.closer.Close(), "zip: close source")
	}
	return nil
}

// sectionReader reads the window [off, off+remaining) of a sharedSource.
// It keeps its own position, so any number of them may be open at once.
type sectionReader struct {
	src       *sharedSource
	off       int64
	remaining int64
}

func (r *sectionReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.src.readAt(p, r.off)
	r.off += int64(n)
	r.remaining -= int64(n)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// The window was computed from headers, so the source is shorter
		// than they claim.
		err = errs.FromRead(io.ErrUnexpectedEOF, "entry data")
	}
	return n, err
}
