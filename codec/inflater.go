package codec

import (
	"bufio"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
	"go4.org/readerutil"

	"github.com/martin-sucha/ziparchive/errs"
)

// zlibPresetDict is the FDICT bit of the zlib FLG byte.
const zlibPresetDict = 0x20

// Inflater is a DEFLATE decoding session reading compressed bytes from a
// source.
type Inflater struct {
	mu       sync.Mutex
	cfg      config
	pulled   int64 // bytes taken from the source
	window   *bufio.Reader
	dec      io.ReadCloser
	needDict bool
	finished bool
	ended    bool
	out      int64
	err      error
}

// NewInflater starts a decoding session over src. The decoder never pulls
// more than the window size past the end of the compressed stream.
func NewInflater(src io.Reader, opts ...Option) *Inflater {
	f := &Inflater{cfg: newConfig(opts)}
	f.window = bufio.NewReaderSize(&readerutil.CountingReader{Reader: src, N: &f.pulled}, f.cfg.windowSize)
	return f
}

func (f *Inflater) init() error {
	if f.cfg.zlib {
		hdr, err := f.window.Peek(2)
		if err != nil {
			return errs.FromRead(err, "zlib header")
		}
		if hdr[1]&zlibPresetDict != 0 && f.cfg.dict == nil {
			f.needDict = true
			return errs.Usagef("codec: preset dictionary required")
		}
		f.needDict = false
		dec, err := zlib.NewReaderDict(f.window, f.cfg.dict)
		if err != nil {
			return classify(err)
		}
		f.dec = dec
		return nil
	}
	if f.cfg.dict != nil {
		f.dec = flate.NewReaderDict(f.window, f.cfg.dict)
	} else {
		f.dec = flate.NewReader(f.window)
	}
	return nil
}

func classify(err error) error {
	switch err.(type) {
	case flate.CorruptInputError, flate.InternalError:
		return &errs.Error{Kind: errs.Format, Msg: "codec: corrupt deflate stream", Err: err}
	}
	switch err {
	case io.ErrUnexpectedEOF, io.EOF:
		return errs.FromRead(err, "deflate stream")
	case zlib.ErrChecksum, zlib.ErrHeader, zlib.ErrDictionary:
		return &errs.Error{Kind: errs.Format, Msg: "codec: bad zlib stream", Err: err}
	}
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	return errors.Wrap(err, "codec: inflate")
}

// Read decodes into p. It returns io.EOF once the end of the compressed
// stream has been decoded.
func (f *Inflater) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return 0, errs.ErrClosed
	}
	if f.finished {
		return 0, io.EOF
	}
	if f.err != nil {
		return 0, f.err
	}
	if f.dec == nil {
		if err := f.init(); err != nil {
			if !f.needDict {
				f.err = err
			}
			return 0, err
		}
	}
	n, err := f.dec.Read(p)
	f.out += int64(n)
	switch {
	case err == io.EOF:
		f.finished = true
	case err != nil:
		f.err = classify(err)
		err = f.err
	}
	return n, err
}

// SetDictionary supplies the preset dictionary. It must be called before
// any output has been produced.
func (f *Inflater) SetDictionary(dict []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return errs.ErrClosed
	}
	if f.dec != nil {
		return errs.Usagef("codec: dictionary set after decoding started")
	}
	f.cfg.dict = dict
	return nil
}

// NeedsDictionary reports whether decoding stopped because the zlib header
// requests a preset dictionary that was not supplied.
func (f *Inflater) NeedsDictionary() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.needDict
}

// NeedsInput reports whether the read-ahead window is empty, so the next
// decoding step will pull from the source.
func (f *Inflater) NeedsInput() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.finished && f.window.Buffered() == 0
}

// Finished reports whether the end of the compressed stream was decoded.
func (f *Inflater) Finished() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished
}

// Remaining returns the number of bytes pulled from the source that the
// decoder has not consumed.
func (f *Inflater) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.window.Buffered()
}

// Unread returns a copy of the bytes pulled from the source that the
// decoder has not consumed. After Finished these belong to whatever follows
// the compressed stream.
func (f *Inflater) Unread() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := f.window.Peek(f.window.Buffered())
	return append([]byte(nil), b...)
}

// TotalIn returns the number of compressed bytes consumed by the decoder.
func (f *Inflater) TotalIn() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulled - int64(f.window.Buffered())
}

// TotalOut returns the number of decompressed bytes produced.
func (f *Inflater) TotalOut() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out
}

// End releases the session. It is safe to call more than once.
func (f *Inflater) End() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return nil
	}
	f.ended = true
	var err error
	if f.dec != nil {
		err = f.dec.Close()
		f.dec = nil
	}
	return errors.Wrap(err, "codec: end")
}

// Close is End, so an Inflater can be used as an io.ReadCloser.
func (f *Inflater) Close() error { return f.End() }
