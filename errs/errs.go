// Package errs defines the error taxonomy shared by the zip, gzip and codec
// packages.
//
// Callers distinguish the classes with errors.Is:
//
//	if errors.Is(err, errs.ErrTruncated) {
//		// the stream was cut short
//	}
package errs

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Kind classifies an Error.
type Kind int

const (
	// Format is malformed input: bad signature, bad field value,
	// checksum or size mismatch.
	Format Kind = iota + 1
	// Truncated means the input ended before a fixed-size or
	// length-prefixed field was fully read.
	Truncated
	// Usage is a caller error such as operating on a closed stream.
	Usage
	// Unsupported is valid input using a feature this module does not
	// implement (spanned archives, unknown compression methods).
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case Format:
		return "format error"
	case Truncated:
		return "truncated input"
	case Usage:
		return "usage error"
	case Unsupported:
		return "unsupported"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the error type returned by this module.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same kind. Unsupported
// errors also match ErrFormat.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Msg != "" {
		return e == t
	}
	return t.Kind == e.Kind || (t.Kind == Format && e.Kind == Unsupported)
}

// Sentinels for errors.Is.
var (
	ErrFormat      = &Error{Kind: Format}
	ErrTruncated   = &Error{Kind: Truncated}
	ErrUsage       = &Error{Kind: Usage}
	ErrUnsupported = &Error{Kind: Unsupported}

	// ErrClosed is returned by data operations on a closed or ended object.
	ErrClosed = &Error{Kind: Usage, Msg: "use of closed stream"}
)

func newf(k Kind, format string, args ...interface{}) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Formatf returns a Format error.
func Formatf(format string, args ...interface{}) error { return newf(Format, format, args...) }

// Truncatedf returns a Truncated error.
func Truncatedf(format string, args ...interface{}) error { return newf(Truncated, format, args...) }

// Usagef returns a Usage error.
func Usagef(format string, args ...interface{}) error { return newf(Usage, format, args...) }

// Unsupportedf returns an Unsupported error.
func Unsupportedf(format string, args ...interface{}) error {
	return newf(Unsupported, format, args...)
}

// FromRead classifies an error returned while reading the field described
// by what. End of input becomes a Truncated error; errors that already
// belong to this taxonomy are returned unchanged; anything else is wrapped
// with context.
func FromRead(err error, what string) error {
	if err == nil {
		return nil
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return &Error{Kind: Truncated, Msg: "unexpected end of input reading " + what, Err: err}
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return errors.Wrapf(err, "reading %s", what)
}
