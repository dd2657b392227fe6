package arraystream

import (
	"fmt"
)

// Kind classifies the errors that terminate a Stream.  Each Kind is itself an
// error, so that
//
//	errors.Is(err, arraystream.ErrTruncated)
//
// tells whether err is an *Error of that kind.
type Kind uint8

const (
	// ErrTransport: the chunk source failed (network error, cancelled
	// context...).
	ErrTransport Kind = iota + 1

	// ErrInflate: compressed input could not be decompressed.
	ErrInflate

	// ErrMalformedJSON: unbalanced or mismatched brackets, invalid escape,
	// misplaced separator, or element too large.
	ErrMalformedJSON

	// ErrDecode: an element is valid JSON but the decoder rejected it.
	ErrDecode

	// ErrTruncated: the input ended inside an element or before the
	// document was complete.
	ErrTruncated
)

func (k Kind) Error() string {
	switch k {
	case ErrTransport:
		return "transport error"
	case ErrInflate:
		return "inflate error"
	case ErrMalformedJSON:
		return "malformed JSON"
	case ErrDecode:
		return "decode error"
	case ErrTruncated:
		return "truncated stream"
	default:
		return fmt.Sprintf("error kind %d", uint8(k))
	}
}

// An Error is returned by a Stream when it fails.  Once a Stream has returned
// an Error, it keeps returning it.
type Error struct {
	Kind Kind

	// Absolute offset in the (decompressed) input where the error was
	// detected.  For ErrDecode it is the start of the rejected element.
	Offset int64

	// The underlying cause, may be nil.
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("arraystream: %s at offset %d", e.Kind, e.Offset)
	}
	return fmt.Sprintf("arraystream: %s at offset %d: %s", e.Kind, e.Offset, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, kind) work.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}
