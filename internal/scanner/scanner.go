package scanner

import (
	"errors"
	"fmt"
)

// Mode is the lexical mode of the scanner.
type Mode uint8

const (
	Normal Mode = iota
	InString
	InStringEscape
)

func (m Mode) String() string {
	switch m {
	case Normal:
		return "Normal"
	case InString:
		return "InString"
	case InStringEscape:
		return "InStringEscape"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Phase records what may come next inside the container open at the target
// level.  It is only meaningful while Depth equals the target level.
type Phase uint8

const (
	// A value or the closer of the array may follow (just after '[', or at
	// level 0).
	FirstValue Phase = iota

	// A value must follow (after ',' in an array or ':' in an object).
	NextValue

	// A key or the closer of the object may follow (just after '{').
	FirstKey

	// A key must follow (after ',' in an object).
	NextKey

	// A ':' must follow (after a key).
	Colon

	// A ',' or the closer of the container must follow.  At level 0 another
	// top-level value may also follow.
	AfterValue
)

// A Span is the [Start, End) range of one element, in absolute offsets from
// the beginning of the input.
type Span struct {
	Start int64
	End   int64
}

// Len returns the number of bytes in the span.
func (s Span) Len() int {
	return int(s.End - s.Start)
}

// State is everything the scanner needs to resume.  It is a plain value: pass
// the State returned by one call of Scan to the next one.
type State struct {
	// Nesting depth, i.e. len(Stack)
	Depth int

	Mode Mode

	// Absolute offset of the first byte of the element currently being
	// scanned at the target level.
	// -1 means no element is open
	Start int64

	// Absolute offset of the next byte to scan
	Offset int64

	// True when the open element is a bare scalar (number, true, false, null),
	// which only ends at the next delimiter.
	Literal bool

	Phase Phase

	// True once Depth has been equal to the target level at least once.
	Reached bool

	// True once the top-level container has been closed, when the target
	// level is not 0.  Only whitespace may follow.
	Closed bool

	// Openers ('{' or '[') of the containers currently open.
	Stack []byte
}

// NewState returns the initial State for scanning at the given level.
func NewState(level int) State {
	return State{
		Start:   -1,
		Reached: level == 0,
	}
}

// InElement returns true if an element is open, i.e. its start has been
// seen but not its end.
func (st *State) InElement() bool {
	return st.Start >= 0
}

// ErrTruncated is returned by Finish when the input ends inside a string, an
// element or a container.
var ErrTruncated = errors.New("unexpected end of input")

// A SyntaxError reports malformed structure in the input.
type SyntaxError struct {
	Offset int64
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at offset %d", e.Msg, e.Offset)
}

func syntaxError(offset int64, format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// Scan resumes scanning at st.Offset.  The first byte of window is at
// absolute offset base, and st.Offset must be within [base, base+len(window)].
// Every element completed in window is appended to spans.  On return, the
// State has consumed the whole window unless an error is returned, in which
// case its Offset is the offset of the faulty byte.
//
// The Stack of the returned State may share memory with st.Stack.
func Scan(st State, level int, window []byte, base int64, spans []Span) (State, []Span, error) {
	i := int(st.Offset - base)
	if i < 0 || i > len(window) {
		panic("scan offset outside of window")
	}
	for ; i < len(window); i++ {
		b := window[i]
		off := base + int64(i)

		switch st.Mode {
		case InStringEscape:
			if !isEscapable(b) {
				st.Offset = off
				return st, spans, syntaxError(off, "invalid escape character %q in string", b)
			}
			st.Mode = InString
			continue
		case InString:
			switch b {
			case '\\':
				st.Mode = InStringEscape
			case '"':
				st.Mode = Normal
				if st.Depth == level && st.Start >= 0 {
					spans = append(spans, Span{Start: st.Start, End: off + 1})
					st.Start = -1
					st.Phase = AfterValue
				}
			}
			continue
		}

		if st.Literal {
			if !isDelimiter(b) {
				continue
			}
			spans = append(spans, Span{Start: st.Start, End: off})
			st.Start = -1
			st.Literal = false
			st.Phase = AfterValue
		}

		var err error
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		if st.Closed {
			st.Offset = off
			return st, spans, syntaxError(off, "unexpected %q after end of document", b)
		}
		switch b {
		case '{', '[':
			if st.Depth == level && st.Start < 0 {
				if err = st.startValue(level, b, off); err != nil {
					break
				}
				st.Start = off
			}
			st.Stack = append(st.Stack, b)
			st.Depth++
			if st.Depth == level {
				st.Reached = true
				if b == '{' {
					st.Phase = FirstKey
				} else {
					st.Phase = FirstValue
				}
			}
		case '}', ']':
			err = st.close(level, b, off)
			if err == nil && st.Depth == level && st.Start >= 0 {
				spans = append(spans, Span{Start: st.Start, End: off + 1})
				st.Start = -1
				st.Phase = AfterValue
			}
			if err == nil && level > 0 && st.Depth == 0 {
				st.Closed = true
			}
		case ',':
			if st.Depth != level {
				break
			}
			if level == 0 || st.Phase != AfterValue {
				err = syntaxError(off, "unexpected ','")
				break
			}
			if st.Stack[level-1] == '{' {
				st.Phase = NextKey
			} else {
				st.Phase = NextValue
			}
		case ':':
			if st.Depth != level {
				break
			}
			if st.Phase != Colon {
				err = syntaxError(off, "unexpected ':'")
				break
			}
			st.Phase = NextValue
		case '"':
			st.Mode = InString
			if st.Depth != level || st.Start >= 0 {
				break
			}
			if st.Phase == FirstKey || st.Phase == NextKey {
				// Object keys are not elements
				st.Phase = Colon
				break
			}
			if err = st.startValue(level, b, off); err == nil {
				st.Start = off
			}
		default:
			if st.Depth == level && st.Start < 0 {
				if err = st.startValue(level, b, off); err == nil {
					st.Start = off
					st.Literal = true
				}
			}
		}
		if err != nil {
			st.Offset = off
			return st, spans, err
		}
	}
	st.Offset = base + int64(len(window))
	return st, spans, nil
}

// Finish must be called when there is no more input, after all of it has been
// passed to Scan.  It returns the span of a bare scalar ending exactly at the
// end of input, if there is one.  It returns ErrTruncated if a string, an
// element or a container is still open.
func Finish(st State, level int) (State, Span, bool, error) {
	if st.Mode != Normal || st.Depth > 0 {
		return st, Span{}, false, ErrTruncated
	}
	if st.Literal {
		span := Span{Start: st.Start, End: st.Offset}
		st.Start = -1
		st.Literal = false
		st.Phase = AfterValue
		return st, span, true, nil
	}
	if st.Start >= 0 {
		return st, Span{}, false, ErrTruncated
	}
	return st, Span{}, false, nil
}

// startValue checks that a value may start at the target level.
func (st *State) startValue(level int, b byte, off int64) error {
	switch st.Phase {
	case FirstValue, NextValue:
		return nil
	case AfterValue:
		if level == 0 {
			return nil
		}
		return syntaxError(off, "expected ',' or closer, got %q", b)
	case Colon:
		return syntaxError(off, "expected ':', got %q", b)
	default:
		return syntaxError(off, "expected object key, got %q", b)
	}
}

func (st *State) close(level int, b byte, off int64) error {
	if st.Depth == 0 {
		return syntaxError(off, "unbalanced %q", b)
	}
	opener := st.Stack[st.Depth-1]
	if opener == '{' && b != '}' || opener == '[' && b != ']' {
		return syntaxError(off, "mismatched %q closing %q", b, opener)
	}
	if st.Depth == level {
		switch st.Phase {
		case FirstValue, FirstKey, AfterValue:
		default:
			return syntaxError(off, "unexpected %q", b)
		}
	}
	st.Stack = st.Stack[:st.Depth-1]
	st.Depth--
	return nil
}

func isEscapable(b byte) bool {
	switch b {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
		return true
	}
	return false
}

func isDelimiter(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', ',', ':', '[', ']', '{', '}', '"':
		return true
	}
	return false
}
