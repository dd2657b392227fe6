package arraystream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/arnodel/arraystream/chunk"
)

type shop struct {
	ID int `json:"id"`
}

// collect drains s and returns the elements and the terminal error (nil for a
// clean end).
func collect[T any](t *testing.T, s *Stream[T]) ([]T, error) {
	t.Helper()
	var out []T
	for {
		v, err := s.Next(context.Background())
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

func assertNoError(t *testing.T, err error, msgAndArgs ...any) {
	t.Helper()
	if err != nil {
		t.Fatalf("%sunexpected error: %s", messagePrefix(msgAndArgs), err)
	}
}

func assertEqual(t *testing.T, expected, actual any, msgAndArgs ...any) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Fatalf("%sexpected %#v, got %#v", messagePrefix(msgAndArgs), expected, actual)
	}
}

func assertErrorIs(t *testing.T, err, target error, msgAndArgs ...any) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("%sexpected error matching %q, got %v", messagePrefix(msgAndArgs), target, err)
	}
}

// assertStreamError checks that err is an *Error of the given kind detected
// at the given offset.
func assertStreamError(t *testing.T, err error, kind Kind, offset int64, msgAndArgs ...any) {
	t.Helper()
	assertErrorIs(t, err, kind, msgAndArgs...)
	var serr *Error
	if !errors.As(err, &serr) {
		t.Fatalf("%sexpected an *Error, got %T", messagePrefix(msgAndArgs), err)
	}
	if serr.Offset != offset {
		t.Fatalf("%sexpected error at offset %d, got %d (%s)", messagePrefix(msgAndArgs), offset, serr.Offset, serr)
	}
}

func messagePrefix(msgAndArgs []any) string {
	if len(msgAndArgs) == 0 {
		return ""
	}
	return fmt.Sprintf(msgAndArgs[0].(string), msgAndArgs[1:]...) + ": "
}

// reference extracts the elements at level with encoding/json working on the
// whole document.
func reference(t *testing.T, doc string, level int) []any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(doc))
	out := []any{}
	var walk func(depth int)
	walk = func(depth int) {
		if depth == level {
			var v any
			assertNoError(t, dec.Decode(&v))
			out = append(out, v)
			return
		}
		tok, err := dec.Token()
		assertNoError(t, err)
		switch tok {
		case json.Delim('['):
			for dec.More() {
				walk(depth + 1)
			}
			_, err = dec.Token()
			assertNoError(t, err)
		case json.Delim('{'):
			for dec.More() {
				_, err = dec.Token()
				assertNoError(t, err)
				walk(depth + 1)
			}
			_, err = dec.Token()
			assertNoError(t, err)
		}
	}
	for dec.More() {
		walk(0)
	}
	return out
}

func oneByteChunks(data []byte) *chunk.SliceSource {
	chunks := make([][]byte, len(data))
	for i := range data {
		chunks[i] = data[i : i+1]
	}
	return chunk.NewSliceSource(chunks...)
}

func randomSplits(rng *rand.Rand, data []byte, max int) *chunk.SliceSource {
	var offsets []int
	for off := rng.Intn(max) + 1; off < len(data); off += rng.Intn(max) + 1 {
		offsets = append(offsets, off)
	}
	return chunk.Split(data, offsets...)
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	assertNoError(t, err)
	assertNoError(t, w.Close())
	return buf.Bytes()
}

// countingSource records how the stream uses its source.
type countingSource struct {
	chunk.Source
	calls  int
	closed bool
}

func (s *countingSource) Next(ctx context.Context) ([]byte, error) {
	s.calls++
	return s.Source.Next(ctx)
}

func (s *countingSource) Close() error {
	s.closed = true
	return s.Source.Close()
}

const shopsDoc = `{"shops":[{"id":1},{"id":2}]}`

func TestShopsAnySplit(t *testing.T) {
	doc := []byte(shopsDoc)
	for i := 0; i <= len(doc); i++ {
		for j := i; j <= len(doc); j++ {
			s := New[shop](chunk.Split(doc, i, j), 2, 4)
			shops, err := collect(t, s)
			assertNoError(t, err, "split at %d, %d", i, j)
			assertEqual(t, []shop{{ID: 1}, {ID: 2}}, shops, "split at %d, %d", i, j)
		}
	}
}

func TestShopsRaw(t *testing.T) {
	s := NewWithDecoder[json.RawMessage](oneByteChunks([]byte(shopsDoc)), RawDecoder{}, 2, 1)
	elems, err := collect(t, s)
	assertNoError(t, err)
	if len(elems) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(elems))
	}
	assertEqual(t, `{"id":1}`, string(elems[0]))
	assertEqual(t, `{"id":2}`, string(elems[1]))
	assertEqual(t, 2, s.Count())
	assertEqual(t, int64(len(shopsDoc)), s.Offset())
}

var referenceDocs = []string{
	shopsDoc,
	`[1, 2, 3]`,
	`[]`,
	`{}`,
	`[[1, 2], [], [3, [4, 5]], {"a": [6]}]`,
	`{"a": {"b": [1, "x", null]}, "c": [true, false], "d": 7}`,
	`[{"s": "a\"]b"}, "\\\"", "[{]", {"k": "},{"}]`,
	`{"list": [{"name": "Paris", "tags": ["capital", "FR"]}, {"name": "Lyon", "tags": []}]}`,
	`[-1.5e3, 0, 12345678901234567890, "é", "\n\t"]`,
	"  [\n  {\"a\" : 1 } ,\n  {\"b\":\t2}\n]\n",
	`[[[[[[]]]]]]`,
	`"just a string"`,
	`{"deep": [[[{"x": [1, 2, {"y": "z"}]}]]]}`,
}

func TestReferenceEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, doc := range referenceDocs {
		for level := 0; level <= 5; level++ {
			expected := reference(t, doc, level)
			sources := map[string]chunk.Source{
				"whole": chunk.NewSliceSource([]byte(doc)),
				"bytes": oneByteChunks([]byte(doc)),
			}
			for i := 0; i < 5; i++ {
				sources[fmt.Sprintf("random-%d", i)] = randomSplits(rng, []byte(doc), 7)
			}
			for name, src := range sources {
				elems, err := collect(t, New[any](src, level, 8))
				assertNoError(t, err, "%s at level %d (%s)", doc, level, name)
				assertEqual(t, expected, append([]any{}, elems...), "%s at level %d (%s)", doc, level, name)
			}
		}
	}
}

func TestGzipMatchesPlain(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	var doc strings.Builder
	doc.WriteString(`{"shops":[`)
	for i := 0; i < 1000; i++ {
		if i > 0 {
			doc.WriteByte(',')
		}
		fmt.Fprintf(&doc, `{"id":%d}`, i)
	}
	doc.WriteString(`]}`)
	compressed := gzipBytes(t, []byte(doc.String()))

	for name, src := range map[string]chunk.Source{
		"whole":  chunk.NewSliceSource(compressed),
		"bytes":  oneByteChunks(compressed),
		"random": randomSplits(rng, compressed, 40),
	} {
		shops, err := collect(t, New[shop](src, 2, 16, WithGzip()))
		assertNoError(t, err, name)
		assertEqual(t, 1000, len(shops), name)
		for i, s := range shops {
			assertEqual(t, i, s.ID, name)
		}
	}
}

func TestGzipShops(t *testing.T) {
	compressed := gzipBytes(t, []byte(shopsDoc))
	shops, err := collect(t, New[shop](oneByteChunks(compressed), 2, 4, WithEncoding(chunk.Gzip)))
	assertNoError(t, err)
	assertEqual(t, []shop{{ID: 1}, {ID: 2}}, shops)
}

func TestLevelNeverReached(t *testing.T) {
	src := &countingSource{Source: chunk.NewSliceSource([]byte(`{"a": 1, "b": {"c": 2}}`))}
	s := New[any](src, 3, 8)
	elems, err := collect(t, s)
	assertNoError(t, err)
	assertEqual(t, 0, len(elems))
	assertEqual(t, true, src.closed)
	_, err = s.Next(context.Background())
	assertEqual(t, io.EOF, err)
}

func TestEmptyInput(t *testing.T) {
	elems, err := collect(t, New[any](chunk.Empty(), 1, 8))
	assertNoError(t, err)
	assertEqual(t, 0, len(elems))
}

func TestTruncated(t *testing.T) {
	doc := []byte(`{"shops":[{"id":1},{"id":2},{"id"`)
	s := New[shop](oneByteChunks(doc), 2, 4)
	shops, err := collect(t, s)
	assertEqual(t, []shop{{ID: 1}, {ID: 2}}, shops)
	assertStreamError(t, err, ErrTruncated, int64(len(doc)))
	assertErrorIs(t, err, io.ErrUnexpectedEOF)

	// Errors are sticky
	_, err2 := s.Next(context.Background())
	if err2 != err {
		t.Fatalf("expected the same error again, got %v", err2)
	}
}

func TestTruncatedBeforeLevel(t *testing.T) {
	_, err := collect(t, New[any](chunk.NewSliceSource([]byte(`{"a": {"b"`)), 3, 8))
	assertErrorIs(t, err, ErrTruncated)
}

func TestEscapedBracketInString(t *testing.T) {
	doc := []byte(`[{"s": "a\"]b"}, "x\\", "]"]`)
	elems, err := collect(t, New[any](oneByteChunks(doc), 1, 4))
	assertNoError(t, err)
	assertEqual(t, []any{map[string]any{"s": `a"]b`}, `x\`, "]"}, elems)
}

func TestScalarElements(t *testing.T) {
	ints, err := collect(t, New[int](chunk.Split([]byte(`[1,22, 333 ,4444]`), 3, 9), 1, 4))
	assertNoError(t, err)
	assertEqual(t, []int{1, 22, 333, 4444}, ints)

	strs, err := collect(t, New[string](chunk.Split([]byte(`["a","b,c","d]"]`), 5), 1, 4))
	assertNoError(t, err)
	assertEqual(t, []string{"a", "b,c", "d]"}, strs)
}

func TestLevelZeroValues(t *testing.T) {
	doc := []byte("{\"id\":1}\n{\"id\":2}\n{\"id\":3}")
	shops, err := collect(t, New[shop](randomSplits(rand.New(rand.NewSource(3)), doc, 4), 0, 4))
	assertNoError(t, err)
	assertEqual(t, []shop{{ID: 1}, {ID: 2}, {ID: 3}}, shops)

	n, err := collect(t, New[float64](chunk.NewSliceSource([]byte("3.25")), 0, 4))
	assertNoError(t, err)
	assertEqual(t, []float64{3.25}, n)
}

func TestDecodeErrorTerminates(t *testing.T) {
	doc := []byte(`[{"id":1},{"id":"two"},{"id":3}]`)
	src := &countingSource{Source: chunk.NewSliceSource(doc)}
	s := New[shop](src, 1, 8)
	shops, err := collect(t, s)
	assertEqual(t, []shop{{ID: 1}}, shops)
	assertStreamError(t, err, ErrDecode, 10)
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) {
		t.Fatalf("expected a *json.UnmarshalTypeError cause, got %v", err)
	}
	assertEqual(t, true, src.closed)

	_, err = s.Next(context.Background())
	assertErrorIs(t, err, ErrDecode)
}

func TestStrictDecoder(t *testing.T) {
	doc := []byte(`[{"id":1},{"id":2,"name":"x"}]`)
	s := NewWithDecoder[shop](chunk.NewSliceSource(doc), JSONDecoder[shop]{DisallowUnknownFields: true}, 1, 8)
	shops, err := collect(t, s)
	assertEqual(t, []shop{{ID: 1}}, shops)
	assertErrorIs(t, err, ErrDecode)

	nums, err := collect(t, NewWithDecoder[any](chunk.NewSliceSource([]byte(`[12345678901234567890]`)), JSONDecoder[any]{UseNumber: true}, 1, 8))
	assertNoError(t, err)
	assertEqual(t, []any{json.Number("12345678901234567890")}, nums)
}

func TestDecoderFunc(t *testing.T) {
	upper := DecoderFunc[string](func(data []byte) (string, error) {
		return strings.ToUpper(string(data)), nil
	})
	elems, err := collect(t, NewWithDecoder[string](chunk.NewSliceSource([]byte(`[true, "x"]`)), upper, 1, 8))
	assertNoError(t, err)
	assertEqual(t, []string{"TRUE", `"X"`}, elems)
}

func TestTransportError(t *testing.T) {
	boom := errors.New("connection reset by peer")
	sl := chunk.NewSliceSource([]byte(`[{"id":1},`), []byte(`{"id":2},{"id"`))
	sl.Err = boom
	src := &countingSource{Source: sl}
	s := New[shop](src, 1, 8)
	shops, err := collect(t, s)
	assertEqual(t, []shop{{ID: 1}, {ID: 2}}, shops)
	assertErrorIs(t, err, ErrTransport)
	assertErrorIs(t, err, boom)
	assertEqual(t, true, src.closed)

	calls := src.calls
	_, err = s.Next(context.Background())
	assertErrorIs(t, err, ErrTransport)
	assertEqual(t, calls, src.calls, "no read after failure")
}

func TestInflateError(t *testing.T) {
	compressed := gzipBytes(t, []byte(shopsDoc))
	_, err := collect(t, New[shop](chunk.NewSliceSource(compressed[:len(compressed)-6]), 2, 8, WithGzip()))
	assertErrorIs(t, err, ErrInflate)
	var ierr *chunk.InflateError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected a *chunk.InflateError cause, got %v", err)
	}

	_, err = collect(t, New[shop](chunk.NewSliceSource([]byte(shopsDoc)), 2, 8, WithGzip()))
	assertErrorIs(t, err, ErrInflate)
}

func TestMalformed(t *testing.T) {
	for _, tc := range []struct {
		doc    string
		level  int
		elems  int
		offset int64
	}{
		{`[1, 2]]`, 1, 2, 6},
		{`[{"a": 1]]`, 1, 0, 8},
		{`["\q"]`, 1, 0, 3},
		{`[1 2]`, 1, 1, 3},
		{`{"a": [1, 2}`, 2, 2, 11},
		{`[1]x`, 1, 1, 3},
		{`[1] [2]`, 1, 1, 4},
		{`{"a": [1]} {"a": [2]}`, 2, 1, 11},
	} {
		// The same outcome whatever the chunking
		for _, src := range []chunk.Source{chunk.NewSliceSource([]byte(tc.doc)), oneByteChunks([]byte(tc.doc))} {
			elems, err := collect(t, New[any](src, tc.level, 8))
			assertEqual(t, tc.elems, len(elems), tc.doc)
			assertStreamError(t, err, ErrMalformedJSON, tc.offset, tc.doc)
		}
	}
}

func TestTrailingWhitespace(t *testing.T) {
	elems, err := collect(t, New[int](oneByteChunks([]byte("[1, 2] \n\t")), 1, 8))
	assertNoError(t, err)
	assertEqual(t, []int{1, 2}, elems)
}

func TestDemandDriven(t *testing.T) {
	chunks := [][]byte{
		[]byte(`[{"id":1},{"id":2}`),
		[]byte(`,{"id":3}`),
		[]byte(`,{"id":4}]`),
	}
	src := &countingSource{Source: chunk.NewSliceSource(chunks...)}
	s := New[shop](src, 1, 8)
	ctx := context.Background()

	v, err := s.Next(ctx)
	assertNoError(t, err)
	assertEqual(t, 1, v.ID)
	assertEqual(t, 1, src.calls)

	// Already in the buffer: no read
	v, err = s.Next(ctx)
	assertNoError(t, err)
	assertEqual(t, 2, v.ID)
	assertEqual(t, 1, src.calls)

	v, err = s.Next(ctx)
	assertNoError(t, err)
	assertEqual(t, 3, v.ID)
	assertEqual(t, 2, src.calls)
	assertEqual(t, "arraystream.Stream(at level)", s.String())
}

func TestBoundedMemory(t *testing.T) {
	var doc strings.Builder
	doc.WriteString(`{"items": [`)
	for i := 0; i < 5000; i++ {
		if i > 0 {
			doc.WriteString(", ")
		}
		fmt.Fprintf(&doc, `{"id": %d, "pad": "%s"}`, i, strings.Repeat("x", i%50))
	}
	doc.WriteString(`]}`)
	src := chunk.NewReaderSourceSize(strings.NewReader(doc.String()), 64)
	s := New[shop](src, 2, 64)
	n := 0
	for v, err := range s.All(context.Background()) {
		assertNoError(t, err)
		assertEqual(t, n, v.ID)
		n++
	}
	assertEqual(t, 5000, n)
	// Largest element is about 80 bytes, a chunk is 64 bytes
	if s.buf.Cap() > 256 {
		t.Fatalf("buffer grew to %d bytes", s.buf.Cap())
	}
}

func TestBaseAfterCompaction(t *testing.T) {
	// Scanning resumes from the stream's own offsets once the start of the
	// input has been dropped from the buffer.
	var doc strings.Builder
	doc.WriteString(`[`)
	for i := 0; i < 200; i++ {
		if i > 0 {
			doc.WriteString(`,`)
		}
		fmt.Fprintf(&doc, `{"id":%d}`, i)
	}
	doc.WriteString(`]`)
	s := New[shop](chunk.NewReaderSourceSize(strings.NewReader(doc.String()), 7), 1, 16)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		v, err := s.Next(ctx)
		assertNoError(t, err)
		assertEqual(t, i, v.ID)
	}
	if s.buf.Base() == 0 {
		t.Fatal("expected the buffer to have been compacted")
	}
	shops, err := collect(t, s)
	assertNoError(t, err)
	assertEqual(t, 100, len(shops))
	assertEqual(t, 199, shops[99].ID)
}

func TestAllBreakCloses(t *testing.T) {
	src := &countingSource{Source: oneByteChunks([]byte(`[1, 2, 3, 4, 5]`))}
	s := New[int](src, 1, 8)
	var got []int
	for v, err := range s.All(context.Background()) {
		assertNoError(t, err)
		got = append(got, v)
		if len(got) == 2 {
			break
		}
	}
	assertEqual(t, []int{1, 2}, got)
	assertEqual(t, true, src.closed)
	_, err := s.Next(context.Background())
	assertErrorIs(t, err, ErrClosed)
}

func TestAllYieldsError(t *testing.T) {
	s := New[int](chunk.NewSliceSource([]byte(`[1, 2`)), 1, 8)
	var got []int
	var errs []error
	for v, err := range s.All(context.Background()) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		got = append(got, v)
	}
	assertEqual(t, []int{1}, got)
	if len(errs) != 1 {
		t.Fatalf("expected exactly one error, got %v", errs)
	}
	assertErrorIs(t, errs[0], ErrTruncated)
}

func TestCloseBeforeStart(t *testing.T) {
	src := &countingSource{Source: chunk.NewSliceSource([]byte(`[1]`))}
	s := New[int](src, 1, 8)
	assertNoError(t, s.Close())
	assertEqual(t, true, src.closed)
	assertEqual(t, 0, src.calls)
	_, err := s.Next(context.Background())
	assertErrorIs(t, err, ErrClosed)
	assertNoError(t, s.Close())
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New[int](chunk.NewSliceSource([]byte(`[1]`)), 1, 8)
	_, err := s.Next(ctx)
	assertErrorIs(t, err, ErrTransport)
	assertErrorIs(t, err, context.Canceled)
}

func TestMaxElementSize(t *testing.T) {
	doc := []byte(`[{"id":1},{"id":2,"pad":"xxxxxxxxxxxxxxxxxxxxxxxxxxxx"},{"id":3}]`)
	for _, src := range []chunk.Source{chunk.NewSliceSource(doc), oneByteChunks(doc)} {
		shops, err := collect(t, New[shop](src, 1, 8, WithMaxElementSize(16)))
		assertEqual(t, []shop{{ID: 1}}, shops)
		assertStreamError(t, err, ErrMalformedJSON, 10)
	}
}

func TestNegativeLevelPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected a panic")
		}
	}()
	New[any](chunk.Empty(), -1, 8)
}

func TestErrorMessages(t *testing.T) {
	err := &Error{Kind: ErrTruncated, Offset: 12, Err: io.ErrUnexpectedEOF}
	assertEqual(t, "arraystream: truncated stream at offset 12: unexpected EOF", err.Error())
	err = &Error{Kind: ErrDecode, Offset: 3}
	assertEqual(t, "arraystream: decode error at offset 3", err.Error())
	assertEqual(t, false, errors.Is(err, ErrTransport))
	assertEqual(t, true, errors.Is(err, ErrDecode))
}
