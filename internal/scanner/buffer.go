package scanner

// Buffer holds the bytes that have been received but not consumed yet.
// Offsets are absolute, counted from the start of the input, so they remain
// valid when the buffer is compacted.
type Buffer struct {
	buf []byte

	// Absolute offset of buf[0]
	base int64

	// Position in buf of the first unconsumed byte
	// 0 <= cursor <= len(buf)
	cursor int
}

// NewBuffer returns an empty Buffer with the given initial capacity.
func NewBuffer(capacity int) *Buffer {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	return &Buffer{buf: make([]byte, 0, capacity)}
}

// Append copies p at the end of the buffer.  If p does not fit, consumed
// bytes are dropped first and then the buffer grows geometrically.
func (b *Buffer) Append(p []byte) {
	if len(b.buf)+len(p) > cap(b.buf) {
		b.compact()
	}
	if n := len(b.buf) + len(p); n > cap(b.buf) {
		newCap := 2 * cap(b.buf)
		if newCap < n {
			newCap = n
		}
		newBuf := make([]byte, len(b.buf), newCap)
		copy(newBuf, b.buf)
		b.buf = newBuf
	}
	b.buf = append(b.buf, p...)
}

// Consume marks all bytes before the absolute offset off as consumed.  They
// may be dropped by any later call to Append or Compact.
func (b *Buffer) Consume(off int64) {
	i := int(off - b.base)
	if i < b.cursor || i > len(b.buf) {
		panic("consume offset outside of buffer")
	}
	b.cursor = i
}

// Compact drops the consumed bytes if they take at least half the capacity of
// the buffer.
func (b *Buffer) Compact() {
	if b.cursor > 0 && b.cursor >= cap(b.buf)/2 {
		b.compact()
	}
}

func (b *Buffer) compact() {
	if b.cursor == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.cursor:])
	b.buf = b.buf[:n]
	b.base += int64(b.cursor)
	b.cursor = 0
}

// Window returns the retained bytes, starting at absolute offset Base().  The
// slice is only valid until the next call to Append or Compact.
func (b *Buffer) Window() []byte {
	return b.buf
}

// Base returns the absolute offset of the first retained byte.
func (b *Buffer) Base() int64 {
	return b.base
}

// End returns the absolute offset just after the last received byte.
func (b *Buffer) End() int64 {
	return b.base + int64(len(b.buf))
}

// Copy returns a copy of the bytes of span, which must not have been dropped.
func (b *Buffer) Copy(span Span) []byte {
	start, end := int(span.Start-b.base), int(span.End-b.base)
	if start < 0 || end > len(b.buf) || start > end {
		panic("span outside of buffer")
	}
	out := make([]byte, end-start)
	copy(out, b.buf[start:end])
	return out
}

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int {
	return len(b.buf) - b.cursor
}

// Cap returns the capacity of the buffer.
func (b *Buffer) Cap() int {
	return cap(b.buf)
}

const minCapacity = 16
