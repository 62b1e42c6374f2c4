package privsep

import "runtime"

// initialCapacity is the starting allocation for a fresh Buffer; growth
// doubles from here.
const initialCapacity = 4096

// Buffer is a growable byte region with push/shift accessors. push_* appends
// to the live region [start, end); shift_* consumes from its front. A single
// type serves both the send path (push then write-framed) and the receive
// path (read-framed then shift), so peer and daemon share one implementation.
//
// Buffer is not safe for concurrent use; each request/response cycle owns its
// own Buffer.
type Buffer struct {
	buf   []byte
	start int
	end   int
}

// NewBuffer returns an empty Buffer with its initial capacity pre-allocated.
func NewBuffer() *Buffer {
	return &Buffer{buf: make([]byte, initialCapacity)}
}

// Size reports the number of live, unread bytes in the buffer.
func (b *Buffer) Size() int {
	return b.end - b.start
}

// Bytes returns the live region [start, end). The returned slice aliases the
// buffer's storage and is invalidated by the next push/reserve call.
func (b *Buffer) Bytes() []byte {
	return b.buf[b.start:b.end]
}

// Reserve ensures extra more bytes fit after end, growing and repacking the
// live region to start at offset 0 if necessary.
func (b *Buffer) Reserve(extra int) {
	if extra < 0 {
		panic("privsep: negative reserve")
	}
	if b.end+extra <= len(b.buf) {
		return
	}

	live := b.Size()
	needed := live + extra
	capacity := len(b.buf)
	if capacity == 0 {
		capacity = initialCapacity
	}
	for capacity < needed {
		capacity *= 2
	}

	grown := make([]byte, capacity)
	copy(grown, b.buf[b.start:b.end])
	b.buf = grown
	b.end = live
	b.start = 0
}

// PushBytes appends p to the live region.
func (b *Buffer) PushBytes(p []byte) {
	b.Reserve(len(p))
	copy(b.buf[b.end:], p)
	b.end += len(p)
}

// PushNumber appends a Number atom.
func (b *Buffer) PushNumber(v uint64) {
	b.Reserve(numberSize)
	putNumber(b.buf[b.end:], v)
	b.end += numberSize
}

// PushString appends a String atom: s followed by a terminating NUL. s must
// not contain an embedded NUL.
func (b *Buffer) PushString(s string) {
	b.Reserve(len(s) + 1)
	copy(b.buf[b.end:], s)
	b.end += len(s)
	b.buf[b.end] = 0
	b.end++
}

// PushLengthPrefixedBytes appends a Bytes atom: a Number L followed by
// exactly L raw bytes.
func (b *Buffer) PushLengthPrefixedBytes(p []byte) {
	b.PushNumber(uint64(len(p)))
	b.PushBytes(p)
}

// ShiftBytes consumes exactly n bytes from the front of the live region.
func (b *Buffer) ShiftBytes(n int) ([]byte, error) {
	if b.Size() < n {
		return nil, ErrShortBuffer
	}
	out := append([]byte(nil), b.buf[b.start:b.start+n]...)
	b.start += n
	return out, nil
}

// ShiftNumber consumes a Number atom from the front of the live region.
func (b *Buffer) ShiftNumber() (uint64, error) {
	if b.Size() < numberSize {
		return 0, ErrShortBuffer
	}
	v := number(b.buf[b.start : b.start+numberSize])
	b.start += numberSize
	return v, nil
}

// ShiftString consumes a String atom: bytes up to and including the first NUL
// in the live region. The NUL itself is consumed but not included in the
// returned string.
func (b *Buffer) ShiftString() (string, error) {
	live := b.Bytes()
	for i, c := range live {
		if c == 0 {
			s := string(live[:i])
			b.start += i + 1
			return s, nil
		}
	}
	return "", ErrNoTerminator
}

// ShiftLengthPrefixedBytes consumes a Bytes atom: a Number L followed by
// exactly L raw bytes.
func (b *Buffer) ShiftLengthPrefixedBytes() ([]byte, error) {
	n, err := b.ShiftNumber()
	if err != nil {
		return nil, err
	}
	return b.ShiftBytes(int(n))
}

// Dispose cryptographically zeroes the live region and releases the backing
// storage. The buffer may transiently hold private-key material or
// signatures, so every code path that is done with a Buffer must call
// Dispose before letting it go out of scope.
func (b *Buffer) Dispose() {
	for i := range b.buf {
		b.buf[i] = 0
	}
	runtime.KeepAlive(b.buf)
	b.buf = nil
	b.start = 0
	b.end = 0
}
