package privsep

import (
	"errors"
	"io"
)

// MaxFrameSize bounds the length prefix accepted by ReadFrame, guarding
// against a corrupt or hostile peer forcing an enormous allocation. It is
// comfortably above any RSA modulus or signature size this daemon supports.
const MaxFrameSize = 16 << 20 // 16 MiB

// WriteFrame emits size(buf) as a Number followed by buf's live bytes, as
// two Write calls (the prefix, then the payload, which is skipped when
// empty). Go's io.Writer contract already guarantees Write drains
// the full slice or returns an error (short writes are reported, not
// silently retried by the caller), so there is no manual partial-write loop
// here the way the C original needs one; the same is true of EINTR, which
// Go's runtime retries internally before returning to the caller.
func WriteFrame(w io.Writer, buf *Buffer) error {
	size := buf.Size()
	var header [numberSize]byte
	putNumber(header[:], uint64(size))

	if _, err := w.Write(header[:]); err != nil {
		return errorf("WriteFrame", "write length prefix: %w", mapIOErr(err))
	}
	if size == 0 {
		return nil
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return errorf("WriteFrame", "write payload: %w", mapIOErr(err))
	}
	return nil
}

// ReadFrame reads a length-prefixed frame into a fresh Buffer. A premature
// EOF (including one that truncates the length prefix itself) is reported as
// ErrConnectionClosed.
func ReadFrame(r io.Reader) (*Buffer, error) {
	var header [numberSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, errorf("ReadFrame", "read length prefix: %w", mapIOErr(err))
	}
	size := number(header[:])
	if size > MaxFrameSize {
		return nil, errorf("ReadFrame", "payload of %d bytes exceeds limit: %w", size, ErrFrameTooLarge)
	}

	buf := NewBuffer()
	buf.Reserve(int(size))
	if size > 0 {
		if _, err := io.ReadFull(r, buf.buf[buf.end:buf.end+int(size)]); err != nil {
			buf.Dispose()
			return nil, errorf("ReadFrame", "read payload: %w", mapIOErr(err))
		}
		buf.end += int(size)
	}
	return buf, nil
}

// mapIOErr normalizes the EOF family of errors to ErrConnectionClosed, the
// spec's vocabulary for "connection closed by peer".
func mapIOErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrConnectionClosed
	}
	return err
}
