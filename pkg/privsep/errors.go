package privsep

import (
	"errors"
	"fmt"
)

var (
	// ErrShortBuffer indicates a shift_* call found fewer live bytes than the
	// atom it was asked to decode requires.
	ErrShortBuffer = errors.New("privsep: short buffer")

	// ErrNoTerminator indicates shift_string found no NUL before the live
	// region was exhausted.
	ErrNoTerminator = errors.New("privsep: no NUL terminator in buffer")

	// ErrConnectionClosed indicates the peer closed the connection, either
	// mid-frame or before a frame was sent.
	ErrConnectionClosed = errors.New("privsep: connection closed by peer")

	// ErrFrameTooLarge indicates a frame length prefix exceeds the configured
	// maximum, guarding against a malicious or corrupt peer forcing a huge
	// allocation.
	ErrFrameTooLarge = errors.New("privsep: frame exceeds maximum size")

	// ErrUnknownCommand indicates the daemon received a command token it does
	// not recognize. The connection is dropped; the daemon keeps running.
	ErrUnknownCommand = errors.New("privsep: unknown command")

	// ErrNoSuchKey indicates a handle did not resolve to a registered key.
	ErrNoSuchKey = errors.New("privsep: no such key")
)

// Error wraps an underlying error with the operation that produced it. This
// package's Bootstrap, LoadPrivateKeyFile, WriteFrame and ReadFrame report
// errors in this shape; the subpackages use plain fmt.Errorf wrapping.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("privsep.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func errorf(op string, format string, args ...any) error {
	return &Error{Op: op, Err: fmt.Errorf(format, args...)}
}
