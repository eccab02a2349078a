package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by all engines. Open failures are terminal for a
// source; seek and decode failures are per call.
var (
	ErrNotFound         = errors.New("engine: source not found")
	ErrInvalidFormat    = errors.New("engine: invalid format")
	ErrCodecUnsupported = errors.New("engine: codec not supported")
	ErrSeekFailed       = errors.New("engine: seek failed")
	ErrDecodeFailed     = errors.New("engine: decode failed")
)

// Error records the operation and source that failed along with the
// underlying cause, which normally wraps one of the sentinels above.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("engine: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("engine: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error for op on path whose cause wraps kind.
func Errorf(op, path string, kind error, format string, args ...any) error {
	return &Error{
		Op:   op,
		Path: path,
		Err:  fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...)),
	}
}

// IsTerminal reports whether err means the source can never be decoded.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidFormat) ||
		errors.Is(err, ErrCodecUnsupported)
}
