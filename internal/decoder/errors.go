package decoder

import (
	"errors"
	"io/fs"

	"github.com/zsiec/scrub/internal/engine"
)

// Facade errors. Engine failures surface as *engine.Error values wrapping
// the engine sentinels.
var (
	ErrNotPrepared   = errors.New("decoder: not prepared")
	ErrInvalidHandle = errors.New("decoder: invalid handle")
	// ErrOutOfMemory is returned when a Registry is at its decoder limit.
	ErrOutOfMemory = errors.New("decoder: out of memory")
)

// Code is the numeric result taxonomy exposed to hosts.
type Code int32

const (
	CodeSuccess          Code = 0
	CodeFileNotFound     Code = 1
	CodeInvalidFormat    Code = 2
	CodeCodecUnsupported Code = 3
	CodeDecodeFailed     Code = 4
	CodeSeekFailed       Code = 5
	CodeOutOfMemory      Code = 6
	CodeInvalidHandle    Code = 7
	CodeNotPrepared      Code = 8
	CodeUnknown          Code = 99
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeFileNotFound:
		return "file-not-found"
	case CodeInvalidFormat:
		return "invalid-format"
	case CodeCodecUnsupported:
		return "codec-unsupported"
	case CodeDecodeFailed:
		return "decode-failed"
	case CodeSeekFailed:
		return "seek-failed"
	case CodeOutOfMemory:
		return "out-of-memory"
	case CodeInvalidHandle:
		return "invalid-handle"
	case CodeNotPrepared:
		return "not-prepared"
	default:
		return "unknown"
	}
}

// CodeOf classifies err.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return CodeFileNotFound
	case errors.Is(err, engine.ErrInvalidFormat):
		return CodeInvalidFormat
	case errors.Is(err, engine.ErrCodecUnsupported):
		return CodeCodecUnsupported
	case errors.Is(err, engine.ErrDecodeFailed):
		return CodeDecodeFailed
	case errors.Is(err, engine.ErrSeekFailed):
		return CodeSeekFailed
	case errors.Is(err, ErrOutOfMemory):
		return CodeOutOfMemory
	case errors.Is(err, ErrInvalidHandle):
		return CodeInvalidHandle
	case errors.Is(err, ErrNotPrepared):
		return CodeNotPrepared
	default:
		return CodeUnknown
	}
}
