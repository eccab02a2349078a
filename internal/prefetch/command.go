package prefetch

import "fmt"

type commandKind uint8

const (
	cmdStart commandKind = iota
	cmdStop
	cmdShutdown
)

// command is sent to workers over the shared command channel. A start
// carries the lane its receiver covers: lane i of n decodes frame numbers
// origin + direction*(i+1+k*n).
type command struct {
	kind      commandKind
	direction int
	velocity  float64
	origin    int64 // frame number
	lane      int
	lanes     int
}

// ResultKind distinguishes worker results.
type ResultKind uint8

const (
	// ResultFrame reports a frame inserted into the cache.
	ResultFrame ResultKind = iota
	// ResultStopped reports that a worker observed a stop.
	ResultStopped
	// ResultError reports a decode or open failure. The worker keeps going
	// unless it panicked.
	ResultError
)

func (k ResultKind) String() string {
	switch k {
	case ResultFrame:
		return "frame"
	case ResultStopped:
		return "stopped"
	case ResultError:
		return "error"
	default:
		return fmt.Sprintf("ResultKind(%d)", uint8(k))
	}
}

// Result is emitted by workers on the manager's result channel.
type Result struct {
	Kind ResultKind
	PTS  int64
	Err  error
}
