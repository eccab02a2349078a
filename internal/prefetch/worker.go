package prefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zsiec/scrub/internal/engine"
	"github.com/zsiec/scrub/internal/media"
)

// seekGapFrames is how far ahead of the decoder position, in frames, a target
// may lie before a seek is cheaper than decoding forward.
const seekGapFrames = 10

type worker struct {
	m   *Manager
	id  int
	log *slog.Logger

	eng engine.Engine
	pos int64 // PTS of the last decoded frame, -1 when unknown
}

func (w *worker) run(ctx context.Context) {
	m := w.m
	w.log = m.log.With("worker", w.id)
	w.pos = -1
	defer m.live.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			m.dead.Add(1)
			w.log.Error("prefetch worker panicked", "panic", r)
			m.emit(Result{Kind: ResultError, Err: fmt.Errorf("prefetch: worker %d panic: %v", w.id, r)})
		}
		if w.eng != nil {
			w.eng.Close()
		}
	}()

	eng, err := m.pctx.Open(m.pctx.Path, m.pctx.EngineConfig)
	if err != nil {
		w.log.Warn("prefetch worker could not open source", "error", err)
		m.emit(Result{Kind: ResultError, Err: err})
		return
	}
	w.eng = eng
	if ctx.Err() != nil {
		m.emit(Result{Kind: ResultStopped})
		return
	}

	timer := time.NewTimer(m.poll)
	defer timer.Stop()
	for {
		timer.Reset(m.poll)
		select {
		case <-ctx.Done():
			m.emit(Result{Kind: ResultStopped})
			return
		case c := <-m.cmds:
			switch c.kind {
			case cmdStart:
				w.cycle(ctx, c)
			case cmdStop:
				m.emit(Result{Kind: ResultStopped})
				return
			case cmdShutdown:
				return
			}
		case <-timer.C:
		}
	}
}

// cycle visits the lane's targets until it leaves the stream, reaches the
// per-activation cap, or ctx is cancelled.
func (w *worker) cycle(ctx context.Context, c command) {
	m := w.m
	pctx := m.pctx
	dir := int64(1)
	if c.direction < 0 {
		dir = -1
	} else if c.direction == 0 {
		return
	}
	fd := pctx.FrameDuration()
	lane := dir * int64(c.lane+1)
	stride := dir * int64(c.lanes)
	n := c.origin + lane
	pause := m.sleepFor(c.velocity)
	var startPH int64
	if pctx.Playhead != nil {
		startPH = pctx.Playhead.Load()
	}

	for visited := 0; visited < m.maxFrames; visited, n = visited+1, n+stride {
		if ctx.Err() != nil {
			return
		}
		if pctx.Playhead != nil {
			if ph := pctx.Playhead.Load(); ph != startPH {
				p := pctx.FrameIndex(ph)
				if (dir > 0 && p > n) || (dir < 0 && p < n) {
					n = p + lane
				}
			}
		}
		target := pctx.FrameTime(n)
		if n < 0 || target > pctx.DurationUS {
			return
		}
		if pctx.Cache.Contains(target, fd/2) {
			continue
		}

		f, err := w.decodeAt(ctx, target, fd)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			w.log.Debug("prefetch decode failed", "target_us", target, "error", err)
			m.emit(Result{Kind: ResultError, PTS: target, Err: err})
		case f != nil:
			pctx.Cache.InsertL3(f.PTS, f)
			if f.IsKeyframe {
				pctx.Cache.InsertL2(f.PTS, f)
			}
			m.emit(Result{Kind: ResultFrame, PTS: f.PTS})
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pause):
		}
	}
}

var errCanceled = errors.New("prefetch: canceled")

// decodeAt returns the frame displayed half a frame after target, which is
// the frame nearest target, or the first frame past a gap. Close
// forward targets reuse the engine position; anything else seeks.
// A nil frame with nil error means the stream ended first.
func (w *worker) decodeAt(ctx context.Context, target, fd int64) (*media.VideoFrame, error) {
	m := w.m
	if w.pos < 0 || target <= w.pos || target-w.pos > fd*seekGapFrames {
		if err := w.eng.Seek(target); err != nil {
			w.pos = -1
			return nil, err
		}
		w.pos = -1
	}
	for range m.maxScan {
		if ctx.Err() != nil {
			return nil, errCanceled
		}
		f, err := w.eng.DecodeNextFrame()
		if errors.Is(err, io.EOF) {
			w.pos = -1
			return nil, nil
		}
		if err != nil {
			w.pos = -1
			return nil, err
		}
		w.pos = f.PTS
		if f.Covers(target+fd/2) || f.PTS >= target {
			return f, nil
		}
	}
	return nil, nil
}
