package prefetch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	commandBuffer = 16
	resultBuffer  = 64

	DefaultThreads      = 2
	DefaultPollInterval = 100 * time.Millisecond
	DefaultMaxFrames    = 120
	DefaultMaxScan      = 100
	DefaultBaseSleep    = 8 * time.Millisecond
	DefaultMinSleep     = time.Millisecond
	DefaultMaxSleep     = 40 * time.Millisecond
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("prefetch: manager closed")

// Option configures a Manager.
type Option func(*Manager)

// WithThreads sets the number of workers per generation, at most the
// command buffer size.
func WithThreads(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.threads = min(n, commandBuffer)
		}
	}
}

// WithPollInterval sets how long an idle worker waits for a command before
// rechecking for cancellation.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.poll = d }
}

// WithMaxFrames caps the targets a worker visits per Start.
func WithMaxFrames(n int) Option {
	return func(m *Manager) { m.maxFrames = n }
}

// WithMaxScan caps the frames decoded while looking for one target.
func WithMaxScan(n int) Option {
	return func(m *Manager) { m.maxScan = n }
}

// WithThrottle sets the inter-frame sleep: base divided by the scrub
// velocity, clamped to [min, max].
func WithThrottle(base, min, max time.Duration) Option {
	return func(m *Manager) {
		m.baseSleep, m.minSleep, m.maxSleep = base, min, max
	}
}

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// Manager runs at most one generation of prefetch workers at a time.
// Start, Stop and Close may be called from any goroutine.
type Manager struct {
	pctx *Context
	log  *slog.Logger

	threads   int
	poll      time.Duration
	maxFrames int
	maxScan   int
	baseSleep time.Duration
	minSleep  time.Duration
	maxSleep  time.Duration

	cmds    chan command
	results chan Result

	mu     sync.Mutex // serializes Start, Stop and Close
	group  *errgroup.Group
	cancel context.CancelFunc

	state     atomic.Int32
	running   atomic.Bool
	direction atomic.Int32
	live      atomic.Int32
	dead      atomic.Int64
	dropped   atomic.Int64
}

// NewManager returns an idle manager for pctx. No workers run until Start.
func NewManager(pctx *Context, opts ...Option) *Manager {
	m := &Manager{
		pctx:      pctx,
		threads:   DefaultThreads,
		poll:      DefaultPollInterval,
		maxFrames: DefaultMaxFrames,
		maxScan:   DefaultMaxScan,
		baseSleep: DefaultBaseSleep,
		minSleep:  DefaultMinSleep,
		maxSleep:  DefaultMaxSleep,
		cmds:      make(chan command, commandBuffer),
		results:   make(chan Result, resultBuffer),
	}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("component", "prefetch")
	return m
}

// Start begins prefetching from currentTime in direction (-1 or 1) at the
// given scrub velocity. A running generation is stopped and joined first.
func (m *Manager) Start(direction int, velocity float64, currentTime int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() == StateShutdown {
		return ErrClosed
	}
	if m.running.Load() {
		m.stopLocked()
	}

	m.setState(StateStarting)
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.group = &errgroup.Group{}
	m.direction.Store(int32(direction))
	m.running.Store(true)

	for i := range m.threads {
		m.live.Add(1)
		w := &worker{m: m, id: i}
		m.group.Go(func() error {
			w.run(ctx)
			return nil
		})
	}

	origin := m.pctx.FrameIndex(currentTime)
	for i := range m.threads {
		m.send(command{
			kind:      cmdStart,
			direction: direction,
			velocity:  velocity,
			origin:    origin,
			lane:      i,
			lanes:     m.threads,
		})
	}

	m.setState(StateRunning)
	m.log.Debug("prefetch started", "direction", direction, "velocity", velocity,
		"from_us", currentTime, "workers", m.threads)
	return nil
}

// Stop cancels the running generation and waits for its workers. It is a
// no-op when nothing runs.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running.Load() {
		m.stopLocked()
	}
}

func (m *Manager) stopLocked() {
	m.setState(StateStopping)
	m.shutdownWorkers(cmdStop)
	m.running.Store(false)
	m.direction.Store(0)
	m.setState(StateIdle)
	m.log.Debug("prefetch stopped", "dead_workers", m.dead.Load())
}

// shutdownWorkers cancels the generation, signals every worker with kind,
// joins them, and discards commands nobody consumed.
func (m *Manager) shutdownWorkers(kind commandKind) {
	if m.cancel != nil {
		m.cancel()
	}
	for range m.threads {
		// Workers also exit on cancellation, so a full channel is fine.
		select {
		case m.cmds <- command{kind: kind}:
		default:
		}
	}
	if m.group != nil {
		_ = m.group.Wait()
	}
	m.group, m.cancel = nil, nil
	for {
		select {
		case <-m.cmds:
		default:
			return
		}
	}
}

// Close stops any running generation and retires the manager. The results
// channel is closed once all workers have exited.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() == StateShutdown {
		return
	}
	m.shutdownWorkers(cmdShutdown)
	m.running.Store(false)
	m.direction.Store(0)
	m.setState(StateShutdown)
	close(m.results)
	m.log.Debug("prefetch closed")
}

// Results returns the channel workers report on. Results are dropped
// rather than block a worker when nobody reads.
func (m *Manager) Results() <-chan Result { return m.results }

func (m *Manager) IsRunning() bool { return m.running.Load() }

func (m *Manager) Direction() int { return int(m.direction.Load()) }

func (m *Manager) State() State { return State(m.state.Load()) }

// LiveWorkers returns the number of worker goroutines currently running.
func (m *Manager) LiveWorkers() int { return int(m.live.Load()) }

// DeadWorkers counts workers that exited by panic over the manager's life.
func (m *Manager) DeadWorkers() int64 { return m.dead.Load() }

// DroppedResults counts results discarded because the channel was full.
func (m *Manager) DroppedResults() int64 { return m.dropped.Load() }

func (m *Manager) setState(s State) { m.state.Store(int32(s)) }

func (m *Manager) send(c command) {
	m.cmds <- c
}

func (m *Manager) emit(r Result) {
	select {
	case m.results <- r:
	default:
		m.dropped.Add(1)
	}
}

// sleepFor returns the inter-frame throttle for velocity.
func (m *Manager) sleepFor(velocity float64) time.Duration {
	if velocity < 0 {
		velocity = -velocity
	}
	if velocity == 0 {
		return m.maxSleep
	}
	d := time.Duration(float64(m.baseSleep) / velocity)
	return min(max(d, m.minSleep), m.maxSleep)
}
