// Package cache implements the three-tier frame cache that backs random
// access during scrubbing.
//
// L1 holds recently served frames, L2 is an index of keyframes used for
// coarse seeks, and L3 is bulk storage filled by the prefetch workers. Each
// tier has its own capacity and its own locks, so foreground lookups never
// wait on a global lock held by a background insert. Eviction is strictly by
// insertion order: the oldest inserted key goes first, regardless of how
// recently it was read.
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/zsiec/scrub/internal/media"
)

// Tier identifies one of the three cache partitions.
type Tier int

const (
	L1 Tier = iota // hot: recently served frames
	L2             // keyframes only
	L3             // cold: prefetched frames
)

func (t Tier) String() string {
	switch t {
	case L1:
		return "l1"
	case L2:
		return "l2"
	case L3:
		return "l3"
	default:
		return "unknown"
	}
}

// Config sets per-tier capacities. It is fixed once the cache is built.
type Config struct {
	L1Capacity     int
	L2Capacity     int
	L3Capacity     int
	EnablePrefetch bool
}

// DefaultConfig returns the capacities used when the caller has no
// preference: 30 hot frames, 100 keyframes, 500 cold frames.
func DefaultConfig() Config {
	return Config{
		L1Capacity:     30,
		L2Capacity:     100,
		L3Capacity:     500,
		EnablePrefetch: true,
	}
}

// Cache is a three-tier associative store keyed by presentation timestamp
// in microseconds. All methods are safe for concurrent use and none of them
// fail: a tier with capacity <= 0 simply never retains anything.
type Cache struct {
	cfg    Config
	tiers  [3]*tier
	misses atomic.Uint64
}

// New creates an empty cache.
func New(cfg Config) *Cache {
	return &Cache{
		cfg: cfg,
		tiers: [3]*tier{
			newTier(cfg.L1Capacity, false),
			newTier(cfg.L2Capacity, true),
			newTier(cfg.L3Capacity, false),
		},
	}
}

// Config returns the configuration the cache was built with.
func (c *Cache) Config() Config {
	return c.cfg
}

// Get looks up a frame within tolerance microseconds of pts, checking L1,
// then L2, then L3. The first tier holding a match serves the request and
// has its hit counter incremented. A hit in L2 or L3 is promoted into L1
// under pts so the next nearby lookup stays in the hot tier.
//
// A total miss returns false and leaves the statistics untouched; callers
// that cannot source the frame elsewhere report it with RecordMiss.
func (c *Cache) Get(pts, tolerance int64) (*media.VideoFrame, bool) {
	for _, t := range []Tier{L1, L2, L3} {
		tr := c.tiers[t]
		f, ok := tr.find(pts, tolerance)
		if !ok {
			continue
		}
		tr.hits.Add(1)
		if t != L1 {
			c.tiers[L1].insert(pts, f)
		}
		return f.Clone(), true
	}
	return nil, false
}

// Contains reports whether any tier holds a frame within tolerance of pts.
// Unlike Get it neither promotes nor counts the lookup.
func (c *Cache) Contains(pts, tolerance int64) bool {
	for _, tr := range c.tiers {
		if _, ok := tr.find(pts, tolerance); ok {
			return true
		}
	}
	return false
}

// RecordMiss counts a lookup that neither the cache nor the decoder could
// satisfy.
func (c *Cache) RecordMiss() {
	c.misses.Add(1)
}

// InsertL1 stores f in the hot tier.
func (c *Cache) InsertL1(pts int64, f *media.VideoFrame) {
	c.tiers[L1].insert(pts, f)
}

// InsertL2 stores f in the keyframe tier. Frames without the keyframe flag
// are ignored.
func (c *Cache) InsertL2(pts int64, f *media.VideoFrame) {
	c.tiers[L2].insert(pts, f)
}

// InsertL3 stores f in the cold tier.
func (c *Cache) InsertL3(pts int64, f *media.VideoFrame) {
	c.tiers[L3].insert(pts, f)
}

// Insert stores f in tier t.
func (c *Cache) Insert(t Tier, pts int64, f *media.VideoFrame) {
	if t < L1 || t > L3 {
		return
	}
	c.tiers[t].insert(pts, f)
}

// Len returns the number of entries currently held by tier t.
func (c *Cache) Len(t Tier) int {
	if t < L1 || t > L3 {
		return 0
	}
	n, _ := c.tiers[t].usage()
	return n
}

// Statistics returns a snapshot of entry counts, hit and miss counters and
// memory usage. Sizes are summed at call time under short read locks.
func (c *Cache) Statistics() Statistics {
	l1n, l1b := c.tiers[L1].usage()
	l2n, l2b := c.tiers[L2].usage()
	l3n, l3b := c.tiers[L3].usage()

	return Statistics{
		L1Entries:        l1n,
		L2Entries:        l2n,
		L3Entries:        l3n,
		L1Hits:           c.tiers[L1].hits.Load(),
		L2Hits:           c.tiers[L2].hits.Load(),
		L3Hits:           c.tiers[L3].hits.Load(),
		Misses:           c.misses.Load(),
		MemoryUsageBytes: uint64(l1b + l2b + l3b),
	}
}

// Clear drops every entry from every tier. Hit and miss counters keep
// accumulating across clears for the lifetime of the cache.
func (c *Cache) Clear() {
	for _, tr := range c.tiers {
		tr.clear()
	}
}

// tier is one partition: a timestamp map plus the order in which keys were
// inserted. The map and the queue have separate locks; writers always take
// mu before orderMu.
type tier struct {
	capacity      int
	keyframesOnly bool

	mu     sync.RWMutex
	frames map[int64]*media.VideoFrame

	orderMu sync.Mutex
	order   []int64

	hits atomic.Uint64
}

func newTier(capacity int, keyframesOnly bool) *tier {
	return &tier{
		capacity:      capacity,
		keyframesOnly: keyframesOnly,
		frames:        make(map[int64]*media.VideoFrame),
	}
}

// insert evicts the oldest inserted keys until there is room, then stores
// f. Re-inserting a key that is already present appends a second queue
// entry; when that stale entry reaches the front it removes the live key.
func (t *tier) insert(pts int64, f *media.VideoFrame) {
	if f == nil || (t.keyframesOnly && !f.IsKeyframe) {
		return
	}
	if t.capacity <= 0 {
		return
	}

	stored := f.Clone()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.orderMu.Lock()
	defer t.orderMu.Unlock()

	for len(t.frames) >= t.capacity && len(t.order) > 0 {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.frames, oldest)
	}

	t.frames[pts] = stored
	t.order = append(t.order, pts)
}

// find returns the exact entry for pts if present, otherwise the entry
// closest to pts within tolerance. Ties go to whichever the map yields
// first.
func (t *tier) find(pts, tolerance int64) (*media.VideoFrame, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if f, ok := t.frames[pts]; ok {
		return f, true
	}
	if tolerance <= 0 {
		return nil, false
	}

	lo, hi := pts-tolerance, pts+tolerance
	var (
		best     *media.VideoFrame
		bestDist int64
	)
	for k, f := range t.frames {
		if k < lo || k > hi {
			continue
		}
		d := k - pts
		if d < 0 {
			d = -d
		}
		if best == nil || d < bestDist {
			best, bestDist = f, d
		}
	}
	return best, best != nil
}

func (t *tier) usage() (entries, bytes int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, f := range t.frames {
		bytes += f.Size()
	}
	return len(t.frames), bytes
}

func (t *tier) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orderMu.Lock()
	defer t.orderMu.Unlock()

	t.frames = make(map[int64]*media.VideoFrame)
	t.order = nil
}
