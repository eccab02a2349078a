package cache

// Statistics is a point-in-time view of the cache. Hit and miss counters
// are cumulative for the cache's lifetime.
type Statistics struct {
	L1Entries int `json:"l1Entries" yaml:"l1_entries"`
	L2Entries int `json:"l2Entries" yaml:"l2_entries"`
	L3Entries int `json:"l3Entries" yaml:"l3_entries"`

	L1Hits uint64 `json:"l1Hits" yaml:"l1_hits"`
	L2Hits uint64 `json:"l2Hits" yaml:"l2_hits"`
	L3Hits uint64 `json:"l3Hits" yaml:"l3_hits"`
	Misses uint64 `json:"misses" yaml:"misses"`

	MemoryUsageBytes uint64 `json:"memoryUsageBytes" yaml:"memory_usage_bytes"`
}

// TotalEntries returns the entry count summed over all tiers.
func (s Statistics) TotalEntries() int {
	return s.L1Entries + s.L2Entries + s.L3Entries
}

// Hits returns the hit count summed over all tiers.
func (s Statistics) Hits() uint64 {
	return s.L1Hits + s.L2Hits + s.L3Hits
}

// TotalAccesses returns hits plus recorded misses.
func (s Statistics) TotalAccesses() uint64 {
	return s.Hits() + s.Misses
}

// HitRate returns hits over total accesses in [0, 1], or 0 before any
// access.
func (s Statistics) HitRate() float64 {
	total := s.TotalAccesses()
	if total == 0 {
		return 0
	}
	return float64(s.Hits()) / float64(total)
}
