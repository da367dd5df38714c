package framepool

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Allocated     int    `json:"allocated"` // instances built and alive (<= Max)
	Max           int    `json:"max"`       // ceiling
	Free          int    `json:"free"`      // instances on the free list
	InUse         int    `json:"in_use"`    // acquired and not yet released
	Acquires      uint64 `json:"acquires"`  // Acquire calls after Init
	Releases      uint64 `json:"releases"`
	Waits         uint64 `json:"waits"` // Acquire calls that had to park at the ceiling
	FactoryErrors uint64 `json:"factory_errors"`
}

// Exhausted reports whether every instance was out when the snapshot was taken.
func (s Stats) Exhausted() bool {
	return s.Allocated >= s.Max && s.Free == 0
}

// Stats returns current counters. Safe to call concurrently.
func (p *Pool[T]) Stats() Stats {
	if !p.initialized.Load() {
		return Stats{}
	}
	return Stats{
		Allocated:     int(p.allocated.Load()),
		Max:           int(p.max),
		Free:          p.free.Count(),
		InUse:         int(p.inUse.Load()),
		Acquires:      p.acquires.Load(),
		Releases:      p.releases.Load(),
		Waits:         p.waits.Load(),
		FactoryErrors: p.factoryErrors.Load(),
	}
}
