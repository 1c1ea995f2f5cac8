package core

import "github.com/Pam-La/transcache/internal/tc"

type Stats struct {
	FastHits       uint64
	TableHits      uint64
	Misses         uint64
	Untranslatable uint64
	Installs       uint64
	Invalidated    uint64
	Discards       uint64
	Rebuilds       uint64

	Cache tc.Stats

	Occupied  int
	Deleted   int
	HighWater int
}

// FastHitRatio returns FastHits / (FastHits + TableHits + Misses), or 0
// when nothing has been looked up.
func (s Stats) FastHitRatio() float64 {
	denom := s.FastHits + s.TableHits + s.Misses
	if denom == 0 {
		return 0
	}
	return float64(s.FastHits) / float64(denom)
}

// Stats takes a snapshot. Table occupancy is read without synchronisation
// and is only exact from the mutator.
func (c *Core) Stats() Stats {
	return Stats{
		FastHits:       c.stats.fastHits.Load(),
		TableHits:      c.stats.tableHits.Load(),
		Misses:         c.stats.misses.Load(),
		Untranslatable: c.stats.untranslatable.Load(),
		Installs:       c.stats.installs.Load(),
		Invalidated:    c.stats.invalidated.Load(),
		Discards:       c.stats.discards.Load(),
		Rebuilds:       c.stats.rebuilds.Load(),
		Cache:          c.cache.Stats(),
		Occupied:       c.table.Occupied(),
		Deleted:        c.table.Deleted(),
		HighWater:      c.table.HighWater(),
	}
}
