package core

import (
	"github.com/Pam-La/transcache/internal/segmap"
)

// QuerySegment returns the attributes of the segment holding ga.
func (c *Core) QuerySegment(ga uint64) (segmap.Segment, bool) {
	return c.segs.Lookup(ga)
}

func (c *Core) Segments() []segmap.Segment {
	return c.segs.Segments()
}

func (c *Core) IterateSegments(base, n uint64, visit func(segmap.Segment) bool) {
	c.segs.Iterate(base, n, visit)
}

func (c *Core) FindFree(hint, n uint64, region segmap.Region) (uint64, error) {
	return c.segs.FindFree(hint, n, region)
}

// Map installs a segment. Translations of code it replaces are discarded.
func (c *Core) Map(base, n uint64, perm segmap.Perm, flags segmap.Flags, file *segmap.FileInfo, debug *segmap.DebugInfo) {
	c.checkRange("map", base, n)
	c.invalidateCode(base, n, func(segmap.Segment) bool { return true })
	if err := c.segs.MapRange(base, n, perm, flags, file, debug); err != nil {
		c.fatalf("map: %v", err)
	}
	c.sanity("map")
}

// Unmap removes [base, base+n) and discards translations of code in it.
func (c *Core) Unmap(base, n uint64) {
	c.checkRange("unmap", base, n)
	c.invalidateCode(base, n, func(segmap.Segment) bool { return true })
	if _, err := c.segs.UnmapRange(base, n); err != nil {
		c.fatalf("unmap: %v", err)
	}
	c.sanity("unmap")
}

// Mprotect changes protection on [base, base+n). Dropping execute
// permission discards the translations of code in the range.
func (c *Core) Mprotect(base, n uint64, perm segmap.Perm) {
	c.checkRange("mprotect", base, n)
	if perm&segmap.Exec == 0 {
		c.invalidateCode(base, n, func(s segmap.Segment) bool { return s.Perm != perm })
	}
	if err := c.segs.MprotectRange(base, n, perm); err != nil {
		c.fatalf("mprotect: %v", err)
	}
	c.sanity("mprotect")
}

func (c *Core) checkRange(op string, base, n uint64) {
	if err := segmap.CheckRange(base, n); err != nil {
		c.fatalf("%s: %v", op, err)
	}
}

// invalidateCode discards translations in the parts of [base, base+n)
// covered by code-holding segments selected by affected.
func (c *Core) invalidateCode(base, n uint64, affected func(segmap.Segment) bool) int {
	var spans []span
	c.segs.Iterate(base, n, func(s segmap.Segment) bool {
		if s.HoldsCode() && affected(s) {
			lo := max(s.Base, base)
			hi := min(s.End(), base+n)
			spans = append(spans, span{base: lo, n: hi - lo})
		}
		return true
	})
	total := 0
	for _, sp := range spans {
		total += c.InvalidateRange(sp.base, sp.n)
	}
	return total
}
