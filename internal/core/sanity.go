package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Pam-La/transcache/internal/tc"
)

var ErrInvariant = errors.New("invariant violated")

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

// Check verifies TT, TC, fast path and segment map against each other.
// It is linear in the size of all four.
func (c *Core) Check() error {
	refs := make(map[tc.Loc]int, c.table.Occupied())
	seen := make(map[uint64]struct{}, c.table.Occupied())
	var err error

	c.table.Each(func(origin uint64, rec tc.Record) bool {
		if got := rec.Origin(); got != origin {
			err = violation("tt slot %#x references %s", origin, rec)
			return false
		}
		if _, dup := seen[origin]; dup {
			err = violation("tt holds %#x twice", origin)
			return false
		}
		seen[origin] = struct{}{}
		if s := c.cache.Sector(rec.SectorID()); !s.IsLive() {
			err = violation("tt slot %#x references %s in %s", origin, rec, s)
			return false
		}
		refs[rec.Loc()]++
		return true
	})
	if err != nil {
		return err
	}
	if c.table.Occupied() > c.table.HighWater() {
		return violation("tt occupancy %d above watermark %d", c.table.Occupied(), c.table.HighWater())
	}

	for id := range c.cache.NumSectors() {
		s := c.cache.Sector(id)
		if int(s.Used()) > s.Capacity() {
			return violation("%s overfilled", s)
		}
		if !s.IsLive() {
			if s.Used() != 0 {
				return violation("%s is not live but holds data", s)
			}
			continue
		}
		walkErr := s.Walk(func(rec tc.Record) bool {
			n := refs[rec.Loc()]
			switch {
			case rec.IsTombstone() && n != 0:
				err = violation("tombstoned %s still referenced", rec)
			case !rec.IsTombstone() && n != 1:
				err = violation("%s referenced by %d tt slots", rec, n)
			}
			return err == nil
		})
		if walkErr != nil {
			return walkErr
		}
		if err != nil {
			return err
		}
	}

	c.fast.Each(func(i int, rec tc.Record) bool {
		if rec.IsSentinel() {
			return true
		}
		if rec.IsTombstone() {
			err = violation("fast slot %d holds tombstoned %s", i, rec)
			return false
		}
		if got, ok := c.table.Find(rec.Origin()); !ok || got != rec {
			err = violation("fast slot %d holds %s unknown to tt", i, rec)
			return false
		}
		return true
	})
	if err != nil {
		return err
	}

	return c.segs.Check()
}

// Dump renders every sector, TT entry, filled fast slot and segment.
func (c *Core) Dump() string {
	var b strings.Builder

	fmt.Fprintf(&b, "== tc: %d sectors, current=%d, translations=%d\n",
		c.cache.NumSectors(), c.cache.Current(), c.cache.Translations())
	for id := range c.cache.NumSectors() {
		fmt.Fprintf(&b, "  %s\n", c.cache.Sector(id))
	}

	type entry struct {
		origin uint64
		rec    tc.Record
	}
	var entries []entry
	c.table.Each(func(origin uint64, rec tc.Record) bool {
		entries = append(entries, entry{origin, rec})
		return true
	})
	slices.SortFunc(entries, func(a, b entry) int {
		switch {
		case a.origin < b.origin:
			return -1
		case a.origin > b.origin:
			return 1
		default:
			return 0
		}
	})
	fmt.Fprintf(&b, "== tt: size=%d occupied=%d deleted=%d hw=%d\n",
		c.table.Size(), c.table.Occupied(), c.table.Deleted(), c.table.HighWater())
	for _, e := range entries {
		fmt.Fprintf(&b, "  %#x -> %s\n", e.origin, e.rec)
	}

	fmt.Fprintf(&b, "== fast: size=%d filled=%d\n", c.fast.Size(), c.fast.Filled())
	c.fast.Each(func(i int, rec tc.Record) bool {
		if !rec.IsSentinel() {
			fmt.Fprintf(&b, "  [%d] %s\n", i, rec)
		}
		return true
	})

	segs := c.segs.Segments()
	fmt.Fprintf(&b, "== segments: %d\n", len(segs))
	for i := range segs {
		fmt.Fprintf(&b, "  %s\n", &segs[i])
	}
	return b.String()
}
