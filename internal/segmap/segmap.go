package segmap

import (
	"errors"
	"fmt"

	"github.com/google/btree"

	"github.com/Pam-La/transcache/internal/trace"
)

var (
	ErrUnaligned = errors.New("segment range not page aligned")
	ErrWraps     = errors.New("segment range wraps the address space")
	ErrNoSpace   = errors.New("no free range large enough")
)

const btreeDegree = 16

// Map is the ordered set of disjoint guest segments, keyed by base.
// Adjacent attribute-identical segments are coalesced after every change.
type Map struct {
	tree *btree.BTreeG[*Segment]
	log  *trace.Logger
}

func lessByBase(a, b *Segment) bool {
	return a.Base < b.Base
}

func New(log *trace.Logger) *Map {
	return &Map{
		tree: btree.NewG(btreeDegree, lessByBase),
		log:  log,
	}
}

func (m *Map) Len() int {
	return m.tree.Len()
}

// CheckRange validates the alignment and extent of a map, unmap or
// mprotect argument.
func CheckRange(base, n uint64) error {
	if !pageAligned(base) || !pageAligned(n) {
		return fmt.Errorf("%w: [%#x,+%#x)", ErrUnaligned, base, n)
	}
	if base+n < base {
		return fmt.Errorf("%w: [%#x,+%#x)", ErrWraps, base, n)
	}
	return nil
}

// floor returns the segment with the greatest base <= ga.
func (m *Map) floor(ga uint64) *Segment {
	var found *Segment
	m.tree.DescendLessOrEqual(&Segment{Base: ga}, func(s *Segment) bool {
		found = s
		return false
	})
	return found
}

// overlapping collects, in order, the segments intersecting [base, base+n).
func (m *Map) overlapping(base, n uint64) []*Segment {
	if n == 0 {
		return nil
	}
	end := rangeEnd(base, n)
	var out []*Segment
	if s := m.floor(base); s != nil && s.Base < base && s.End() > base {
		out = append(out, s)
	}
	m.tree.AscendGreaterOrEqual(&Segment{Base: base}, func(s *Segment) bool {
		if s.Base >= end {
			return false
		}
		out = append(out, s)
		return true
	})
	return out
}

// Lookup finds the segment containing ga.
func (m *Map) Lookup(ga uint64) (Segment, bool) {
	s := m.floor(ga)
	if s == nil || !s.Contains(ga) {
		return Segment{}, false
	}
	return *s, true
}

// Iterate visits, in address order, copies of the segments overlapping
// [base, base+n). The visitor returns false to stop.
func (m *Map) Iterate(base, n uint64, visit func(Segment) bool) {
	for _, s := range m.overlapping(base, n) {
		if !visit(*s) {
			return
		}
	}
}

// Segments returns a copy of every segment in address order.
func (m *Map) Segments() []Segment {
	out := make([]Segment, 0, m.tree.Len())
	m.tree.Ascend(func(s *Segment) bool {
		out = append(out, *s)
		return true
	})
	return out
}

// split cuts the segment straddling at into two, if there is one.
func (m *Map) split(at uint64) {
	s := m.floor(at)
	if s == nil || s.Base == at || !s.Contains(at) {
		return
	}
	m.tree.ReplaceOrInsert(s.splitAt(at))
}

// MapRange installs [base, base+n), replacing whatever overlapped it.
// A nil file makes an anonymous segment.
func (m *Map) MapRange(base, n uint64, perm Perm, flags Flags, file *FileInfo, debug *DebugInfo) error {
	if err := CheckRange(base, n); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	m.unmap(base, n)

	seg := &Segment{
		Base:  base,
		Len:   n,
		Perm:  perm,
		Flags: flags | Mapped,
		Debug: debug,
	}
	if file != nil {
		seg.File = *file
		seg.Flags |= FileBacked
	} else {
		seg.Flags &^= FileBacked
	}
	debug.acquire()
	m.tree.ReplaceOrInsert(seg)
	m.log.Debugf("segmap: map %s", seg)
	m.merge(base, n)
	return nil
}

// UnmapRange removes [base, base+n) and returns copies of the removed
// pieces in address order.
func (m *Map) UnmapRange(base, n uint64) ([]Segment, error) {
	if err := CheckRange(base, n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	removed := m.unmap(base, n)
	m.merge(base, n)
	return removed, nil
}

func (m *Map) unmap(base, n uint64) []Segment {
	end := base + n
	m.split(base)
	m.split(end)
	victims := m.overlapping(base, n)
	removed := make([]Segment, 0, len(victims))
	for _, s := range victims {
		m.tree.Delete(s)
		removed = append(removed, *s)
		s.Debug.release()
		m.log.Debugf("segmap: unmap %s", s)
	}
	return removed
}

// MprotectRange rewrites the protection of every segment piece inside
// [base, base+n). Unmapped holes are skipped.
func (m *Map) MprotectRange(base, n uint64, perm Perm) error {
	if err := CheckRange(base, n); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	m.split(base)
	m.split(base + n)
	for _, s := range m.overlapping(base, n) {
		s.Perm = perm
	}
	m.merge(base, n)
	return nil
}

// MarkCode flags every segment overlapping [base, base+n) as holding
// translated code. Whole segments are flagged; nothing is split.
func (m *Map) MarkCode(base, n uint64) int {
	marked := 0
	segs := m.overlapping(base, n)
	for _, s := range segs {
		if s.Flags&CodeKnown == 0 {
			s.Flags |= CodeKnown
			marked++
		}
	}
	if marked > 0 {
		first, last := segs[0], segs[len(segs)-1]
		m.merge(first.Base, last.End()-first.Base)
	}
	return marked
}

// merge coalesces neighbours in a window one page wider than the change
// on each side.
func (m *Map) merge(base, n uint64) {
	lo := base
	if lo >= PageSize {
		lo -= PageSize
	} else {
		lo = 0
	}
	hi := rangeEnd(rangeEnd(base, n), PageSize)

	window := m.overlapping(lo, hi-lo)
	if len(window) == 0 || window[0].Base == lo {
		if prev := m.floor(lo - 1); lo > 0 && prev != nil && prev.End() == lo {
			window = append([]*Segment{prev}, window...)
		}
	}

	for i := 0; i+1 < len(window); {
		a, b := window[i], window[i+1]
		if !a.adjacentTo(b) {
			i++
			continue
		}
		m.tree.Delete(b)
		a.Len += b.Len
		b.Debug.release()
		window = append(window[:i+1], window[i+2:]...)
	}
}

// Region bounds a FindFree search to [Lo, Hi).
type Region struct {
	Lo uint64
	Hi uint64
}

// FindFree returns the lowest page-aligned base >= hint inside region that
// fits an n-byte mapping with a free guard page on each side. Guard pages
// are not reserved.
func (m *Map) FindFree(hint, n uint64, region Region) (uint64, error) {
	if n == 0 || !pageAligned(n) {
		return 0, fmt.Errorf("%w: length %#x", ErrUnaligned, n)
	}
	cand := max(hint, region.Lo)
	cand = rangeEnd(cand, PageSize-1) &^ (PageSize - 1)

	for {
		end := cand + n
		if end < cand || end > region.Hi {
			return 0, fmt.Errorf("%w: %#x bytes in [%#x,%#x) from %#x", ErrNoSpace, n, region.Lo, region.Hi, hint)
		}
		lower := uint64(0)
		if cand >= PageSize {
			lower = cand - PageSize
		}
		upper := rangeEnd(end, PageSize)

		conflict := m.firstOverlap(lower, upper)
		if conflict == nil {
			return cand, nil
		}
		next := rangeEnd(conflict.End(), PageSize)
		if next <= cand {
			return 0, fmt.Errorf("%w: %#x bytes in [%#x,%#x) from %#x", ErrNoSpace, n, region.Lo, region.Hi, hint)
		}
		cand = next
	}
}

func (m *Map) firstOverlap(lo, hi uint64) *Segment {
	if s := m.floor(lo); s != nil && s.End() > lo {
		return s
	}
	var found *Segment
	m.tree.AscendGreaterOrEqual(&Segment{Base: lo}, func(s *Segment) bool {
		if s.Base < hi {
			found = s
		}
		return false
	})
	return found
}

// Check verifies ordering, disjointness, alignment and coalescing.
func (m *Map) Check() error {
	var prev *Segment
	var err error
	m.tree.Ascend(func(s *Segment) bool {
		switch {
		case s.Len == 0:
			err = fmt.Errorf("segmap: empty segment at %#x", s.Base)
		case !pageAligned(s.Base) || !pageAligned(s.Len):
			err = fmt.Errorf("segmap: unaligned segment %s", s)
		case s.End() < s.Base:
			err = fmt.Errorf("segmap: segment %s wraps", s)
		case prev != nil && prev.End() > s.Base:
			err = fmt.Errorf("segmap: %s overlaps %s", prev, s)
		case prev != nil && prev.adjacentTo(s):
			err = fmt.Errorf("segmap: %s and %s should have been merged", prev, s)
		}
		prev = s
		return err == nil
	})
	return err
}
