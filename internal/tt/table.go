package tt

import (
	"errors"
	"fmt"

	"github.com/Pam-La/transcache/internal/tc"
)

var (
	ErrDuplicate = errors.New("origin already present")
	ErrTableFull = errors.New("translation table at high watermark")
)

const (
	DefaultHighWaterPercent = 80
	minSize                 = 7
)

// Resolver maps a locator back to its record.
type Resolver interface {
	Resolve(loc tc.Loc) tc.Record
}

// slot is pointer-free: origin doubles as the state tag, so EmptyOrigin
// and Tombstone are the empty and deleted markers.
type slot struct {
	origin uint64
	loc    tc.Loc
}

func (s slot) occupied() bool {
	return s.origin != tc.EmptyOrigin && s.origin != tc.Tombstone
}

// Table is an open-addressed, linearly probed map from origin to record.
//
// Insert reuses the first deleted slot on its probe path, after checking
// that no occupied slot up to the empty terminator holds the same origin.
type Table struct {
	slots     []slot
	size      uint64
	highWater int
	occupied  int
	deleted   int
	store     Resolver
}

// New builds a table of at least size slots (rounded up to a prime) whose
// watermark is highWaterPercent of the slot count.
func New(size int, highWaterPercent int, store Resolver) *Table {
	if size < minSize {
		size = minSize
	}
	if highWaterPercent <= 0 {
		highWaterPercent = DefaultHighWaterPercent
	}
	if highWaterPercent > 99 {
		highWaterPercent = 99
	}
	n := NextPrime(uint64(size))
	hw := int(n * uint64(highWaterPercent) / 100)
	if hw < 1 {
		hw = 1
	}
	t := &Table{
		slots:     make([]slot, n),
		size:      n,
		highWater: hw,
		store:     store,
	}
	t.clear()
	return t
}

func (t *Table) Size() int {
	return int(t.size)
}

func (t *Table) HighWater() int {
	return t.highWater
}

func (t *Table) Occupied() int {
	return t.occupied
}

func (t *Table) Deleted() int {
	return t.deleted
}

// AtWatermark reports whether the next Insert would fail with ErrTableFull.
func (t *Table) AtWatermark() bool {
	return t.occupied >= t.highWater
}

func (t *Table) home(ga uint64) uint64 {
	return ga % t.size
}

func (t *Table) next(i uint64) uint64 {
	i++
	if i == t.size {
		return 0
	}
	return i
}

func (t *Table) Insert(rec tc.Record) error {
	ga := rec.Origin()
	if tc.IsReserved(ga) {
		panic(fmt.Sprintf("tt: insert of reserved origin %#x", ga))
	}
	if t.occupied >= t.highWater {
		return ErrTableFull
	}

	reuse := -1
	i := t.home(ga)
	for range t.size {
		s := &t.slots[i]
		if s.origin == tc.EmptyOrigin {
			break
		}
		if s.origin == tc.Tombstone {
			if reuse < 0 {
				reuse = int(i)
			}
		} else if s.origin == ga {
			return ErrDuplicate
		}
		i = t.next(i)
	}

	target := i
	if reuse >= 0 {
		target = uint64(reuse)
		t.deleted--
	} else if t.slots[target].origin != tc.EmptyOrigin {
		return ErrTableFull
	}
	t.slots[target] = slot{origin: ga, loc: rec.Loc()}
	t.occupied++
	return nil
}

func (t *Table) Find(ga uint64) (tc.Record, bool) {
	i := t.home(ga)
	for range t.size {
		s := t.slots[i]
		if s.origin == tc.EmptyOrigin {
			return tc.Record{}, false
		}
		if s.origin == ga {
			return t.store.Resolve(s.loc), true
		}
		i = t.next(i)
	}
	return tc.Record{}, false
}

// MarkDeletedRange deletes every entry whose guest range overlaps
// [base, base+n). For each one, discard runs before the slot is cleared
// and the record tombstoned. The scan is linear in table size.
func (t *Table) MarkDeletedRange(base, n uint64, discard func(tc.Record)) int {
	if n == 0 {
		return 0
	}
	count := 0
	for i := range t.slots {
		s := &t.slots[i]
		if !s.occupied() {
			continue
		}
		rec := t.store.Resolve(s.loc)
		if !rec.Covers(base, n) {
			continue
		}
		if discard != nil {
			discard(rec)
		}
		s.origin = tc.Tombstone
		t.occupied--
		t.deleted++
		rec.Kill()
		count++
	}
	return count
}

// Rebuild clears every slot to empty and reinserts the live records of the
// given sectors in walk order.
func (t *Table) Rebuild(sectors []*tc.Sector) error {
	t.clear()
	for _, s := range sectors {
		var insertErr error
		err := s.Walk(func(rec tc.Record) bool {
			if rec.IsTombstone() {
				return true
			}
			if err := t.insertUnbounded(rec); err != nil {
				insertErr = fmt.Errorf("tt: rebuild sector %d: %s: %w", s.ID(), rec, err)
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		if insertErr != nil {
			return insertErr
		}
	}
	return nil
}

// insertUnbounded ignores the watermark; survivors of a rebuild must all
// be reachable even if they exceed it.
func (t *Table) insertUnbounded(rec tc.Record) error {
	ga := rec.Origin()
	i := t.home(ga)
	for range t.size {
		s := &t.slots[i]
		switch s.origin {
		case tc.EmptyOrigin:
			*s = slot{origin: ga, loc: rec.Loc()}
			t.occupied++
			return nil
		case ga:
			return ErrDuplicate
		}
		i = t.next(i)
	}
	return ErrTableFull
}

// Each visits occupied slots in slot order.
func (t *Table) Each(visit func(origin uint64, rec tc.Record) bool) {
	for i := range t.slots {
		s := t.slots[i]
		if !s.occupied() {
			continue
		}
		if !visit(s.origin, t.store.Resolve(s.loc)) {
			return
		}
	}
}

// ProbeLength returns how many slots Find inspects for ga.
func (t *Table) ProbeLength(ga uint64) int {
	i := t.home(ga)
	n := 0
	for range t.size {
		n++
		s := t.slots[i]
		if s.origin == tc.EmptyOrigin || s.origin == ga {
			return n
		}
		i = t.next(i)
	}
	return n
}

func (t *Table) clear() {
	for i := range t.slots {
		t.slots[i] = slot{origin: tc.EmptyOrigin}
	}
	t.occupied = 0
	t.deleted = 0
}
