package fastpath

import (
	"errors"

	"github.com/Pam-La/transcache/internal/tc"
)

var ErrInvalidSize = errors.New("fast-path size must be a power of two and >= 2")

// DefaultSize keeps the table at 4 KiB of slots on 64-bit hosts.
const DefaultSize = 256

// Table는 guest address로 인덱싱되는 direct-mapped cache이다.
// Every slot holds either a real record or the shared sentinel, so a
// probe never needs a validity bit: the caller compares Origin with ga.
type Table struct {
	mask     uint64
	slots    []tc.Record
	sentinel tc.Record
}

func New(size int) (*Table, error) {
	if size < 2 || (size&(size-1)) != 0 {
		return nil, ErrInvalidSize
	}
	t := &Table{
		mask:     uint64(size - 1),
		slots:    make([]tc.Record, size),
		sentinel: tc.Sentinel(),
	}
	t.InvalidateAll()
	return t, nil
}

// RoundSize returns the smallest power of two >= n (minimum 2).
func RoundSize(n int) int {
	size := 2
	for size < n {
		size <<= 1
	}
	return size
}

func (t *Table) Size() int {
	return len(t.slots)
}

// Probe returns the slot for ga without checking its origin.
func (t *Table) Probe(ga uint64) tc.Record {
	return t.slots[ga&t.mask]
}

// Lookup is Probe plus the origin comparison.
func (t *Table) Lookup(ga uint64) (tc.Record, bool) {
	rec := t.slots[ga&t.mask]
	return rec, rec.Origin() == ga
}

func (t *Table) Fill(ga uint64, rec tc.Record) {
	t.slots[ga&t.mask] = rec
}

func (t *Table) InvalidateAll() {
	for i := range t.slots {
		t.slots[i] = t.sentinel
	}
}

// Each visits every slot in index order.
func (t *Table) Each(visit func(index int, rec tc.Record) bool) {
	for i, rec := range t.slots {
		if !visit(i, rec) {
			return
		}
	}
}

// Filled counts slots not holding the sentinel.
func (t *Table) Filled() int {
	n := 0
	for _, rec := range t.slots {
		if !rec.IsSentinel() {
			n++
		}
	}
	return n
}
