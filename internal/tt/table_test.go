package tt

import (
	"errors"
	"testing"

	"github.com/Pam-La/transcache/internal/tc"
)

func newFixture(t *testing.T, size int) (*tc.Cache, *Table) {
	t.Helper()
	cache := tc.New(tc.Config{
		Sectors:     4,
		SectorBytes: 64 << 10,
		MapMemory:   func(n int) ([]byte, error) { return make([]byte, n), nil },
	})
	t.Cleanup(func() { _ = cache.Close() })
	return cache, New(size, 80, cache)
}

func write(t *testing.T, cache *tc.Cache, ga uint64, originSize uint16) tc.Record {
	t.Helper()
	rec, err := cache.Write(ga, originSize, make([]byte, 16))
	if err != nil {
		t.Fatalf("write %#x failed: %v", ga, err)
	}
	return rec
}

func TestNextPrime(t *testing.T) {
	cases := map[uint64]uint64{0: 2, 2: 2, 3: 3, 4: 5, 90: 97, 4096: 4099, 8192: 8209}
	for in, want := range cases {
		if got := NextPrime(in); got != want {
			t.Fatalf("NextPrime(%d): got=%d want=%d", in, got, want)
		}
	}
}

func TestSizeIsPrimeWithWatermark(t *testing.T) {
	_, table := newFixture(t, 100)
	if table.Size() != 101 {
		t.Fatalf("unexpected size: got=%d want=101", table.Size())
	}
	if table.HighWater() != 80 {
		t.Fatalf("unexpected watermark: got=%d want=80", table.HighWater())
	}
}

func TestInsertFindAliasing(t *testing.T) {
	cache, table := newFixture(t, 4099)
	size := uint64(table.Size())

	a := write(t, cache, 0x4000, 4)
	b := write(t, cache, 0x4000+size*4096, 4)
	if a.Origin()%size != b.Origin()%size {
		t.Fatalf("test addresses should alias")
	}
	for _, rec := range []tc.Record{a, b} {
		if err := table.Insert(rec); err != nil {
			t.Fatalf("insert %s failed: %v", rec, err)
		}
	}

	for _, rec := range []tc.Record{a, b} {
		got, ok := table.Find(rec.Origin())
		if !ok || got != rec {
			t.Fatalf("find %#x: got=%s ok=%v", rec.Origin(), got, ok)
		}
	}
	if n := table.ProbeLength(b.Origin()); n != 2 {
		t.Fatalf("aliased entry should sit one slot past home: probe=%d", n)
	}
	if _, ok := table.Find(0x5000); ok {
		t.Fatalf("unexpected hit")
	}
}

func TestInsertDuplicate(t *testing.T) {
	cache, table := newFixture(t, 97)
	rec := write(t, cache, 0x1000, 4)
	if err := table.Insert(rec); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	again := write(t, cache, 0x1000, 4)
	if err := table.Insert(again); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestDuplicateDetectedPastDeletedSlot(t *testing.T) {
	cache, table := newFixture(t, 97)
	size := uint64(table.Size())

	first := write(t, cache, 0x1000, 4)
	second := write(t, cache, 0x1000+size*8, 4)
	_ = table.Insert(first)
	_ = table.Insert(second)

	if n := table.MarkDeletedRange(first.Origin(), 1, nil); n != 1 {
		t.Fatalf("expected one deletion: got=%d", n)
	}
	// second sits past a deleted slot; a duplicate must still be caught.
	dup := write(t, cache, second.Origin(), 4)
	if err := table.Insert(dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate past deleted slot, got %v", err)
	}

	// A fresh aliasing origin reuses the deleted slot.
	third := write(t, cache, 0x1000+size*16, 4)
	if err := table.Insert(third); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if table.Deleted() != 0 {
		t.Fatalf("deleted slot should be reused: deleted=%d", table.Deleted())
	}
	if n := table.ProbeLength(third.Origin()); n != 1 {
		t.Fatalf("reused slot should be the home slot: probe=%d", n)
	}
}

func TestWatermark(t *testing.T) {
	cache, table := newFixture(t, 11)
	hw := table.HighWater()
	for i := 0; i < hw; i++ {
		if err := table.Insert(write(t, cache, uint64(0x1000+i*16), 4)); err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
	}
	if !table.AtWatermark() {
		t.Fatalf("table should be at watermark")
	}
	if err := table.Insert(write(t, cache, 0x9000, 4)); !errors.Is(err, ErrTableFull) {
		t.Fatalf("expected ErrTableFull, got %v", err)
	}
	if table.Occupied() != hw {
		t.Fatalf("occupancy exceeded watermark: got=%d want=%d", table.Occupied(), hw)
	}
}

func TestMarkDeletedRange(t *testing.T) {
	cache, table := newFixture(t, 97)
	recs := []tc.Record{
		write(t, cache, 0x1000, 4),
		write(t, cache, 0x1ffe, 4),
		write(t, cache, 0x2000, 16),
		write(t, cache, 0x3000, 4),
	}
	for _, r := range recs {
		_ = table.Insert(r)
	}

	var discarded []uint64
	n := table.MarkDeletedRange(0x2000, 0x1000, func(r tc.Record) {
		if r.IsTombstone() {
			t.Fatalf("discard must run before tombstoning")
		}
		discarded = append(discarded, r.Origin())
	})
	if n != 2 || len(discarded) != 2 {
		t.Fatalf("expected two deletions: n=%d discarded=%#x", n, discarded)
	}
	for _, ga := range []uint64{0x1ffe, 0x2000} {
		if _, ok := table.Find(ga); ok {
			t.Fatalf("%#x should be gone", ga)
		}
	}
	for _, ga := range []uint64{0x1000, 0x3000} {
		if _, ok := table.Find(ga); !ok {
			t.Fatalf("%#x should survive", ga)
		}
	}
	if !recs[1].IsTombstone() || !recs[2].IsTombstone() || recs[0].IsTombstone() {
		t.Fatalf("unexpected tombstones")
	}

	if again := table.MarkDeletedRange(0x2000, 0x1000, nil); again != 0 {
		t.Fatalf("second invalidation should be a no-op: got=%d", again)
	}
}

func TestRebuildDropsTombstonesAndDeletedHistory(t *testing.T) {
	cache, table := newFixture(t, 97)
	var keep []tc.Record
	for i := 0; i < 20; i++ {
		rec := write(t, cache, uint64(0x10000+i*0x100), 4)
		_ = table.Insert(rec)
		if i%2 == 0 {
			keep = append(keep, rec)
		}
	}
	for i := 1; i < 20; i += 2 {
		table.MarkDeletedRange(uint64(0x10000+i*0x100), 1, nil)
	}
	if table.Deleted() != 10 {
		t.Fatalf("unexpected deleted count: got=%d", table.Deleted())
	}

	if err := table.Rebuild(cache.LiveSectors()); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if table.Deleted() != 0 || table.Occupied() != len(keep) {
		t.Fatalf("rebuild state: occupied=%d deleted=%d", table.Occupied(), table.Deleted())
	}
	for _, rec := range keep {
		got, ok := table.Find(rec.Origin())
		if !ok || got != rec {
			t.Fatalf("survivor %#x lost after rebuild", rec.Origin())
		}
	}
}

func TestEachVisitsOccupied(t *testing.T) {
	cache, table := newFixture(t, 97)
	for i := 0; i < 5; i++ {
		_ = table.Insert(write(t, cache, uint64(0x1000+i*8), 4))
	}
	table.MarkDeletedRange(0x1000, 1, nil)

	seen := 0
	table.Each(func(origin uint64, rec tc.Record) bool {
		if rec.Origin() != origin {
			t.Fatalf("slot origin %#x does not match record %s", origin, rec)
		}
		seen++
		return true
	})
	if seen != 4 {
		t.Fatalf("unexpected visit count: got=%d want=4", seen)
	}
}
