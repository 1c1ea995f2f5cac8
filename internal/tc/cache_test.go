package tc

import (
	"bytes"
	"errors"
	"testing"
)

type evictLog struct {
	evicting []int
	evicted  []int
	live     [][]uint64
}

func (e *evictLog) Evicting(s *Sector) {
	e.evicting = append(e.evicting, s.ID())
	var origins []uint64
	_ = s.Walk(func(r Record) bool {
		origins = append(origins, r.Origin())
		return true
	})
	e.live = append(e.live, origins)
}

func (e *evictLog) Evicted(id int) {
	e.evicted = append(e.evicted, id)
}

func heapMemory(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func newTestCache(t *testing.T, sectors, bytes int) *Cache {
	t.Helper()
	c := New(Config{Sectors: sectors, SectorBytes: bytes, MapMemory: heapMemory})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func body(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill + byte(i)
	}
	return b
}

func TestRecordLayout(t *testing.T) {
	c := newTestCache(t, 4, 4096)

	rec, err := c.Write(0x4000, 4, body(13, 0x10))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if rec.Origin() != 0x4000 || rec.OriginSize() != 4 {
		t.Fatalf("unexpected header: %s", rec)
	}
	if rec.BodySize() != 16 {
		t.Fatalf("body not padded: got=%d want=16", rec.BodySize())
	}
	if !bytes.Equal(rec.Body()[:13], body(13, 0x10)) {
		t.Fatalf("body mismatch")
	}
	if !bytes.Equal(rec.Body()[13:], []byte{0, 0, 0}) {
		t.Fatalf("padding not zeroed: %x", rec.Body()[13:])
	}
	if rec.Size() != 32 {
		t.Fatalf("unexpected record size: got=%d", rec.Size())
	}
	if got := c.Resolve(rec.Loc()); got != rec {
		t.Fatalf("resolve mismatch: got=%s want=%s", got, rec)
	}
}

func TestKillLeavesBody(t *testing.T) {
	c := newTestCache(t, 4, 4096)
	rec, _ := c.Write(0x8000, 8, body(16, 1))
	rec.Kill()
	if !rec.IsTombstone() {
		t.Fatalf("record should be tombstoned")
	}
	if !bytes.Equal(rec.Body(), body(16, 1)) {
		t.Fatalf("kill must not touch the body")
	}
}

func TestSectorFillCommissionsNext(t *testing.T) {
	c := newTestCache(t, 8, 32<<10)

	for i := 0; i < 1024; i++ {
		if _, err := c.Write(uint64(0x10000+i*4), 4, body(16, byte(i))); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}
	first := c.Sector(0)
	if first.Remaining() != 0 || first.Records() != 1024 {
		t.Fatalf("first sector should be exactly full: %s", first)
	}
	if c.Stats().Commissions != 1 {
		t.Fatalf("unexpected commissions: got=%d want=1", c.Stats().Commissions)
	}

	rec, err := c.Write(0x20000, 4, body(16, 0))
	if err != nil {
		t.Fatalf("write 1025 failed: %v", err)
	}
	if rec.SectorID() != 1 || c.Current() != 1 {
		t.Fatalf("1025th record should land in sector 1: got=%d current=%d", rec.SectorID(), c.Current())
	}
	if c.Sector(1).Age() != 1024 {
		t.Fatalf("second sector age: got=%d want=1024", c.Sector(1).Age())
	}
}

func TestAllocateEvictsOldestWhenAllLive(t *testing.T) {
	c := newTestCache(t, 4, 4096)
	log := &evictLog{}
	c.SetEvictor(log)

	perSector := 4096 / 32
	for i := 0; i < 4*perSector; i++ {
		if _, err := c.Write(uint64(0x1000+i*4), 4, body(16, 0)); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}
	if len(c.LiveSectors()) != 4 || len(log.evicted) != 0 {
		t.Fatalf("all sectors should be live with no eviction yet")
	}

	rec, err := c.Write(0xdead0, 4, body(16, 0))
	if err != nil {
		t.Fatalf("write after full failed: %v", err)
	}
	if len(log.evicted) != 1 || log.evicted[0] != 0 || log.evicting[0] != 0 {
		t.Fatalf("oldest sector 0 should be evicted: evicting=%v evicted=%v", log.evicting, log.evicted)
	}
	if len(log.live[0]) != perSector {
		t.Fatalf("evictor should see records before reset: got=%d", len(log.live[0]))
	}
	if rec.SectorID() != 0 || c.Current() != 0 {
		t.Fatalf("evicted sector must be reused as current: rec=%d current=%d", rec.SectorID(), c.Current())
	}
	if c.Sector(0).Records() != 1 {
		t.Fatalf("reused sector should hold only the new record: got=%d", c.Sector(0).Records())
	}
	if order := c.EvictionOrder(); order[0] != 1 || order[len(order)-1] != 0 {
		t.Fatalf("unexpected eviction order after reuse: %v", order)
	}
}

func TestDiscardOldestOrder(t *testing.T) {
	c := newTestCache(t, 4, 4096)
	if _, err := c.DiscardOldest(); !errors.Is(err, ErrNoLiveSector) {
		t.Fatalf("expected ErrNoLiveSector on empty cache, got %v", err)
	}

	for i := 0; i < 3*128; i++ {
		_, _ = c.Write(uint64(0x1000+i*4), 4, body(16, 0))
	}
	var ages []uint64
	for {
		id, err := c.DiscardOldest()
		if err != nil {
			break
		}
		ages = append(ages, c.Sector(id).Age())
		if c.Sector(id).State() != SectorFree || c.Sector(id).Used() != 0 {
			t.Fatalf("discarded sector not free: %s", c.Sector(id))
		}
	}
	if len(ages) != 3 {
		t.Fatalf("unexpected discard count: got=%d want=3", len(ages))
	}
	for i := 1; i < len(ages); i++ {
		if ages[i] < ages[i-1] {
			t.Fatalf("ages not monotone: %v", ages)
		}
	}
	if c.Current() != -1 {
		t.Fatalf("current should be cleared: got=%d", c.Current())
	}

	// A free sector is reused before mapping a fresh one.
	rec, _ := c.Write(0x9000, 4, body(16, 0))
	if rec.SectorID() != 0 {
		t.Fatalf("expected lowest free sector: got=%d", rec.SectorID())
	}
}

func TestMapFailureFallsBackToEviction(t *testing.T) {
	mapped := 0
	c := New(Config{
		Sectors:     4,
		SectorBytes: 4096,
		MapMemory: func(size int) ([]byte, error) {
			if mapped == 2 {
				return nil, errors.New("out of memory")
			}
			mapped++
			return make([]byte, size), nil
		},
	})
	defer c.Close()

	for i := 0; i < 3*128; i++ {
		if _, err := c.Write(uint64(0x1000+i*4), 4, body(16, 0)); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}
	if got := len(c.LiveSectors()); got != 2 {
		t.Fatalf("only two sectors could be mapped: got=%d live", got)
	}
	if c.Stats().MapFailures == 0 || c.Stats().Evictions == 0 {
		t.Fatalf("expected map failures and evictions: %+v", c.Stats())
	}
}

func TestZeroOnEvict(t *testing.T) {
	c := New(Config{Sectors: 4, SectorBytes: 4096, ZeroOnEvict: true, MapMemory: heapMemory})
	defer c.Close()

	rec, _ := c.Write(0x1000, 4, body(16, 0xAA))
	loc := rec.Loc()
	if _, err := c.DiscardOldest(); err != nil {
		t.Fatalf("discard failed: %v", err)
	}
	mem := c.Sector(int(loc.Sector)).mem
	for i, b := range mem[:32] {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %#x", i, b)
		}
	}
}

func TestWalkVisitsTombstones(t *testing.T) {
	c := newTestCache(t, 4, 4096)
	a, _ := c.Write(0x1000, 4, body(8, 0))
	_, _ = c.Write(0x2000, 4, body(20, 0))
	a.Kill()

	var origins []uint64
	if err := c.Sector(0).Walk(func(r Record) bool {
		origins = append(origins, r.Origin())
		return true
	}); err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	if len(origins) != 2 || origins[0] != Tombstone || origins[1] != 0x2000 {
		t.Fatalf("unexpected walk: %#x", origins)
	}
}

func TestRecordTooLarge(t *testing.T) {
	c := newTestCache(t, 4, 4096)
	if _, err := c.Write(0x1000, 4, make([]byte, 4096)); !errors.Is(err, ErrRecordTooLarge) {
		t.Fatalf("expected ErrRecordTooLarge, got %v", err)
	}
}

func TestReservedOriginPanics(t *testing.T) {
	c := newTestCache(t, 4, 4096)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on reserved origin")
		}
	}()
	_, _ = c.Write(Tombstone, 4, body(4, 0))
}

func TestSentinelNeverMatches(t *testing.T) {
	s := Sentinel()
	if !s.IsSentinel() || s.Origin() != Tombstone {
		t.Fatalf("unexpected sentinel: %s", s)
	}
	if !IsReserved(s.Origin()) {
		t.Fatalf("sentinel origin must be reserved")
	}
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		a, an, b, bn uint64
		want         bool
	}{
		{0x1000, 4, 0x1000, 1, true},
		{0x1000, 4, 0x1004, 4, false},
		{0x1000, 4, 0x0ffc, 4, false},
		{0x1000, 4, 0x0ffd, 4, true},
		{0x1000, 4, 0, ^uint64(0), true},
		{^uint64(0) - 2, 8, 0x10, 4, false},
		{0x1000, 0, 0x1000, 4, false},
	}
	for _, tc := range cases {
		if got := Overlaps(tc.a, tc.an, tc.b, tc.bn); got != tc.want {
			t.Fatalf("Overlaps(%#x,%d,%#x,%d): got=%v want=%v", tc.a, tc.an, tc.b, tc.bn, got, tc.want)
		}
	}
}
