package tc

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/Pam-La/transcache/internal/trace"
)

var ErrNoLiveSector = errors.New("no live sector to evict")

// Evictor is told about every sector eviction. Evicting runs while the
// sector's records are still readable; Evicted runs after it is free.
type Evictor interface {
	Evicting(s *Sector)
	Evicted(id int)
}

type Config struct {
	Sectors     int
	SectorBytes int
	ZeroOnEvict bool

	// MapMemory overrides the sector memory source. A nil value maps
	// anonymous memory from the host.
	MapMemory func(size int) ([]byte, error)

	Logger *trace.Logger
}

type Stats struct {
	Commissions uint64
	Evictions   uint64
	MapFailures uint64
	Writes      uint64
}

// Cache는 고정 개수의 sector로 나뉜 translation cache이다.
// Exactly one mutator may call the allocating methods at a time.
type Cache struct {
	sectors     []*Sector
	sectorBytes int
	current     int

	translations uint64
	zeroOnEvict  bool

	mapMemory   func(size int) ([]byte, error)
	unmapMemory func(mem []byte) error

	evictor Evictor
	log     *trace.Logger

	commissions atomic.Uint64
	evictions   atomic.Uint64
	mapFailures atomic.Uint64
	writes      atomic.Uint64
}

func New(cfg Config) *Cache {
	n := cfg.Sectors
	if n == 0 {
		n = DefaultSectors
	}
	if n < MinSectors {
		n = MinSectors
	}
	size := cfg.SectorBytes
	if size <= 0 {
		size = DefaultSectorBytes
	}
	size = (size + SectorAlign - 1) &^ (SectorAlign - 1)
	if size > maxSectorBytes {
		size = maxSectorBytes
	}

	c := &Cache{
		sectors:     make([]*Sector, n),
		sectorBytes: size,
		current:     noSector,
		zeroOnEvict: cfg.ZeroOnEvict,
		mapMemory:   cfg.MapMemory,
		log:         cfg.Logger,
	}
	if c.mapMemory == nil {
		c.mapMemory = mapSectorMemory
		c.unmapMemory = unmapSectorMemory
	}
	for i := range c.sectors {
		c.sectors[i] = newSector(i)
	}
	return c
}

// SetEvictor installs the eviction observer. It must be set before the
// first allocation that can evict.
func (c *Cache) SetEvictor(e Evictor) {
	c.evictor = e
}

func (c *Cache) SectorBytes() int {
	return c.sectorBytes
}

func (c *Cache) NumSectors() int {
	return len(c.sectors)
}

func (c *Cache) Sector(id int) *Sector {
	return c.sectors[id]
}

// Current returns the id of the sector taking new records, or -1.
func (c *Cache) Current() int {
	return c.current
}

// Translations is the global count of records ever written.
func (c *Cache) Translations() uint64 {
	return c.translations
}

func (c *Cache) Stats() Stats {
	return Stats{
		Commissions: c.commissions.Load(),
		Evictions:   c.evictions.Load(),
		MapFailures: c.mapFailures.Load(),
		Writes:      c.writes.Load(),
	}
}

// LiveSectors returns the live sectors in id order.
func (c *Cache) LiveSectors() []*Sector {
	out := make([]*Sector, 0, len(c.sectors))
	for _, s := range c.sectors {
		if s.IsLive() {
			out = append(out, s)
		}
	}
	return out
}

// Resolve turns a locator back into a record view.
func (c *Cache) Resolve(loc Loc) Record {
	return c.sectors[loc.Sector].recordAt(loc.Offset)
}

// Allocate reserves n bytes in the current sector, commissioning or
// evicting sectors as needed. n must be a positive multiple of BodyAlign.
func (c *Cache) Allocate(n int) (Loc, error) {
	if n <= 0 || n%BodyAlign != 0 {
		panic(fmt.Sprintf("tc: allocation of %d bytes is not %d-aligned", n, BodyAlign))
	}
	if n > c.sectorBytes {
		return Loc{}, ErrRecordTooLarge
	}

	for {
		if c.current != noSector {
			s := c.sectors[c.current]
			if off, err := s.alloc(n); err == nil {
				return Loc{Sector: uint32(s.id), Offset: off}, nil
			}
		}
		if c.commissionFree() {
			continue
		}
		id, err := c.DiscardOldest()
		if err != nil {
			c.log.Errorf("tc: cannot allocate %d bytes: %v", n, err)
			panic(fmt.Sprintf("tc: cache exhausted: %v", err))
		}
		c.makeCurrent(c.sectors[id])
	}
}

// Write stores a record for ga and returns a view of it.
func (c *Cache) Write(ga uint64, originSize uint16, body []byte) (Record, error) {
	if IsReserved(ga) {
		panic(fmt.Sprintf("tc: write of reserved origin %#x", ga))
	}
	if originSize == 0 {
		panic(fmt.Sprintf("tc: write of %#x with zero origin size", ga))
	}
	size := RecordSize(len(body))
	loc, err := c.Allocate(size)
	if err != nil {
		return Record{}, fmt.Errorf("tc: write %#x (%d body bytes): %w", ga, len(body), err)
	}
	s := c.sectors[loc.Sector]
	encodeRecord(s.mem[loc.Offset:loc.Offset+uint32(size)], ga, originSize, body)
	c.translations++
	c.writes.Add(1)
	return s.recordAt(loc.Offset), nil
}

// DiscardOldest evicts the live sector with the smallest age, breaking
// ties by id, and returns its id.
func (c *Cache) DiscardOldest() (int, error) {
	live := c.LiveSectors()
	if len(live) == 0 {
		return noSector, ErrNoLiveSector
	}
	oldest := slices.MinFunc(live, compareAge)

	if c.evictor != nil {
		c.evictor.Evicting(oldest)
	}
	c.log.Debugf("tc: evicting sector %d (age=%d records=%d used=%d)",
		oldest.id, oldest.age, oldest.records, oldest.Used())
	oldest.reset(c.zeroOnEvict)
	if c.current == oldest.id {
		c.current = noSector
	}
	c.evictions.Add(1)
	if c.evictor != nil {
		c.evictor.Evicted(oldest.id)
	}
	return oldest.id, nil
}

// EvictionOrder returns live sector ids oldest first.
func (c *Cache) EvictionOrder() []int {
	live := c.LiveSectors()
	slices.SortFunc(live, compareAge)
	ids := make([]int, len(live))
	for i, s := range live {
		ids[i] = s.id
	}
	return ids
}

// Close releases all sector memory. The cache is unusable afterwards.
func (c *Cache) Close() error {
	var errs []error
	for _, s := range c.sectors {
		if s.mem != nil && c.unmapMemory != nil {
			if err := c.unmapMemory(s.mem); err != nil {
				errs = append(errs, fmt.Errorf("tc: unmap sector %d: %w", s.id, err))
			}
		}
		s.mem = nil
		s.used.Store(0)
		s.state = SectorUninit
	}
	c.current = noSector
	return errors.Join(errs...)
}

// commissionFree brings a free sector live, preferring ones that already
// hold memory, then mapping memory for an uninitialised one.
func (c *Cache) commissionFree() bool {
	for _, s := range c.sectors {
		if s.state == SectorFree {
			c.makeCurrent(s)
			return true
		}
	}
	for _, s := range c.sectors {
		if s.state != SectorUninit {
			continue
		}
		mem, err := c.mapMemory(c.sectorBytes)
		if err != nil || len(mem) < c.sectorBytes {
			c.mapFailures.Add(1)
			c.log.Warnf("tc: cannot map %d bytes for sector %d: %v", c.sectorBytes, s.id, err)
			continue
		}
		s.mem = mem[:c.sectorBytes]
		s.state = SectorFree
		c.makeCurrent(s)
		return true
	}
	return false
}

func (c *Cache) makeCurrent(s *Sector) {
	s.commission(c.translations)
	c.current = s.id
	c.commissions.Add(1)
	c.log.Debugf("tc: sector %d live (age=%d)", s.id, s.age)
}

func compareAge(a, b *Sector) int {
	switch {
	case a.age < b.age:
		return -1
	case a.age > b.age:
		return 1
	case a.id < b.id:
		return -1
	case a.id > b.id:
		return 1
	default:
		return 0
	}
}
