package tc

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	ErrSectorFull     = errors.New("sector capacity exceeded")
	ErrSectorNotLive  = errors.New("sector is not live")
	ErrCorruptSector  = errors.New("sector record chain is corrupt")
	ErrRecordTooLarge = errors.New("record larger than sector capacity")
)

type SectorState uint8

const (
	SectorUninit SectorState = iota
	SectorFree
	SectorLive
)

func (s SectorState) String() string {
	switch s {
	case SectorUninit:
		return "uninit"
	case SectorFree:
		return "free"
	case SectorLive:
		return "live"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Sector is a bump-allocated log of records with an age stamp.
type Sector struct {
	id      int
	mem     []byte
	used    atomic.Uint32
	age     uint64
	records int
	state   SectorState
}

func newSector(id int) *Sector {
	return &Sector{id: id}
}

func (s *Sector) ID() int {
	return s.id
}

func (s *Sector) Used() uint32 {
	return s.used.Load()
}

func (s *Sector) Capacity() int {
	return len(s.mem)
}

func (s *Sector) Remaining() int {
	return len(s.mem) - int(s.used.Load())
}

func (s *Sector) Age() uint64 {
	return s.age
}

func (s *Sector) State() SectorState {
	return s.state
}

// Records counts records appended since the sector went live,
// tombstoned ones included.
func (s *Sector) Records() int {
	return s.records
}

func (s *Sector) IsLive() bool {
	return s.state == SectorLive
}

// alloc reserves n bytes at the bump pointer.
func (s *Sector) alloc(n int) (uint32, error) {
	if s.state != SectorLive {
		return 0, ErrSectorNotLive
	}
	off := s.used.Load()
	if int(off)+n > len(s.mem) {
		return 0, ErrSectorFull
	}
	s.used.Store(off + uint32(n))
	s.records++
	return off, nil
}

// commission brings a free sector live with the given age.
func (s *Sector) commission(age uint64) {
	s.age = age
	s.records = 0
	s.used.Store(0)
	s.state = SectorLive
}

// reset returns the sector to the free state, optionally scrubbing the
// bytes that were in use.
func (s *Sector) reset(zero bool) {
	if zero {
		clear(s.mem[:s.used.Load()])
	}
	s.used.Store(0)
	s.records = 0
	s.state = SectorFree
}

func (s *Sector) recordAt(off uint32) Record {
	return Record{sec: s, off: off}
}

// Walk visits every record in insertion order, tombstones included.
// The visitor returns false to stop early.
func (s *Sector) Walk(visit func(Record) bool) error {
	used := s.used.Load()
	for off := uint32(0); off < used; {
		if used-off < HeaderSize {
			return fmt.Errorf("%w: sector %d truncated header at %#x", ErrCorruptSector, s.id, off)
		}
		rec := s.recordAt(off)
		size := rec.Size()
		if size > used-off || rec.BodySize()%BodyAlign != 0 {
			return fmt.Errorf("%w: sector %d bad body size %d at %#x", ErrCorruptSector, s.id, rec.BodySize(), off)
		}
		if !visit(rec) {
			return nil
		}
		off += size
	}
	return nil
}

func (s *Sector) String() string {
	return fmt.Sprintf("sector{id=%d state=%s age=%d used=%d/%d records=%d}",
		s.id, s.state, s.age, s.used.Load(), len(s.mem), s.records)
}
