package tc

import (
	"encoding/binary"
	"fmt"
)

// Loc is the pointer-free address of a record: sector id plus byte offset.
type Loc struct {
	Sector uint32
	Offset uint32
}

func (l Loc) String() string {
	return fmt.Sprintf("s%d+%#x", l.Sector, l.Offset)
}

// Record는 sector 메모리 위에 놓인 translation record의 view이다.
// The header and body live in sector bytes; Record itself owns nothing.
type Record struct {
	sec *Sector
	off uint32
}

func (r Record) IsZero() bool {
	return r.sec == nil
}

func (r Record) header() []byte {
	return r.sec.mem[r.off : r.off+HeaderSize]
}

// Origin returns the guest address of the first translated byte, or
// Tombstone once the record has been deleted.
func (r Record) Origin() uint64 {
	return binary.LittleEndian.Uint64(r.sec.mem[r.off+originOffset:])
}

func (r Record) OriginSize() uint16 {
	return binary.LittleEndian.Uint16(r.sec.mem[r.off+originSizeOffset:])
}

// BodySize is the padded host body length.
func (r Record) BodySize() uint32 {
	return binary.LittleEndian.Uint32(r.sec.mem[r.off+bodySizeOffset:])
}

// Body returns the padded host body. The slice aliases sector memory.
func (r Record) Body() []byte {
	start := r.off + HeaderSize
	return r.sec.mem[start : start+r.BodySize()]
}

// Size is the total number of sector bytes used by the record.
func (r Record) Size() uint32 {
	return HeaderSize + r.BodySize()
}

func (r Record) Loc() Loc {
	return Loc{Sector: uint32(r.sec.id), Offset: r.off}
}

func (r Record) SectorID() int {
	return r.sec.id
}

func (r Record) IsTombstone() bool {
	return r.Origin() == Tombstone
}

// Covers reports whether the guest range [base, base+n) overlaps
// [origin, origin+originSize).
func (r Record) Covers(base, n uint64) bool {
	return Overlaps(r.Origin(), uint64(r.OriginSize()), base, n)
}

// Kill overwrites the origin with the tombstone. The body stays in place
// until the sector is reclaimed.
func (r Record) Kill() {
	binary.LittleEndian.PutUint64(r.sec.mem[r.off+originOffset:], Tombstone)
}

func (r Record) String() string {
	if r.sec == nil {
		return "<nil>"
	}
	return fmt.Sprintf("rec{%s origin=%#x size=%d body=%d}", r.Loc(), r.Origin(), r.OriginSize(), r.BodySize())
}

// encodeRecord writes body first and the origin last, so a reader that
// observes the origin also observes a complete body.
func encodeRecord(dst []byte, ga uint64, originSize uint16, body []byte) {
	padded := PaddedBodySize(len(body))
	n := copy(dst[HeaderSize:], body)
	clear(dst[HeaderSize+n : HeaderSize+padded])
	binary.LittleEndian.PutUint16(dst[originSizeOffset:], originSize)
	binary.LittleEndian.PutUint16(dst[originSizeOffset+2:], 0)
	binary.LittleEndian.PutUint32(dst[bodySizeOffset:], uint32(padded))
	binary.LittleEndian.PutUint64(dst[originOffset:], ga)
}

// Overlaps reports whether [a, a+an) and [b, b+bn) intersect. Ends that
// would wrap are clamped to the top of the address space.
func Overlaps(a, an, b, bn uint64) bool {
	if an == 0 || bn == 0 {
		return false
	}
	return a < clampEnd(b, bn) && b < clampEnd(a, an)
}

func clampEnd(base, n uint64) uint64 {
	end := base + n
	if end < base {
		return ^uint64(0)
	}
	return end
}
