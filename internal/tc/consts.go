package tc

// Reserved origin values. Neither is ever a valid guest address.
const (
	// EmptyOrigin marks a translation-table slot that was never written.
	EmptyOrigin uint64 = 1
	// Tombstone marks a deleted record (and a deleted table slot).
	Tombstone uint64 = 3
)

// Record header layout inside a sector.
const (
	originOffset     = 0
	originSizeOffset = 8
	bodySizeOffset   = 12

	HeaderSize = 16
	BodyAlign  = 4

	MaxOriginSize = 1<<16 - 1
)

// Sizing and bounds.
const (
	MinSectors     = 4
	DefaultSectors = 8

	SectorAlign        = 4096
	DefaultSectorBytes = 32 << 10
	maxSectorBytes     = 1 << 31

	noSector = -1
)

// IsReserved reports whether ga collides with one of the reserved origins.
func IsReserved(ga uint64) bool {
	return ga == EmptyOrigin || ga == Tombstone
}

// PaddedBodySize rounds n up to the body alignment.
func PaddedBodySize(n int) int {
	return (n + BodyAlign - 1) &^ (BodyAlign - 1)
}

// RecordSize is the number of sector bytes a record with an n-byte body occupies.
func RecordSize(n int) int {
	return HeaderSize + PaddedBodySize(n)
}
