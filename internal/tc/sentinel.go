package tc

// sentinelSector holds the single shared record whose origin never
// matches a guest address. It is never live and never evicted.
var sentinelSector = func() *Sector {
	s := &Sector{id: noSector, mem: make([]byte, HeaderSize)}
	encodeRecord(s.mem, Tombstone, 1, nil)
	s.used.Store(HeaderSize)
	return s
}()

// Sentinel returns the shared miss record used to fill fast-path slots.
func Sentinel() Record {
	return Record{sec: sentinelSector}
}

func (r Record) IsSentinel() bool {
	return r.sec == sentinelSector
}
