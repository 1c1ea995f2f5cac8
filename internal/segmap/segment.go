package segmap

import (
	"fmt"
	"strings"
)

const PageSize = 4096

// rangeEnd clamps base+n to the top of the address space.
func rangeEnd(base, n uint64) uint64 {
	end := base + n
	if end < base {
		return ^uint64(0)
	}
	return end
}

func pageAligned(v uint64) bool {
	return v%PageSize == 0
}

// Perm is the protection triple of a segment.
type Perm uint8

const (
	Read Perm = 1 << iota
	Write
	Exec
)

func (p Perm) String() string {
	var b [3]byte
	b[0], b[1], b[2] = '-', '-', '-'
	if p&Read != 0 {
		b[0] = 'r'
	}
	if p&Write != 0 {
		b[1] = 'w'
	}
	if p&Exec != 0 {
		b[2] = 'x'
	}
	return string(b[:])
}

type Flags uint8

const (
	Mapped Flags = 1 << iota
	FileBacked
	Stack
	CodeKnown
)

func (f Flags) String() string {
	var parts []string
	if f&Mapped != 0 {
		parts = append(parts, "mapped")
	}
	if f&FileBacked != 0 {
		parts = append(parts, "file")
	}
	if f&Stack != 0 {
		parts = append(parts, "stack")
	}
	if f&CodeKnown != 0 {
		parts = append(parts, "code")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// FileInfo describes the backing file. Offset is the file offset of the
// segment's first byte.
type FileInfo struct {
	Device uint64
	Inode  uint64
	Offset uint64
	Name   string
}

// Segment is a half-open guest range [Base, Base+Len) with uniform attributes.
type Segment struct {
	Base  uint64
	Len   uint64
	Perm  Perm
	Flags Flags
	File  FileInfo
	Debug *DebugInfo
}

func (s *Segment) End() uint64 {
	return s.Base + s.Len
}

func (s *Segment) Contains(ga uint64) bool {
	return ga >= s.Base && ga-s.Base < s.Len
}

func (s *Segment) Overlaps(base, n uint64) bool {
	return n != 0 && s.Base < rangeEnd(base, n) && base < s.End()
}

func (s *Segment) IsFileBacked() bool {
	return s.Flags&FileBacked != 0
}

func (s *Segment) HoldsCode() bool {
	return s.Flags&CodeKnown != 0 || s.Perm&Exec != 0
}

// adjacentTo reports whether b starts exactly where s ends with identical
// attributes, including file continuity for file-backed segments. Both
// sides must share the same debug info, so the merged segment holds one
// reference where there were two.
func (s *Segment) adjacentTo(b *Segment) bool {
	if s.End() != b.Base || s.Perm != b.Perm || s.Flags != b.Flags || s.Debug != b.Debug {
		return false
	}
	if !s.IsFileBacked() {
		return true
	}
	return s.File.Offset+s.Len == b.File.Offset &&
		s.File.Device == b.File.Device &&
		s.File.Inode == b.File.Inode
}

// splitAt truncates s to [s.Base, at) and returns a shallow copy covering
// [at, s.End()). The copy takes its own debug-info reference.
func (s *Segment) splitAt(at uint64) *Segment {
	right := *s
	right.Base = at
	right.Len = s.End() - at
	if right.IsFileBacked() {
		right.File.Offset += at - s.Base
	}
	right.Debug.acquire()
	s.Len = at - s.Base
	return &right
}

func (s *Segment) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%#x,%#x) %s %s", s.Base, s.End(), s.Perm, s.Flags)
	if s.IsFileBacked() {
		fmt.Fprintf(&b, " dev=%d ino=%d off=%#x", s.File.Device, s.File.Inode, s.File.Offset)
		if s.File.Name != "" {
			fmt.Fprintf(&b, " %s", s.File.Name)
		}
	}
	if s.Debug != nil {
		fmt.Fprintf(&b, " debug=%s(refs=%d)", s.Debug.Name, s.Debug.Refs())
	}
	return b.String()
}
