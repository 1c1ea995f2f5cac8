package segmap

// DebugInfo is shared between the segments of one file. Segments hold
// references; the object is released when the last holder goes away.
type DebugInfo struct {
	Name string

	refs      int
	onRelease func(*DebugInfo)
}

// NewDebugInfo returns an unreferenced object. onRelease, if non-nil, runs
// once when the reference count drops back to zero.
func NewDebugInfo(name string, onRelease func(*DebugInfo)) *DebugInfo {
	return &DebugInfo{Name: name, onRelease: onRelease}
}

func (d *DebugInfo) Refs() int {
	if d == nil {
		return 0
	}
	return d.refs
}

func (d *DebugInfo) acquire() {
	if d == nil {
		return
	}
	d.refs++
}

func (d *DebugInfo) release() {
	if d == nil {
		return
	}
	if d.refs <= 0 {
		panic("segmap: debug info " + d.Name + " released more times than acquired")
	}
	d.refs--
	if d.refs == 0 && d.onRelease != nil {
		d.onRelease(d)
	}
}
