package core

// InvalidateRange discards every translation whose guest bytes overlap
// [base, base+n) and returns how many were discarded. The fast path is
// reset first, then TT slots are deleted and records tombstoned.
func (c *Core) InvalidateRange(base, n uint64) int {
	if n == 0 {
		return 0
	}
	c.fast.InvalidateAll()
	count := c.table.MarkDeletedRange(base, n, c.discard)
	c.stats.invalidated.Add(uint64(count))
	if count > 0 {
		c.log.Debugf("core: invalidated %d translations in [%#x,+%#x)", count, base, n)
	}
	c.sanity("invalidate")
	return count
}

// PostInvalidate queues an invalidation from any goroutine. It returns
// false when the queue is full; the caller then has to take the big lock
// and call InvalidateRange itself.
func (c *Core) PostInvalidate(base, n uint64) bool {
	return c.pending.Enqueue(span{base: base, n: n})
}

// PendingInvalidations is a racy count of queued requests.
func (c *Core) PendingInvalidations() int {
	return c.pending.Len()
}

// DrainInvalidations applies queued invalidations in FIFO order and
// returns the number of translations discarded.
func (c *Core) DrainInvalidations() int {
	total := 0
	c.pending.Drain(func(s span) {
		total += c.InvalidateRange(s.base, s.n)
	})
	return total
}
