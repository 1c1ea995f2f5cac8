package core

import (
	"github.com/Pam-La/transcache/internal/tc"
)

// Dispatch runs the per-block lookup: fast path, then the slow path.
func (c *Core) Dispatch(ga uint64) (tc.Record, bool) {
	c.checkGuestAddr(ga, "dispatch")
	if rec, ok := c.fast.Lookup(ga); ok {
		c.stats.fastHits.Add(1)
		return rec, true
	}
	return c.FindTranslation(ga)
}

// FindTranslation is the slow path. A TT hit refills the fast path; a miss
// asks the producer, if there is one, and installs what it returns.
func (c *Core) FindTranslation(ga uint64) (tc.Record, bool) {
	c.checkGuestAddr(ga, "lookup")
	if rec, ok := c.table.Find(ga); ok {
		c.stats.tableHits.Add(1)
		c.fast.Fill(ga, rec)
		return rec, true
	}
	c.stats.misses.Add(1)

	if c.cfg.Translator == nil {
		return tc.Record{}, false
	}
	tr, err := c.cfg.Translator.Translate(ga)
	if err != nil {
		c.stats.untranslatable.Add(1)
		c.log.Debugf("core: cannot translate %#x: %v", ga, err)
		return tc.Record{}, false
	}
	return c.InstallTranslation(ga, tr.OriginSize, tr.Body), true
}

// InstallTranslation stores a new translation for ga. The caller must have
// established that ga has no live translation.
func (c *Core) InstallTranslation(ga uint64, originSize uint16, body []byte) tc.Record {
	c.checkGuestAddr(ga, "install")
	if originSize == 0 {
		c.fatalf("install %#x with zero origin size", ga)
	}
	if prev, ok := c.table.Find(ga); ok {
		c.fatalf("install %#x: translation already present (%s)", ga, prev)
	}

	for c.table.AtWatermark() {
		if _, err := c.cache.DiscardOldest(); err != nil {
			c.fatalf("install %#x: table at watermark and %v", ga, err)
		}
	}

	// Body first, then the table slot, then the fast-path slot.
	rec, err := c.cache.Write(ga, originSize, body)
	if err != nil {
		c.fatalf("install %#x: %v", ga, err)
	}
	if err := c.table.Insert(rec); err != nil {
		c.fatalf("install %#x: %v", ga, err)
	}
	c.fast.Fill(ga, rec)
	c.segs.MarkCode(ga, uint64(originSize))

	c.stats.installs.Add(1)
	c.sanity("install")
	return rec
}
