package core

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Pam-La/transcache/internal/async"
	"github.com/Pam-La/transcache/internal/fastpath"
	"github.com/Pam-La/transcache/internal/segmap"
	"github.com/Pam-La/transcache/internal/tc"
	"github.com/Pam-La/transcache/internal/trace"
	"github.com/Pam-La/transcache/internal/tt"
)

var ErrUntranslatable = errors.New("guest code cannot be translated")

// Translation is what a producer hands back for one guest block.
type Translation struct {
	Body       []byte
	OriginSize uint16
}

// Translator produces host code for a guest address. It returns
// ErrUntranslatable (or any error) when it cannot.
type Translator interface {
	Translate(ga uint64) (Translation, error)
}

type TranslatorFunc func(ga uint64) (Translation, error)

func (f TranslatorFunc) Translate(ga uint64) (Translation, error) {
	return f(ga)
}

// Sink is told once per discarded translation, while its record is still
// readable.
type Sink interface {
	OnDiscard(ga uint64, originSize uint16)
}

type SinkFunc func(ga uint64, originSize uint16)

func (f SinkFunc) OnDiscard(ga uint64, originSize uint16) {
	f(ga, originSize)
}

type span struct {
	base uint64
	n    uint64
}

type counters struct {
	fastHits       atomic.Uint64
	tableHits      atomic.Uint64
	misses         atomic.Uint64
	untranslatable atomic.Uint64
	installs       atomic.Uint64
	invalidated    atomic.Uint64
	discards       atomic.Uint64
	rebuilds       atomic.Uint64
}

// Core는 segment map, TT, TC, fast path를 하나로 묶는다.
// All methods except PostInvalidate and Stats assume a single mutator.
type Core struct {
	cfg Config
	log *trace.Logger

	segs    *segmap.Map
	cache   *tc.Cache
	table   *tt.Table
	fast    *fastpath.Table
	pending *async.RingBuffer[span]

	stats counters
}

func New(cfg Config) (*Core, error) {
	cfg = cfg.normalize()

	fast, err := fastpath.New(cfg.FastSize)
	if err != nil {
		return nil, fmt.Errorf("core: fast path: %w", err)
	}
	pending, err := async.NewRingBuffer[span](uint64(cfg.PendingSize))
	if err != nil {
		return nil, fmt.Errorf("core: pending queue: %w", err)
	}
	cache := tc.New(tc.Config{
		Sectors:     cfg.Sectors,
		SectorBytes: cfg.SectorBytes,
		ZeroOnEvict: cfg.ZeroOnEvict,
		MapMemory:   cfg.MapMemory,
		Logger:      cfg.Logger,
	})

	c := &Core{
		cfg:     cfg,
		log:     cfg.Logger,
		segs:    segmap.New(cfg.Logger),
		cache:   cache,
		table:   tt.New(cfg.TTSize, cfg.HighWaterPercent, cache),
		fast:    fast,
		pending: pending,
	}
	cache.SetEvictor(evictHook{c})

	c.log.Infof("core: %d sectors x %d bytes, tt=%d (hw=%d), fast=%d",
		cache.NumSectors(), cache.SectorBytes(), c.table.Size(), c.table.HighWater(), fast.Size())
	return c, nil
}

func (c *Core) Close() error {
	c.fast.InvalidateAll()
	return c.cache.Close()
}

// Config returns the normalised configuration.
func (c *Core) Config() Config {
	return c.cfg
}

func (c *Core) Cache() *tc.Cache {
	return c.cache
}

func (c *Core) Table() *tt.Table {
	return c.table
}

func (c *Core) FastPath() *fastpath.Table {
	return c.fast
}

func (c *Core) fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.log.Errorf("core: %s", msg)
	panic("core: " + msg)
}

func (c *Core) checkGuestAddr(ga uint64, op string) {
	if tc.IsReserved(ga) {
		c.fatalf("%s of reserved address %#x", op, ga)
	}
}

func (c *Core) discard(rec tc.Record) {
	if c.cfg.Sink != nil {
		c.cfg.Sink.OnDiscard(rec.Origin(), rec.OriginSize())
	}
	c.stats.discards.Add(1)
}

func (c *Core) sanity(op string) {
	if !c.cfg.SanityCheck {
		return
	}
	if err := c.Check(); err != nil {
		c.fatalf("sanity check after %s failed: %v\n%s", op, err, c.Dump())
	}
}

// evictHook keeps TT and the fast path consistent with sector eviction.
type evictHook struct {
	c *Core
}

func (h evictHook) Evicting(s *tc.Sector) {
	c := h.c
	c.fast.InvalidateAll()
	err := s.Walk(func(rec tc.Record) bool {
		if !rec.IsTombstone() {
			c.discard(rec)
		}
		return true
	})
	if err != nil {
		c.fatalf("evicting sector %d: %v", s.ID(), err)
	}
}

func (h evictHook) Evicted(id int) {
	c := h.c
	if err := c.table.Rebuild(c.cache.LiveSectors()); err != nil {
		c.fatalf("rebuild after evicting sector %d: %v", id, err)
	}
	c.stats.rebuilds.Add(1)
	c.log.Debugf("core: sector %d evicted, tt rebuilt with %d entries", id, c.table.Occupied())
}
