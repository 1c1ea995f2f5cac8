package core

import (
	"github.com/Pam-La/transcache/internal/fastpath"
	"github.com/Pam-La/transcache/internal/tc"
	"github.com/Pam-La/transcache/internal/trace"
	"github.com/Pam-La/transcache/internal/tt"
)

const (
	minTTSize          = 4099
	defaultPendingSize = 64
	assumedBodyBytes   = 16
)

// Config sizes the core. Zero fields take defaults.
type Config struct {
	Sectors          int
	SectorBytes      int
	TTSize           int
	FastSize         int
	HighWaterPercent int
	PendingSize      int

	// ZeroOnEvict scrubs sector bytes when a sector is evicted.
	ZeroOnEvict bool
	// SanityCheck runs Check after every structural change and panics
	// with a full dump on failure.
	SanityCheck bool

	Translator Translator
	Sink       Sink
	Logger     *trace.Logger

	// MapMemory overrides where sector memory comes from.
	MapMemory func(size int) ([]byte, error)
}

func (cfg Config) normalize() Config {
	if cfg.Sectors == 0 {
		cfg.Sectors = tc.DefaultSectors
	}
	if cfg.Sectors < tc.MinSectors {
		cfg.Sectors = tc.MinSectors
	}
	if cfg.SectorBytes <= 0 {
		cfg.SectorBytes = tc.DefaultSectorBytes
	}
	if cfg.HighWaterPercent <= 0 {
		cfg.HighWaterPercent = tt.DefaultHighWaterPercent
	}
	if cfg.HighWaterPercent > 99 {
		cfg.HighWaterPercent = 99
	}
	if cfg.TTSize <= 0 {
		// Enough slots that small translations fill the cache before the
		// table reaches its watermark.
		records := cfg.Sectors * cfg.SectorBytes / tc.RecordSize(assumedBodyBytes)
		cfg.TTSize = max(minTTSize, records*100/cfg.HighWaterPercent)
	}
	if cfg.FastSize <= 0 {
		cfg.FastSize = fastpath.DefaultSize
	}
	cfg.FastSize = fastpath.RoundSize(cfg.FastSize)
	if cfg.PendingSize <= 0 {
		cfg.PendingSize = defaultPendingSize
	}
	cfg.PendingSize = fastpath.RoundSize(cfg.PendingSize)
	if cfg.Logger == nil {
		cfg.Logger = trace.Default()
	}
	return cfg
}
