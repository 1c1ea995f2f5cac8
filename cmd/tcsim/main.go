// Command tcsim drives the translation cache with a synthetic guest: a code
// region of fixed-size blocks dispatched with a skewed hot set, with pages
// periodically unmapped and remapped to force invalidation.
package main

import (
	"flag"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mathext/prng"

	"github.com/Pam-La/transcache/internal/core"
	"github.com/Pam-La/transcache/internal/segmap"
	"github.com/Pam-La/transcache/internal/trace"
)

const (
	blockBytes = 32
	codeBase   = 0x400000
)

func main() {
	var (
		sectors     = flag.Int("sectors", 0, "number of sectors (0 = default)")
		sectorBytes = flag.Int("sector-bytes", 0, "bytes per sector (0 = default)")
		ttSize      = flag.Int("tt-size", 0, "translation table slots (0 = derived)")
		fastSize    = flag.Int("fast-size", 0, "fast-path slots (0 = default)")
		highWater   = flag.Int("high-water", 0, "table watermark percent (0 = default)")
		steps       = flag.Int("steps", 200000, "dispatches to run")
		blocks      = flag.Int("blocks", 20000, "distinct guest blocks")
		hotPercent  = flag.Int("hot", 90, "percent of dispatches that go to the hot tenth of blocks")
		seed        = flag.Uint64("seed", 1, "workload seed")
		invEvery    = flag.Int("invalidate-every", 5000, "remap one code page every n steps (0 = never)")
		check       = flag.Bool("check", false, "run the consistency check after every change")
		verbosity   = flag.String("v", "warn", "log level: error, warn, info, debug")
	)
	flag.Parse()

	level, err := trace.ParseLevel(*verbosity)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := trace.New(os.Stderr, level, "[tcsim] ")
	trace.SetDefault(log)

	if *blocks <= 0 || *steps < 0 {
		fmt.Fprintln(os.Stderr, "tcsim: blocks must be positive and steps non-negative")
		os.Exit(2)
	}

	translate := core.TranslatorFunc(func(ga uint64) (core.Translation, error) {
		if ga < codeBase || ga >= codeBase+uint64(*blocks)*blockBytes {
			return core.Translation{}, core.ErrUntranslatable
		}
		// Host code is a few times larger than the guest block.
		body := make([]byte, 2*blockBytes+int(ga>>5)%3*16)
		for i := range body {
			body[i] = byte(ga) + byte(i)
		}
		return core.Translation{Body: body, OriginSize: blockBytes}, nil
	})

	c, err := core.New(core.Config{
		Sectors:          *sectors,
		SectorBytes:      *sectorBytes,
		TTSize:           *ttSize,
		FastSize:         *fastSize,
		HighWaterPercent: *highWater,
		SanityCheck:      *check,
		Translator:       translate,
		Logger:           log,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer c.Close()

	codeLen := roundPage(uint64(*blocks) * blockBytes)
	c.Map(codeBase, codeLen, segmap.Read|segmap.Exec, 0, nil, segmap.NewDebugInfo("guest.text", nil))

	rng := prng.NewXoshiro256plusplus(*seed)
	hot := max(1, *blocks/10)
	remaps := 0
	for step := 1; step <= *steps; step++ {
		var block uint64
		if int(rng.Uint64()%100) < *hotPercent {
			block = rng.Uint64() % uint64(hot)
		} else {
			block = rng.Uint64() % uint64(*blocks)
		}
		if _, ok := c.Dispatch(codeBase + block*blockBytes); !ok {
			log.Warnf("no translation for block %d", block)
		}

		if *invEvery > 0 && step%*invEvery == 0 {
			pg := codeBase + (rng.Uint64()%(codeLen/segmap.PageSize))*segmap.PageSize
			c.Unmap(pg, segmap.PageSize)
			c.Map(pg, segmap.PageSize, segmap.Read|segmap.Exec, 0, nil, nil)
			remaps++
		}
	}

	if err := c.Check(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	printStats(c.Stats(), remaps, len(c.Segments()))
}

func roundPage(n uint64) uint64 {
	return (n + segmap.PageSize - 1) &^ (segmap.PageSize - 1)
}

func printStats(st core.Stats, remaps, segments int) {
	fmt.Printf("dispatch: fast=%d table=%d miss=%d untranslatable=%d (fast ratio %.3f)\n",
		st.FastHits, st.TableHits, st.Misses, st.Untranslatable, st.FastHitRatio())
	fmt.Printf("table:    occupied=%d deleted=%d hw=%d rebuilds=%d\n",
		st.Occupied, st.Deleted, st.HighWater, st.Rebuilds)
	fmt.Printf("cache:    writes=%d commissions=%d evictions=%d map-failures=%d\n",
		st.Cache.Writes, st.Cache.Commissions, st.Cache.Evictions, st.Cache.MapFailures)
	fmt.Printf("churn:    installs=%d invalidated=%d discards=%d remaps=%d segments=%d\n",
		st.Installs, st.Invalidated, st.Discards, remaps, segments)
}
