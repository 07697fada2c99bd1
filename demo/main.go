package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/beorn7/perks/quantile"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/stripe/veneur/tdigest"

	"github.com/axiomhq/buffertree"
)

type probsFlag []float64

func (p *probsFlag) String() string {
	return fmt.Sprintf("%v", *p)
}

func (p *probsFlag) Set(value string) error {
	for _, s := range strings.Split(value, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return err
		}
		*p = append(*p, v)
	}
	return nil
}

// estimator is fed alongside the engine in compare mode.
type estimator interface {
	add(v float64)
	query(p float64) float64
}

type ckms struct{ s *quantile.Stream }

func (c ckms) add(v float64)           { c.s.Insert(v) }
func (c ckms) query(p float64) float64 { return c.s.Query(p) }

type digest struct{ d *tdigest.MergingDigest }

func (d digest) add(v float64)           { d.d.Add(v, 1) }
func (d digest) query(p float64) float64 { return d.d.Quantile(p) }

func main() {
	var (
		eps         float64
		maxElements int64
		capacity    int
		buffers     int
		sinkSize    int
		seed        int64
		generate    int
		probs       probsFlag
		compare     bool
		dumpMetrics bool
		debug       bool
	)

	flag.Float64Var(&eps, "eps", 0.01, "Target relative rank error used to size the buffers")
	flag.Int64Var(&maxElements, "max-elements", 1<<30, "Expected upper bound on the stream length")
	flag.IntVar(&capacity, "capacity", 0, "Buffer capacity (overrides -eps sizing)")
	flag.IntVar(&buffers, "buffers", 0, "Maximum number of buffers (overrides -eps sizing)")
	flag.IntVar(&sinkSize, "sink", 0, "Sink batch size (overrides -eps sizing)")
	flag.Int64Var(&seed, "seed", 1, "Seed for collapse offsets")
	flag.IntVar(&generate, "n", 0, "Generate n uniform values instead of reading stdin")
	flag.Var(&probs, "q", "Comma-separated quantiles to print (repeatable)")
	flag.BoolVar(&compare, "compare", false, "Also report CKMS and t-digest estimates")
	flag.BoolVar(&dumpMetrics, "metrics", false, "Dump engine metrics to stderr on exit")
	flag.BoolVar(&debug, "debug", false, "Log every collapse")
	flag.Parse()

	if len(probs) == 0 {
		probs = probsFlag{0.5, 0.9, 0.99}
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	if debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	cfg, err := buffertree.ConfigForError(eps, maxElements)
	if err != nil {
		level.Error(logger).Log("msg", "invalid sizing", "err", err)
		os.Exit(1)
	}
	if capacity > 0 {
		cfg.BufferCapacity = capacity
	}
	if buffers > 0 {
		cfg.MaxBuffers = buffers
	}
	if sinkSize > 0 {
		cfg.SinkCapacity = sinkSize
	}
	reg := prometheus.NewRegistry()
	cfg.Seed = seed
	cfg.Logger = logger
	cfg.Registerer = reg

	engine, err := buffertree.New(cfg)
	if err != nil {
		level.Error(logger).Log("msg", "failed to create engine", "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "engine ready", "buffer_capacity", cfg.BufferCapacity,
		"max_buffers", cfg.MaxBuffers, "sink_capacity", cfg.SinkCapacity)

	var refs map[string]estimator
	if compare {
		targets := make(map[float64]float64, len(probs))
		for _, p := range probs {
			targets[p] = eps / 10
		}
		refs = map[string]estimator{
			"ckms":    ckms{quantile.NewTargeted(targets)},
			"tdigest": digest{tdigest.NewMerging(100, false)},
		}
	}
	push := func(v float64) error {
		for _, r := range refs {
			r.add(v)
		}
		return engine.Add(v)
	}

	if generate > 0 {
		rng := rand.New(rand.NewSource(seed))
		for i := 0; i < generate; i++ {
			if err := push(rng.Float64()); err != nil {
				level.Error(logger).Log("msg", "ingest failed", "err", err)
				os.Exit(1)
			}
		}
	} else if err := readValues(os.Stdin, push); err != nil {
		level.Error(logger).Log("msg", "ingest failed", "err", err)
		os.Exit(1)
	}

	if err := engine.Finalize(); err != nil {
		level.Error(logger).Log("msg", "finalize failed", "err", err)
		os.Exit(1)
	}

	for _, p := range probs {
		v, err := engine.Quantile(p)
		if err != nil {
			level.Error(logger).Log("msg", "query failed", "q", p, "err", err)
			os.Exit(1)
		}
		fmt.Printf("q=%v buffertree=%v", p, v)
		for _, name := range []string{"ckms", "tdigest"} {
			if r, ok := refs[name]; ok {
				fmt.Printf(" %s=%v", name, r.query(p))
			}
		}
		fmt.Println()
	}
	fmt.Printf("count=%d max_level=%d error_bound=%d approximation_error=%.5f\n",
		engine.Count(), engine.MaxLevel(), engine.ErrorBound(), engine.ApproximationError())

	if dumpMetrics {
		mfs, err := reg.Gather()
		if err != nil {
			level.Error(logger).Log("msg", "gather metrics", "err", err)
			os.Exit(1)
		}
		enc := expfmt.NewEncoder(os.Stderr, expfmt.FmtText)
		for _, mf := range mfs {
			if err := enc.Encode(mf); err != nil {
				level.Error(logger).Log("msg", "encode metrics", "err", err)
				os.Exit(1)
			}
		}
	}
}

// readValues parses whitespace separated numbers from r.
func readValues(r io.Reader, push func(float64) error) error {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return errors.Wrapf(err, "parse %q", sc.Text())
		}
		if err := push(v); err != nil {
			return err
		}
	}
	return sc.Err()
}
