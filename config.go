package buffertree

import (
	"math"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// MaxPoolSamples bounds BufferCapacity*MaxBuffers, the number of samples
// an Engine allocates up front.
const MaxPoolSamples = 1 << 27

// Config sizes an Engine. Memory is O(MaxBuffers * BufferCapacity) and
// the rank error shrinks as BufferCapacity grows.
type Config struct {
	// BufferCapacity is the number of samples each buffer holds.
	BufferCapacity int
	// MaxBuffers bounds the number of buffers alive at once.
	MaxBuffers int
	// SinkCapacity is the batch size of the ingestion sink.
	SinkCapacity int
	// Seed drives the collapse offsets. Engines with equal seeds and input
	// produce identical results.
	Seed int64

	Logger     log.Logger
	Registerer prometheus.Registerer
}

// DefaultConfig returns a configuration good for about a billion elements
// at roughly one percent rank error.
func DefaultConfig() Config {
	return Config{
		BufferCapacity: 2048,
		MaxBuffers:     20,
		SinkCapacity:   1024,
		Seed:           1,
	}
}

// Validate ...
func (c *Config) Validate() error {
	if c.BufferCapacity <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "buffer capacity %d must be positive", c.BufferCapacity)
	}
	if c.MaxBuffers < 2 {
		return errors.Wrapf(ErrInvalidConfig, "max buffers %d must be at least 2", c.MaxBuffers)
	}
	if c.SinkCapacity <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "sink capacity %d must be positive", c.SinkCapacity)
	}
	if c.BufferCapacity > MaxPoolSamples/c.MaxBuffers {
		return errors.Wrapf(ErrInvalidConfig, "%d buffers of %d samples exceed %d pooled samples",
			c.MaxBuffers, c.BufferCapacity, MaxPoolSamples)
	}
	return nil
}

// ConfigForError derives buffer sizes for a stream of at most maxElements
// elements answered within a relative rank error of about eps. An eps of
// zero keeps every element in a single level.
func ConfigForError(eps float64, maxElements int64) (Config, error) {
	levels, blockSize, err := quantileSpecs(eps, maxElements)
	if err != nil {
		return Config{}, err
	}
	if blockSize > MaxPoolSamples {
		return Config{}, errors.Wrapf(ErrInvalidConfig, "buffer capacity %d for eps %v exceeds %d pooled samples",
			blockSize, eps, MaxPoolSamples)
	}
	cfg := DefaultConfig()
	cfg.BufferCapacity = int(blockSize)
	cfg.MaxBuffers = int(levels) + 1
	if cfg.SinkCapacity > cfg.BufferCapacity {
		cfg.SinkCapacity = cfg.BufferCapacity
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func quantileSpecs(eps float64, maxElements int64) (int64, int64, error) {
	var (
		maxLevel  int64 = 1
		blockSize int64 = 2
	)
	if eps < 0 || eps >= 1 {
		return maxLevel, blockSize, errors.Wrapf(ErrInvalidConfig, "eps %v should be element of [0, 1)", eps)
	}
	if maxElements <= 0 {
		return maxLevel, blockSize, errors.Wrapf(ErrInvalidConfig, "maxElements %d should be > 0", maxElements)
	}

	if eps <= math.SmallestNonzeroFloat64 {
		blockSize = maxInt64(maxElements, 2)
		return maxLevel, blockSize, nil
	}

	// Level l fills at most maxElements / (2^l * blockSize) times, so the
	// top level fills once when 2^maxLevel * blockSize >= maxElements.
	// Raise the level until that holds, growing the block to the error
	// allowed per level.
	for maxLevel = 1; (uint64(1)<<uint64(maxLevel))*uint64(blockSize) < uint64(maxElements); maxLevel++ {
		blockSize = int64(math.Ceil(float64(maxLevel)/eps) + 1)
	}
	return maxLevel, maxInt64(blockSize, 2), nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
