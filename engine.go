// Package buffertree estimates quantiles of a one-pass stream in bounded
// memory. Elements are batched by a Sink into fixed capacity level 0
// buffers. Whenever the pool of buffers runs out, two full buffers are
// collapsed into one of the next level carrying their summed weight, and
// the emptied buffer is recycled through an IndexStack. Queries merge the
// surviving weighted samples.
package buffertree

import (
	"math"
	"math/rand"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// Engine is a buffer tree quantile estimator. It is not safe for
// concurrent use; hand Snapshot results to other goroutines instead.
type Engine struct {
	cfg     Config
	buffers []*Buffer
	free    *IndexStack
	sink    *Sink
	rng     *rand.Rand
	logger  log.Logger
	metrics *Metrics

	cur      int // slot of the level 0 buffer being filled, -1 if none
	count    int64
	rankErr  int64
	maxLevel int

	final       *Summary
	finalWeight int64
	err         error
}

// New returns an Engine sized by cfg.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	free, err := NewIndexStack(cfg.MaxBuffers)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		buffers: make([]*Buffer, cfg.MaxBuffers),
		free:    free,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		logger:  cfg.Logger,
		cur:     -1,
	}
	if e.metrics, err = NewMetrics(cfg.Registerer); err != nil {
		return nil, err
	}
	if e.logger == nil {
		e.logger = log.NewNopLogger()
	}
	// Pushed in reverse so slot 0 is handed out first.
	for i := cfg.MaxBuffers - 1; i >= 0; i-- {
		if e.buffers[i], err = NewBuffer(cfg.BufferCapacity); err != nil {
			return nil, err
		}
		if err := free.Push(i); err != nil {
			return nil, err
		}
	}
	if e.sink, err = NewSink(cfg.SinkCapacity, (*levelZero)(e)); err != nil {
		return nil, err
	}
	return e, nil
}

// NewDefault returns an Engine built from DefaultConfig.
func NewDefault() *Engine {
	e, err := New(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return e
}

// Metrics returns the instruments the engine reports to.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Add buffers one element. It becomes visible to queries once the sink
// flushes.
func (e *Engine) Add(v float64) error {
	if err := e.writable(); err != nil {
		return err
	}
	return e.sink.Add(v)
}

// AddAllOf buffers a batch of elements.
func (e *Engine) AddAllOf(batch []float64) error {
	if err := e.writable(); err != nil {
		return err
	}
	return e.sink.AddAllOf(batch)
}

// Flush moves everything buffered in the sink into the tree.
func (e *Engine) Flush() error {
	if err := e.writable(); err != nil {
		return err
	}
	return e.sink.Flush()
}

func (e *Engine) writable() error {
	if e.err != nil {
		return e.err
	}
	if e.final != nil {
		return errors.WithStack(ErrFinalized)
	}
	return nil
}

// levelZero is the sink's view of the engine.
type levelZero Engine

func (z *levelZero) AcceptBatch(batch []float64) error {
	return (*Engine)(z).ingest(batch)
}

func (z *levelZero) Accept(v float64) error {
	return (*Engine)(z).ingest([]float64{v})
}

func (e *Engine) ingest(batch []float64) error {
	if err := e.writable(); err != nil {
		return err
	}
	e.metrics.Flushes.Inc()

	var n int64
	defer func() {
		e.count += n
		e.metrics.Ingested.Add(float64(n))
	}()
	for _, v := range batch {
		if math.IsNaN(v) {
			e.metrics.Dropped.Inc()
			continue
		}
		if e.cur < 0 {
			if err := e.allocate(); err != nil {
				return e.fail(err)
			}
		}
		b := e.buffers[e.cur]
		if err := b.push(v); err != nil {
			return e.fail(err)
		}
		n++
		if !b.IsFull() {
			continue
		}
		b.Sort()
		e.cur = -1
		if e.free.Size() == 0 {
			if err := e.collapse(); err != nil {
				return e.fail(err)
			}
		}
	}
	return nil
}

func (e *Engine) fail(err error) error {
	e.err = err
	level.Error(e.logger).Log("msg", "buffer tree failed", "err", err)
	return err
}

func (e *Engine) allocate() error {
	slot, err := e.free.Pop()
	if err != nil {
		return errors.Wrap(err, "allocate level 0 buffer")
	}
	b := e.buffers[slot]
	b.Clear()
	b.SetLevel(0)
	b.allocated = true
	e.cur = slot
	e.metrics.AllocatedBuffers.Inc()
	return nil
}

func (e *Engine) release(slot int) error {
	b := e.buffers[slot]
	b.Clear()
	b.SetLevel(0)
	b.allocated = false
	if err := e.free.Push(slot); err != nil {
		return errors.Wrapf(err, "release slot %d", slot)
	}
	e.metrics.AllocatedBuffers.Dec()
	return nil
}

// collapse merges pairs of full buffers until a slot is free again.
func (e *Engine) collapse() error {
	for e.free.Size() == 0 {
		i, j := e.collapsePair()
		if i < 0 {
			return errors.Wrap(ErrUnderflow, "no pair of full buffers to collapse")
		}
		a, b := e.buffers[i], e.buffers[j]
		wa, wb := a.Weight(), b.Weight()
		w := wa + wb
		if err := Collapse(a, a, b, e.rng.Int63n(w)); err != nil {
			return errors.Wrapf(err, "collapse slots %d and %d", i, j)
		}
		if wa == wb {
			e.rankErr += wa
		} else {
			e.rankErr += w - 1
		}
		if err := e.release(j); err != nil {
			return err
		}
		if a.Level() > e.maxLevel {
			e.maxLevel = a.Level()
			e.metrics.MaxLevel.Set(float64(e.maxLevel))
		}
		e.metrics.Collapses.Inc()
		level.Debug(e.logger).Log("msg", "collapsed buffers", "slot", i, "freed", j,
			"level", a.Level(), "weight", a.Weight())
	}
	return nil
}

// collapsePair picks two full buffers sharing the lowest shared level, or
// the two lowest levels when every level is distinct.
func (e *Engine) collapsePair() (int, int) {
	var (
		pi, pj = -1, -1
		li, lj = -1, -1
	)
	for i, a := range e.buffers {
		if !a.allocated || !a.IsFull() {
			continue
		}
		for j := i + 1; j < len(e.buffers); j++ {
			b := e.buffers[j]
			if !b.allocated || !b.IsFull() || b.level != a.level {
				continue
			}
			if pi < 0 || a.level < e.buffers[pi].level {
				pi, pj = i, j
			}
			break
		}
		switch {
		case li < 0 || a.level < e.buffers[li].level:
			li, lj = i, li
		case lj < 0 || a.level < e.buffers[lj].level:
			lj = i
		}
	}
	if pi >= 0 {
		return pi, pj
	}
	if lj < 0 {
		return -1, -1
	}
	return li, lj
}

// Finalize flushes the sink and merges every remaining buffer into the
// final summary. No input is accepted afterwards.
func (e *Engine) Finalize() error {
	if err := e.writable(); err != nil {
		return err
	}
	if err := e.sink.Flush(); err != nil {
		return err
	}
	sum := e.settled()
	maxWeight := e.maxWeight()
	for slot, b := range e.buffers {
		if !b.allocated {
			continue
		}
		if err := e.release(slot); err != nil {
			return e.fail(err)
		}
	}
	e.cur = -1
	e.final = sum
	e.finalWeight = maxWeight
	level.Info(e.logger).Log("msg", "finalized stream", "count", e.count,
		"max_level", e.maxLevel, "error_bound", e.ErrorBound())
	return nil
}

// Finalized ...
func (e *Engine) Finalized() bool {
	return e.final != nil
}

// settled merges the flushed buffers into a fresh summary.
func (e *Engine) settled() *Summary {
	sum := NewSummary()
	for _, b := range e.buffers {
		if !b.allocated || b.IsEmpty() {
			continue
		}
		s := &Summary{}
		s.buildFromBuffer(b)
		sum.Merge(s)
	}
	return sum
}

func (e *Engine) answer() *Summary {
	if e.final != nil {
		return e.final
	}
	return e.settled()
}

// Snapshot returns a copy of the current answer set. Elements still in
// the sink are not included.
func (e *Engine) Snapshot() *Summary {
	if e.final != nil {
		return e.final.Copy()
	}
	return e.settled()
}

// Quantile returns the estimated value at fractional rank p.
func (e *Engine) Quantile(p float64) (float64, error) {
	v, err := e.answer().Quantile(p)
	return v, errors.Wrap(err, "quantile")
}

// Quantiles answers several quantile queries against one snapshot.
func (e *Engine) Quantiles(ps ...float64) ([]float64, error) {
	sum := e.answer()
	out := make([]float64, len(ps))
	for i, p := range ps {
		v, err := sum.Quantile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "quantile %d", i)
		}
		out[i] = v
	}
	return out, nil
}

// Rank returns the estimated number of elements less than or equal to v.
func (e *Engine) Rank(v float64) (float64, error) {
	r, err := e.answer().Rank(v)
	return r, errors.Wrap(err, "rank")
}

// Count returns the number of elements flushed into the tree.
func (e *Engine) Count() int64 {
	return e.count
}

// TotalWeight returns the sum of weight times size over all live buffers.
func (e *Engine) TotalWeight() int64 {
	if e.final != nil {
		return int64(e.final.TotalWeight())
	}
	var total int64
	for _, b := range e.buffers {
		if b.allocated {
			total += b.weight * int64(b.Size())
		}
	}
	return total
}

// MaxLevel ...
func (e *Engine) MaxLevel() int {
	return e.maxLevel
}

// AllocatedBuffers returns the number of buffers in use.
func (e *Engine) AllocatedBuffers() int {
	return e.free.Capacity() - e.free.Size()
}

func (e *Engine) maxWeight() int64 {
	if e.final != nil {
		return e.finalWeight
	}
	var w int64
	for _, b := range e.buffers {
		if b.allocated && !b.IsEmpty() && b.weight > w {
			w = b.weight
		}
	}
	return w
}

// ErrorBound returns an upper bound on the absolute rank error of a
// Quantile answer: the error introduced by all collapses so far plus the
// weight of the heaviest live sample.
func (e *Engine) ErrorBound() int64 {
	return e.rankErr + e.maxWeight()
}

// ApproximationError returns ErrorBound relative to the total weight.
func (e *Engine) ApproximationError() float64 {
	total := e.TotalWeight()
	if total == 0 {
		return 0
	}
	return float64(e.ErrorBound()) / float64(total)
}

// FinalSummary returns a copy of the summary built by Finalize.
func (e *Engine) FinalSummary() (*Summary, error) {
	if e.final == nil {
		return nil, errors.WithStack(ErrNotFinalized)
	}
	return e.final.Copy(), nil
}

// GenerateQuantiles returns numQuantiles+1 evenly spaced quantiles of the
// finalized stream.
func (e *Engine) GenerateQuantiles(numQuantiles int) ([]float64, error) {
	if e.final == nil {
		return nil, errors.WithStack(ErrNotFinalized)
	}
	return e.final.GenerateQuantiles(numQuantiles), nil
}

// GenerateBoundaries returns about numBoundaries bucket boundaries of the
// finalized stream.
func (e *Engine) GenerateBoundaries(numBoundaries int) ([]float64, error) {
	if e.final == nil {
		return nil, errors.WithStack(ErrNotFinalized)
	}
	return e.final.GenerateBoundaries(numBoundaries), nil
}
