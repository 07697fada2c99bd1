package buffertree

import "github.com/pkg/errors"

// Consumer receives the data a Sink flushes.
type Consumer interface {
	// AcceptBatch is handed a slice owned by the caller; it must not be
	// retained after the call returns.
	AcceptBatch(batch []float64) error
	// Accept receives one element that bypassed the sink's storage.
	Accept(v float64) error
}

// ConsumerFunc adapts a batch function to the Consumer interface.
type ConsumerFunc func(batch []float64) error

// AcceptBatch ...
func (f ConsumerFunc) AcceptBatch(batch []float64) error {
	return f(batch)
}

// Accept ...
func (f ConsumerFunc) Accept(v float64) error {
	return f([]float64{v})
}

// Sink batches stream elements and hands full batches to a Consumer.
type Sink struct {
	vals     []float64
	size     int
	consumer Consumer
}

// NewSink returns a sink of the given capacity flushing into c.
func NewSink(capacity int, c Consumer) (*Sink, error) {
	if capacity <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "sink capacity %d", capacity)
	}
	if c == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "sink without consumer")
	}
	return &Sink{
		vals:     make([]float64, capacity),
		consumer: c,
	}, nil
}

// Add stores v, flushing first when the sink is already full.
func (s *Sink) Add(v float64) error {
	if s.size == len(s.vals) {
		if err := s.Flush(); err != nil {
			return err
		}
	}
	s.vals[s.size] = v
	s.size++
	return nil
}

// AddAllOf stores batch. A batch that would reach capacity flushes the
// sink and goes to the consumer directly without being copied; a single
// element is handed over with Accept.
func (s *Sink) AddAllOf(batch []float64) error {
	if s.size+len(batch) >= len(s.vals) {
		if err := s.Flush(); err != nil {
			return err
		}
		switch len(batch) {
		case 0:
			return nil
		case 1:
			return s.consumer.Accept(batch[0])
		}
		return s.consumer.AcceptBatch(batch)
	}
	s.size += copy(s.vals[s.size:], batch)
	return nil
}

// Flush hands the buffered elements to the consumer. The sink is emptied
// even when the consumer fails; elements are never delivered twice.
func (s *Sink) Flush() error {
	if s.size == 0 {
		return nil
	}
	batch := s.vals[:s.size]
	s.size = 0
	return s.consumer.AcceptBatch(batch)
}

// Clear discards buffered elements without flushing them.
func (s *Sink) Clear() {
	s.size = 0
}

// Size ...
func (s *Sink) Size() int {
	return s.size
}

// Capacity ...
func (s *Sink) Capacity() int {
	return len(s.vals)
}
