package buffertree

import (
	"sort"

	"github.com/pkg/errors"
)

// Buffer is a fixed capacity container of samples. Every sample stands
// for weight elements of the original stream, and level is the height of
// the buffer in the collapse hierarchy.
type Buffer struct {
	vals      []float64
	weight    int64
	level     int
	allocated bool
	sorted    bool
}

// NewBuffer returns an empty, unallocated buffer holding up to k samples.
func NewBuffer(k int) (*Buffer, error) {
	if k <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "buffer capacity %d", k)
	}
	return &Buffer{
		vals:   make([]float64, 0, k),
		weight: 1,
		sorted: true,
	}, nil
}

// Clear drops all samples and resets the weight to 1. Level and capacity
// are left as they are.
func (b *Buffer) Clear() {
	b.vals = b.vals[:0]
	b.weight = 1
	b.sorted = true
}

// Size ...
func (b *Buffer) Size() int {
	return len(b.vals)
}

// Capacity ...
func (b *Buffer) Capacity() int {
	return cap(b.vals)
}

// IsEmpty ...
func (b *Buffer) IsEmpty() bool {
	return len(b.vals) == 0
}

// IsFull ...
func (b *Buffer) IsFull() bool {
	return len(b.vals) == cap(b.vals)
}

// IsPartial reports whether the buffer is neither empty nor full.
func (b *Buffer) IsPartial() bool {
	return !b.IsEmpty() && !b.IsFull()
}

// Weight ...
func (b *Buffer) Weight() int64 {
	return b.weight
}

// SetWeight ...
func (b *Buffer) SetWeight(w int64) {
	b.weight = w
}

// Level ...
func (b *Buffer) Level() int {
	return b.level
}

// SetLevel marks the buffer as the output of a collapse at level l.
func (b *Buffer) SetLevel(l int) {
	b.level = l
}

// Allocated reports whether the buffer currently belongs to the tree.
func (b *Buffer) Allocated() bool {
	return b.allocated
}

// Sort orders the samples ascending in place.
func (b *Buffer) Sort() {
	if b.sorted {
		return
	}
	sort.Float64s(b.vals)
	b.sorted = true
}

// Values returns a copy of the samples in their current order.
func (b *Buffer) Values() []float64 {
	out := make([]float64, len(b.vals))
	copy(out, b.vals)
	return out
}

// Copy returns a deep copy of b.
func (b *Buffer) Copy() *Buffer {
	vals := make([]float64, len(b.vals), cap(b.vals))
	copy(vals, b.vals)
	return &Buffer{
		vals:      vals,
		weight:    b.weight,
		level:     b.level,
		allocated: b.allocated,
		sorted:    b.sorted,
	}
}

func (b *Buffer) push(v float64) error {
	if b.IsFull() {
		return errors.Wrapf(ErrBufferFull, "capacity %d", cap(b.vals))
	}
	if n := len(b.vals); n > 0 && v < b.vals[n-1] {
		b.sorted = false
	}
	b.vals = append(b.vals, v)
	return nil
}

// Collapse merges the full buffers a and b into dst. The merged sequence
// is viewed with every sample repeated by its buffer's weight, and dst
// receives the samples at positions j*W+offset where W is the summed
// weight, so for equal weights it keeps every other element starting at
// index 0 or 1. dst may alias a or b.
func Collapse(dst, a, b *Buffer, offset int64) error {
	k := a.Capacity()
	if b.Capacity() != k || dst.Capacity() != k {
		return errors.Wrapf(ErrInvalidConfig, "collapse capacities %d, %d into %d",
			a.Capacity(), b.Capacity(), dst.Capacity())
	}
	if !a.IsFull() || !b.IsFull() {
		return errors.Errorf("collapse needs full buffers, got sizes %d and %d", a.Size(), b.Size())
	}
	w := a.weight + b.weight
	if offset < 0 || offset >= w {
		return errors.Errorf("collapse offset %d outside [0, %d)", offset, w)
	}
	a.Sort()
	b.Sort()

	out := make([]float64, k)
	var (
		i, j int
		cum  int64
		next = offset
	)
	for n := 0; n < k; n++ {
		for {
			var (
				v     float64
				vw    int64
				fromA bool
			)
			if j == k || (i < k && a.vals[i] <= b.vals[j]) {
				v, vw, fromA = a.vals[i], a.weight, true
			} else {
				v, vw = b.vals[j], b.weight
			}
			if cum+vw > next {
				out[n] = v
				break
			}
			cum += vw
			if fromA {
				i++
			} else {
				j++
			}
		}
		next += w
	}

	level := a.level
	if b.level > level {
		level = b.level
	}
	dst.vals = append(dst.vals[:0], out...)
	dst.weight = w
	dst.level = level + 1
	dst.sorted = true
	return nil
}
