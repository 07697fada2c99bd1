package buffertree

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// Summary is an immutable-by-convention sorted list of weighted entries.
// It is the answer structure of a finalized Engine and the result of
// Engine.Snapshot. Summaries of separate engines can be merged.
type Summary struct {
	entries []Entry
}

// NewSummary returns an empty summary.
func NewSummary() *Summary {
	return &Summary{}
}

// buildFromSorted fills the summary from ascending values that all carry
// weight w. Runs of equal values collapse into one entry.
func (sum *Summary) buildFromSorted(vals []float64, w float64) {
	sum.entries = make([]Entry, 0, len(vals))
	cumWeight := 0.0
	for _, v := range vals {
		if n := len(sum.entries); n > 0 && sum.entries[n-1].Value == v {
			sum.entries[n-1].Weight += w
			sum.entries[n-1].MaxRank += w
		} else {
			sum.entries = append(sum.entries, Entry{
				Value:   v,
				Weight:  w,
				MinRank: cumWeight,
				MaxRank: cumWeight + w,
			})
		}
		cumWeight += w
	}
}

// buildFromBuffer fills the summary from b without modifying it.
func (sum *Summary) buildFromBuffer(b *Buffer) {
	vals := b.vals
	if !b.sorted {
		vals = b.Values()
		sort.Float64s(vals)
	}
	sum.buildFromSorted(vals, float64(b.weight))
}

// BuildFromEntries replaces the content of the summary with a copy of es,
// which must be sorted by value.
func (sum *Summary) BuildFromEntries(es []Entry) {
	sum.entries = make([]Entry, len(es))
	copy(sum.entries, es)
}

// Copy returns a deep copy of the summary.
func (sum *Summary) Copy() *Summary {
	c := &Summary{}
	c.BuildFromEntries(sum.entries)
	return c
}

// Entries returns a copy of the entries.
func (sum *Summary) Entries() []Entry {
	out := make([]Entry, len(sum.entries))
	copy(out, sum.entries)
	return out
}

// Merge folds other into sum.
func (sum *Summary) Merge(other *Summary) {
	otherEntries := other.entries
	if len(otherEntries) == 0 {
		return
	}
	if len(sum.entries) == 0 {
		sum.BuildFromEntries(otherEntries)
		return
	}

	baseEntries := sum.entries
	sum.entries = make([]Entry, 0, len(baseEntries)+len(otherEntries))

	// Both lists are sorted, so the merge is a single linear pass. The next
	// minimum rank of each side is carried over to offset the other side's
	// ranks; equal values become one entry with both ranks summed.
	var (
		i, j         int
		nextMinRank1 float64
		nextMinRank2 float64
	)
	for i != len(baseEntries) && j != len(otherEntries) {
		it1 := baseEntries[i]
		it2 := otherEntries[j]
		switch {
		case it1.Value < it2.Value:
			sum.entries = append(sum.entries, Entry{
				Value: it1.Value, Weight: it1.Weight,
				MinRank: it1.MinRank + nextMinRank2,
				MaxRank: it1.MaxRank + it2.prevMaxRank(),
			})
			nextMinRank1 = it1.nextMinRank()
			i++
		case it1.Value > it2.Value:
			sum.entries = append(sum.entries, Entry{
				Value: it2.Value, Weight: it2.Weight,
				MinRank: it2.MinRank + nextMinRank1,
				MaxRank: it2.MaxRank + it1.prevMaxRank(),
			})
			nextMinRank2 = it2.nextMinRank()
			j++
		default:
			sum.entries = append(sum.entries, Entry{
				Value: it1.Value, Weight: it1.Weight + it2.Weight,
				MinRank: it1.MinRank + it2.MinRank,
				MaxRank: it1.MaxRank + it2.MaxRank,
			})
			nextMinRank1 = it1.nextMinRank()
			nextMinRank2 = it2.nextMinRank()
			i++
			j++
		}
	}

	// Residuals.
	for ; i != len(baseEntries); i++ {
		it1 := baseEntries[i]
		sum.entries = append(sum.entries, Entry{
			Value: it1.Value, Weight: it1.Weight,
			MinRank: it1.MinRank + nextMinRank2,
			MaxRank: it1.MaxRank + otherEntries[len(otherEntries)-1].MaxRank,
		})
	}
	for ; j != len(otherEntries); j++ {
		it2 := otherEntries[j]
		sum.entries = append(sum.entries, Entry{
			Value: it2.Value, Weight: it2.Weight,
			MinRank: it2.MinRank + nextMinRank1,
			MaxRank: it2.MaxRank + baseEntries[len(baseEntries)-1].MaxRank,
		})
	}
}

// Compress shrinks the summary to about sizeHint entries while adding at
// most max(1/sizeHint, minEps) to its approximation error. The first and
// last entries are always kept.
func (sum *Summary) Compress(sizeHint int, minEps float64) {
	if sizeHint < 2 {
		sizeHint = 2
	}
	if len(sum.entries) <= sizeHint {
		return
	}

	// Max rank error this compression may add.
	epsDelta := sum.TotalWeight() * math.Max(1/float64(sizeHint), minEps)

	// The accumulator caps how far a single skip can run: every entry
	// skipped adds sizeHint and every entry kept removes len(entries), so
	// kept entries stay evenly spread across the summary.
	var (
		addAccumulator int
		addStep        = len(sum.entries)
	)
	// wi is the write index, ri the last kept read index and li the last
	// entry written. Entry 0 stays in place.
	wi := 1
	li := 0
	for ri := 0; ri+1 != len(sum.entries); {
		// Skip ahead while the rank gap between ri and the candidate stays
		// within epsDelta.
		ni := ri + 1
		for ni != len(sum.entries) && addAccumulator < addStep &&
			sum.entries[ni].prevMaxRank()-sum.entries[ri].nextMinRank() <= epsDelta {
			addAccumulator += sizeHint
			ni++
		}
		// Nothing skippable means the next entry is kept as is; otherwise
		// keep the furthest entry that still respects the bound.
		if ri == ni-1 {
			ri++
		} else {
			ri = ni - 1
		}

		sum.entries[wi] = sum.entries[ri]
		wi++
		li = ri
		addAccumulator -= addStep
	}

	// The maximum is always kept.
	if li+1 != len(sum.entries) {
		sum.entries[wi] = sum.entries[len(sum.entries)-1]
		wi++
	}
	sum.entries = sum.entries[:wi]
}

// GenerateBoundaries returns at least numBoundaries representative values
// that keep the approximation bounds but are not necessarily quantiles.
func (sum *Summary) GenerateBoundaries(numBoundaries int) []float64 {
	output := []float64{}
	if len(sum.entries) == 0 {
		return output
	}

	// A soft compress on a copy adds about 1/numBoundaries to the error.
	compressed := sum.Copy()
	compressionEps := sum.ApproximationError() + 1.0/float64(numBoundaries)
	compressed.Compress(numBoundaries, compressionEps)

	for _, entry := range compressed.entries {
		output = append(output, entry.Value)
	}
	return output
}

// GenerateQuantiles returns numQuantiles+1 values splitting the summarized
// stream into equally weighted parts, including the minimum and maximum.
func (sum *Summary) GenerateQuantiles(numQuantiles int) []float64 {
	output := []float64{}
	if len(sum.entries) == 0 {
		return output
	}
	if numQuantiles < 2 {
		numQuantiles = 2
	}

	// Ranks are visited in increasing order, so one forward scan answers
	// all of them in O(n) instead of n binary searches. d2 is twice the
	// target rank, compared against MinRank+MaxRank so each entry is
	// matched by the midpoint of its rank interval.
	curIdx := 0
	for rank := 0.0; rank <= float64(numQuantiles); rank++ {
		d2 := 2 * (rank * sum.entries[len(sum.entries)-1].MaxRank / float64(numQuantiles))
		nextIdx := curIdx + 1
		for nextIdx < len(sum.entries) && d2 >= sum.entries[nextIdx].MinRank+sum.entries[nextIdx].MaxRank {
			nextIdx++
		}
		curIdx = nextIdx - 1
		// Pick whichever neighbour's rank bounds sit closer to the target.
		if nextIdx == len(sum.entries) || d2 < sum.entries[curIdx].nextMinRank()+sum.entries[nextIdx].prevMaxRank() {
			output = append(output, sum.entries[curIdx].Value)
		} else {
			output = append(output, sum.entries[nextIdx].Value)
		}
	}
	return output
}

// Quantile returns the first value whose cumulative weight reaches
// max(1, ceil(p*TotalWeight())).
func (sum *Summary) Quantile(p float64) (float64, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, errors.Wrapf(ErrInvalidQuery, "probability %v outside [0, 1]", p)
	}
	if len(sum.entries) == 0 {
		return 0, errors.Wrap(ErrInvalidQuery, "empty summary")
	}
	r := targetRank(p, sum.TotalWeight())
	idx := sort.Search(len(sum.entries), func(i int) bool {
		return sum.entries[i].MaxRank >= r
	})
	if idx == len(sum.entries) {
		idx--
	}
	return sum.entries[idx].Value, nil
}

// targetRank returns max(1, ceil(p*total)). Products within rounding noise
// of an integer are snapped first, so 0.07*100 is rank 7 and not 8.
func targetRank(p, total float64) float64 {
	x := p * total
	if rx := math.Round(x); math.Abs(x-rx) < 1e-9*math.Max(1, total) {
		x = rx
	}
	return math.Max(1, math.Ceil(x))
}

// Rank returns the weight of the values less than or equal to v.
func (sum *Summary) Rank(v float64) (float64, error) {
	if math.IsNaN(v) {
		return 0, errors.Wrap(ErrInvalidQuery, "rank of NaN")
	}
	if len(sum.entries) == 0 {
		return 0, errors.Wrap(ErrInvalidQuery, "empty summary")
	}
	idx := sort.Search(len(sum.entries), func(i int) bool {
		return sum.entries[i].Value > v
	})
	if idx == 0 {
		return 0, nil
	}
	return sum.entries[idx-1].MaxRank, nil
}

// ApproximationError returns the largest rank gap of the summary relative
// to its total weight.
func (sum *Summary) ApproximationError() float64 {
	if len(sum.entries) == 0 {
		return 0
	}

	// The error is the widest uncertainty in any entry's own rank interval
	// or in the gap between neighbouring entries.
	var maxGap float64
	for i := 1; i < len(sum.entries); i++ {
		it := sum.entries[i]
		if tmp := it.MaxRank - it.MinRank - it.Weight; tmp > maxGap {
			maxGap = tmp
		}
		if tmp := it.prevMaxRank() - sum.entries[i-1].nextMinRank(); tmp > maxGap {
			maxGap = tmp
		}
	}
	return maxGap / sum.TotalWeight()
}

// MinValue ...
func (sum *Summary) MinValue() float64 {
	if len(sum.entries) != 0 {
		return sum.entries[0].Value
	}
	return 0
}

// MaxValue ...
func (sum *Summary) MaxValue() float64 {
	if len(sum.entries) != 0 {
		return sum.entries[len(sum.entries)-1].Value
	}
	return 0
}

// TotalWeight ...
func (sum *Summary) TotalWeight() float64 {
	if len(sum.entries) != 0 {
		return sum.entries[len(sum.entries)-1].MaxRank
	}
	return 0
}

// Size ...
func (sum *Summary) Size() int {
	return len(sum.entries)
}

// Clear ...
func (sum *Summary) Clear() {
	sum.entries = nil
}
