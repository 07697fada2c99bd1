package buffertree

// Entry is one distinct value of a Summary together with its weight and
// the bounds of its rank in the summarized stream.
type Entry struct {
	Value   float64
	Weight  float64
	MinRank float64
	MaxRank float64
}

func (e Entry) prevMaxRank() float64 {
	return e.MaxRank - e.Weight
}

func (e Entry) nextMinRank() float64 {
	return e.MinRank + e.Weight
}
