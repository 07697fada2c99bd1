package buffertree

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filledBuffer(t *testing.T, k int, vals ...float64) *Buffer {
	t.Helper()
	b, err := NewBuffer(k)
	require.NoError(t, err)
	for _, v := range vals {
		require.NoError(t, b.push(v))
	}
	return b
}

func TestBufferInvalid(t *testing.T) {
	_, err := NewBuffer(0)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestBufferPredicates(t *testing.T) {
	assert := assert.New(t)
	b := filledBuffer(t, 3)
	assert.True(b.IsEmpty())
	assert.False(b.IsPartial())
	assert.False(b.IsFull())

	require.NoError(t, b.push(2))
	assert.True(b.IsPartial())

	require.NoError(t, b.push(1))
	require.NoError(t, b.push(3))
	assert.True(b.IsFull())
	assert.False(b.IsPartial())
	assert.Equal(3, b.Size())

	err := b.push(4)
	assert.True(errors.Is(err, ErrBufferFull))
	assert.Equal(3, b.Size())
}

func TestBufferSortAndClear(t *testing.T) {
	assert := assert.New(t)
	b := filledBuffer(t, 4, 5, 2, 9, 1)
	b.SetWeight(4)
	b.SetLevel(2)

	b.Sort()
	assert.Equal([]float64{1, 2, 5, 9}, b.Values())
	b.Sort()
	assert.Equal([]float64{1, 2, 5, 9}, b.Values())

	b.Clear()
	assert.True(b.IsEmpty())
	assert.Equal(int64(1), b.Weight())
	assert.Equal(2, b.Level())
	assert.Equal(4, b.Capacity())
}

func TestBufferCopy(t *testing.T) {
	b := filledBuffer(t, 2, 3, 1)
	b.SetWeight(8)
	c := b.Copy()
	b.Clear()

	assert.Equal(t, []float64{3, 1}, c.Values())
	assert.Equal(t, int64(8), c.Weight())
	assert.Equal(t, 2, c.Capacity())
}

func TestCollapseEqualWeights(t *testing.T) {
	for _, tc := range []struct {
		offset int64
		want   []float64
	}{
		{0, []float64{1, 3, 5, 7}},
		{1, []float64{2, 4, 6, 8}},
	} {
		a := filledBuffer(t, 4, 5, 1, 4, 2)
		b := filledBuffer(t, 4, 8, 3, 7, 6)
		dst := filledBuffer(t, 4)

		require.NoError(t, Collapse(dst, a, b, tc.offset))
		assert.Equal(t, tc.want, dst.Values())
		assert.Equal(t, 4, dst.Size())
		assert.Equal(t, int64(2), dst.Weight())
		assert.Equal(t, 1, dst.Level())
	}
}

func TestCollapseDoublesWeight(t *testing.T) {
	a := filledBuffer(t, 2, 1, 2)
	b := filledBuffer(t, 2, 3, 4)
	for _, buf := range []*Buffer{a, b} {
		buf.SetWeight(4)
		buf.SetLevel(2)
	}
	// offset 5 lands in the second element of the merged run.
	require.NoError(t, Collapse(a, a, b, 5))
	assert.Equal(t, []float64{2, 4}, a.Values())
	assert.Equal(t, int64(8), a.Weight())
	assert.Equal(t, 3, a.Level())
}

func TestCollapseUnequalWeights(t *testing.T) {
	a := filledBuffer(t, 3, 10, 20, 30)
	b := filledBuffer(t, 3, 15, 25, 35)
	a.SetLevel(0)
	b.SetWeight(2)
	b.SetLevel(1)

	// Expanded run: 10 15 15 20 25 25 30 35 35, stride 3.
	require.NoError(t, Collapse(a, a, b, 0))
	assert.Equal(t, []float64{10, 20, 30}, a.Values())
	assert.Equal(t, int64(3), a.Weight())
	assert.Equal(t, 2, a.Level())
}

func TestCollapseRejectsBeforeMutation(t *testing.T) {
	a := filledBuffer(t, 3, 3, 1, 2)
	b := filledBuffer(t, 3, 4, 5)

	assert.Error(t, Collapse(a, a, b, 0))
	assert.Equal(t, []float64{3, 1, 2}, a.Values())
	assert.Equal(t, int64(1), a.Weight())

	c := filledBuffer(t, 3, 4, 5, 6)
	assert.Error(t, Collapse(a, a, c, 2))

	d := filledBuffer(t, 2, 7, 8)
	assert.True(t, errors.Is(Collapse(a, a, d, 0), ErrInvalidConfig))
}
