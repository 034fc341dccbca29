package coverage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetsync/internal/domain/model"
)

func TestBitmapRoundTrip(t *testing.T) {
	b := New()
	b.MarkCovered(Range{Start: 0, End: 3})
	b.MarkCovered(Range{Start: 10, End: 10})

	bytes, err := b.Bytes()
	require.NoError(t, err)

	b2, err := FromBytes(bytes)
	require.NoError(t, err)

	assert.Equal(t, b.Cardinality(), b2.Cardinality())
	assert.True(t, b2.IsCovered(2))
	assert.True(t, b2.IsCovered(10))
	assert.False(t, b2.IsCovered(5))
}

func TestMissingIn(t *testing.T) {
	b := New()
	b.MarkCovered(Range{Start: 0, End: 2})
	b.MarkCovered(Range{Start: 4, End: 5})
	b.MarkCovered(Range{Start: 7, End: 9})

	missing := b.MissingIn(Range{Start: 0, End: 9})
	require.Len(t, missing, 2)
	assert.Equal(t, Range{Start: 3, End: 3}, missing[0])
	assert.Equal(t, Range{Start: 6, End: 6}, missing[1])
}

func TestLongestZeroFreePrefixEnd(t *testing.T) {
	b := New()
	assert.Equal(t, int64(0), b.LongestZeroFreePrefixEnd())

	b.MarkCovered(Range{Start: 0, End: 2})
	b.MarkCovered(Range{Start: 4, End: 5})
	assert.Equal(t, int64(3), b.LongestZeroFreePrefixEnd(), "watermark stalls at first missing position")

	b.MarkCovered(Range{Start: 3, End: 3})
	assert.Equal(t, int64(6), b.LongestZeroFreePrefixEnd())
}

func TestSubtractRanges(t *testing.T) {
	candidates := []Range{{Start: 0, End: 9}}
	open := []Range{{Start: 2, End: 4}, {Start: 7, End: 7}}
	got := SubtractRanges(candidates, open)
	want := []Range{{Start: 0, End: 1}, {Start: 5, End: 6}, {Start: 8, End: 9}}
	assert.Equal(t, want, got)
}

func TestGridMonthArithmetic(t *testing.T) {
	desiredStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tf := model.Timeframe{Amount: 1, Unit: model.Month}
	g := NewGrid(desiredStart, tf)

	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), g.InstantOf(3))
	assert.Equal(t, int64(3), g.PositionOf(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))
}

func TestGridRoundTrip(t *testing.T) {
	desiredStart := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	tf := model.Timeframe{Amount: 1, Unit: model.Day}
	g := NewGrid(desiredStart, tf)

	for i := int64(0); i < 20; i++ {
		instant := g.InstantOf(i)
		assert.Equal(t, i, g.PositionOf(instant))
	}
}

func TestGridWeekAnchor(t *testing.T) {
	// 2024-01-03 is a Wednesday; the Monday-based anchor is 2024-01-01.
	nonAligned := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	epoch := EpochForUnit(nonAligned, model.Week)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), epoch)
}
