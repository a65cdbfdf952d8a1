package interval

import (
	"testing"

	"github.com/dismach/dismach/internal/testing/require"
)

func TestSetUnionMergesOverlapping(t *testing.T) {
	s := NewSet(Interval{0, 10}, Interval{5, 20}, Interval{30, 40})
	ivs := s.Intervals()
	require.Len(t, ivs, 2)
	require.Equal(t, Interval{0, 20}, ivs[0])
	require.Equal(t, Interval{30, 40}, ivs[1])
}

func TestSetDifferenceCarvesOutMiddle(t *testing.T) {
	universe := NewSet(Interval{0, 100})
	hole := NewSet(Interval{40, 60})
	out := universe.Difference(hole)
	ivs := out.Intervals()
	require.Len(t, ivs, 2)
	require.Equal(t, Interval{0, 40}, ivs[0])
	require.Equal(t, Interval{60, 100}, ivs[1])
}

func TestSetContains(t *testing.T) {
	s := NewSet(Interval{10, 20}, Interval{30, 40})
	require.True(t, s.Contains(15))
	require.False(t, s.Contains(25))
	require.True(t, s.Contains(30))
	require.False(t, s.Contains(40))
}

func TestIntervalContainsIntervalAndOverlaps(t *testing.T) {
	outer := Interval{0, 100}
	inner := Interval{10, 20}
	require.True(t, outer.ContainsInterval(inner))
	require.False(t, inner.ContainsInterval(outer))
	require.True(t, outer.Overlaps(Interval{90, 110}))
	require.False(t, outer.Overlaps(Interval{100, 110}))
}

func TestEmpty(t *testing.T) {
	require.True(t, Interval{5, 5}.Empty())
	require.False(t, Interval{5, 6}.Empty())
	require.True(t, Set{}.Empty())
}
