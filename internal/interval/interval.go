// Package interval implements closed/half-open interval arithmetic over
// uint64 offsets: union, difference, containment, emptiness (spec §6
// "Interval library"). Grounded on the shape of
// backend/regalloc/interval_tree.go and intervals.go (begin/end pairs kept
// sorted, merged lazily), generalized from programCounter ranges to byte
// offset ranges.
package interval

import "sort"

// Interval is the half-open range [Lo, Hi).
type Interval struct {
	Lo, Hi uint64
}

// Empty reports whether the interval contains no points.
func (iv Interval) Empty() bool { return iv.Hi <= iv.Lo }

// Contains reports whether o falls inside [Lo, Hi).
func (iv Interval) Contains(o uint64) bool { return o >= iv.Lo && o < iv.Hi }

// ContainsInterval reports whether other is entirely inside iv.
func (iv Interval) ContainsInterval(other Interval) bool {
	return other.Lo >= iv.Lo && other.Hi <= iv.Hi
}

// Overlaps reports whether iv and other share any point.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Lo < other.Hi && other.Lo < iv.Hi
}

// Set is a normalized, sorted, non-overlapping collection of intervals.
type Set struct {
	ivs []Interval
}

// NewSet builds a normalized Set from arbitrary (possibly overlapping,
// unsorted) intervals.
func NewSet(ivs ...Interval) Set {
	var s Set
	for _, iv := range ivs {
		s = s.Union(Set{ivs: []Interval{iv}})
	}
	return s
}

// Intervals returns the normalized intervals in ascending order.
func (s Set) Intervals() []Interval {
	out := make([]Interval, len(s.ivs))
	copy(out, s.ivs)
	return out
}

// Empty reports whether the set has no intervals.
func (s Set) Empty() bool { return len(s.ivs) == 0 }

// Contains reports whether o falls inside any interval of the set.
func (s Set) Contains(o uint64) bool {
	for _, iv := range s.ivs {
		if iv.Contains(o) {
			return true
		}
		if o < iv.Lo {
			break
		}
	}
	return false
}

// Union returns the normalized union of s and other.
func (s Set) Union(other Set) Set {
	merged := append(append([]Interval{}, s.ivs...), other.ivs...)
	if len(merged) == 0 {
		return Set{}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Lo < merged[j].Lo })

	out := []Interval{merged[0]}
	for _, iv := range merged[1:] {
		last := &out[len(out)-1]
		if iv.Lo <= last.Hi {
			if iv.Hi > last.Hi {
				last.Hi = iv.Hi
			}
			continue
		}
		out = append(out, iv)
	}
	return Set{ivs: out}
}

// Difference returns s with every point of other removed.
func (s Set) Difference(other Set) Set {
	if other.Empty() {
		return s
	}
	var out []Interval
	for _, iv := range s.ivs {
		cur := []Interval{iv}
		for _, sub := range other.ivs {
			var next []Interval
			for _, c := range cur {
				if !c.Overlaps(sub) {
					next = append(next, c)
					continue
				}
				if c.Lo < sub.Lo {
					next = append(next, Interval{c.Lo, sub.Lo})
				}
				if c.Hi > sub.Hi {
					next = append(next, Interval{sub.Hi, c.Hi})
				}
			}
			cur = next
		}
		out = append(out, cur...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lo < out[j].Lo })
	return Set{ivs: out}
}
