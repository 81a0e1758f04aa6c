package avail

import (
	"sort"
	"time"
)

// Half-open [Start, End) range of absolute instants. All interval math
// happens on UTC instants; wall-clock time only matters when weekday
// windows are expanded (see working_hours.go).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

func (iv Interval) IsZero() bool {
	return !iv.Start.Before(iv.End)
}

func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

func (iv Interval) Contains(other Interval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

// Intersection of two intervals, zero when disjoint.
func (iv Interval) Clip(bound Interval) Interval {
	clipped := iv
	if clipped.Start.Before(bound.Start) {
		clipped.Start = bound.Start
	}
	if clipped.End.After(bound.End) {
		clipped.End = bound.End
	}
	if clipped.IsZero() {
		return Interval{}
	}
	return clipped
}

// Merge overlapping and adjacent intervals into a minimal sorted
// non-overlapping set. Downstream slot search assumes its input went
// through here; skipping it is a correctness bug, not a slowdown.
func Coalesce(intervals []Interval) []Interval {
	sorted := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if !iv.IsZero() {
			sorted = append(sorted, iv)
		}
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if iv.Start.After(last.End) {
			merged = append(merged, iv)
			continue
		}
		if iv.End.After(last.End) {
			last.End = iv.End
		}
	}
	return merged
}

// Window minus busy. Busy must be coalesced (sorted, non-overlapping).
func Subtract(window Interval, busy []Interval) []Interval {
	if window.IsZero() {
		return nil
	}

	free := make([]Interval, 0, len(busy)+1)
	cursor := window.Start
	for _, iv := range busy {
		clipped := iv.Clip(window)
		if clipped.IsZero() {
			continue
		}
		if cursor.Before(clipped.Start) {
			free = append(free, Interval{Start: cursor, End: clipped.Start})
		}
		if clipped.End.After(cursor) {
			cursor = clipped.End
		}
	}
	if cursor.Before(window.End) {
		free = append(free, Interval{Start: cursor, End: window.End})
	}
	if len(free) == 0 {
		return nil
	}
	return free
}

type boundary struct {
	at    time.Time
	delta int
}

// Intersection of N interval sets by a sweep over all boundaries: sort
// start/end events, track how many sets currently cover the sweep line,
// emit an interval whenever the count equals N. Each input set must be
// coalesced.
func IntersectAll(sets [][]Interval) []Interval {
	n := len(sets)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return Coalesce(sets[0])
	}

	boundaries := make([]boundary, 0)
	for _, set := range sets {
		if len(set) == 0 {
			// one empty set empties the intersection
			return nil
		}
		for _, iv := range set {
			if iv.IsZero() {
				continue
			}
			boundaries = append(boundaries, boundary{at: iv.Start, delta: +1})
			boundaries = append(boundaries, boundary{at: iv.End, delta: -1})
		}
	}
	sort.Slice(boundaries, func(i, j int) bool {
		if boundaries[i].at.Equal(boundaries[j].at) {
			// process ends before starts so zero-length overlaps never emit
			return boundaries[i].delta < boundaries[j].delta
		}
		return boundaries[i].at.Before(boundaries[j].at)
	})

	var result []Interval
	covered := 0
	var openedAt time.Time
	for _, b := range boundaries {
		if covered == n && b.delta < 0 && b.at.After(openedAt) {
			result = append(result, Interval{Start: openedAt, End: b.at})
		}
		covered += b.delta
		if covered == n {
			openedAt = b.at
		}
	}
	return result
}
