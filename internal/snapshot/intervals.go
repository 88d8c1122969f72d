package snapshot

import (
	"slices"
	"time"

	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// DayMillis is the length of the daily grain in epoch milliseconds.
const DayMillis = int64(24 * time.Hour / time.Millisecond)

// MergeIntervals returns the sorted union of intervals with overlapping and
// adjacent ranges joined. Empty ranges are dropped.
func MergeIntervals(intervals []core.Interval) []core.Interval {
	sorted := make([]core.Interval, 0, len(intervals))
	for _, i := range intervals {
		if i.Start() < i.End() {
			sorted = append(sorted, i)
		}
	}
	slices.SortFunc(sorted, func(a, b core.Interval) int {
		switch {
		case a.Start() < b.Start():
			return -1
		case a.Start() > b.Start():
			return 1
		default:
			return 0
		}
	})

	var out []core.Interval
	for _, i := range sorted {
		if n := len(out); n > 0 && i.Start() <= out[n-1].End() {
			if i.End() > out[n-1].End() {
				out[n-1][1] = i.End()
			}
			continue
		}
		out = append(out, i)
	}
	return out
}

// AddInterval records [start, end) on the snapshot, or on its dev intervals
// when dev is set. Only whole days are recorded.
func AddInterval(s *core.Snapshot, start, end int64, dev bool) {
	start, end = ceilDay(start), floorDay(end)
	if start >= end {
		return
	}
	target := &s.Intervals
	if dev {
		target = &s.DevIntervals
	}
	*target = MergeIntervals(append(*target, core.Interval{start, end}))
}

// RemoveInterval removes [start, end) from both the intervals and dev
// intervals of the snapshot. Partially covered days are removed whole.
func RemoveInterval(s *core.Snapshot, start, end int64) {
	start, end = floorDay(start), ceilDay(end)
	s.Intervals = subtract(s.Intervals, start, end)
	s.DevIntervals = subtract(s.DevIntervals, start, end)
}

func subtract(intervals []core.Interval, start, end int64) []core.Interval {
	var out []core.Interval
	for _, i := range MergeIntervals(intervals) {
		if i.End() <= start || i.Start() >= end {
			out = append(out, i)
			continue
		}
		if i.Start() < start {
			out = append(out, core.Interval{i.Start(), start})
		}
		if i.End() > end {
			out = append(out, core.Interval{end, i.End()})
		}
	}
	return out
}

// MissingIntervals returns the days in [start, end) not covered by
// intervals, one interval per day.
func MissingIntervals(intervals []core.Interval, start, end int64) []core.Interval {
	merged := MergeIntervals(intervals)
	var missing []core.Interval
	j := 0
	for day := floorDay(start); day < end; day += DayMillis {
		for j < len(merged) && merged[j].End() <= day {
			j++
		}
		if j < len(merged) && merged[j].Start() <= day && merged[j].End() >= day+DayMillis {
			continue
		}
		missing = append(missing, core.Interval{day, day + DayMillis})
	}
	return missing
}

func floorDay(ts int64) int64 {
	r := ts % DayMillis
	if r < 0 {
		r += DayMillis
	}
	return ts - r
}

func ceilDay(ts int64) int64 {
	f := floorDay(ts)
	if f == ts {
		return ts
	}
	return f + DayMillis
}
