package kpi

import (
	"sort"

	"safety-kpi-service/internal/domain/safety"
)

// TimeIndex supports O(log n) lookup of all observations whose timestamp
// falls inside [t-w, t+w]. It is immutable once built and safe to share
// across every human observation of one computation.
type TimeIndex struct {
	rows []safety.Observation
	ms   []int64
}

// NewTimeIndex builds an index over obs. The trajectory store returns rows in
// timestamp order already; if they arrive unsorted the index sorts a copy so
// the range-query contract holds regardless.
func NewTimeIndex(obs []safety.Observation) *TimeIndex {
	rows := obs
	if !sort.SliceIsSorted(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	}) {
		rows = make([]safety.Observation, len(obs))
		copy(rows, obs)
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].Timestamp.Before(rows[j].Timestamp)
		})
	}

	ms := make([]int64, len(rows))
	for i, o := range rows {
		ms[i] = o.Timestamp.UnixMilli()
	}
	return &TimeIndex{rows: rows, ms: ms}
}

// Len returns the number of indexed observations.
func (ix *TimeIndex) Len() int { return len(ix.rows) }

// Rows returns the indexed observations in timestamp order. Window offsets
// refer to this slice.
func (ix *TimeIndex) Rows() []safety.Observation { return ix.rows }

// Window returns the half-open range [lo, hi) of observations with
// timestamp_ms in [tMS-windowMS, tMS+windowMS], both bounds inclusive.
func (ix *TimeIndex) Window(tMS, windowMS int64) (lo, hi int) {
	lo = sort.Search(len(ix.ms), func(i int) bool { return ix.ms[i] >= tMS-windowMS })
	hi = sort.Search(len(ix.ms), func(i int) bool { return ix.ms[i] > tMS+windowMS })
	return lo, hi
}
