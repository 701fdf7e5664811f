package kpi

import (
	"math"

	"safety-kpi-service/internal/domain/safety"
)

// DefaultBatchSize bounds how many human observations are processed per
// matcher batch. Batching is a memory-locality measure only; results are
// identical for any batch size.
const DefaultBatchSize = 200

// MatchCloseCalls finds every (human, vehicle) observation pair within both
// distanceThreshold meters and timeWindowMS milliseconds of each other. Both
// bounds are inclusive. Matches are emitted in human-iteration order, then
// candidate-range order; callers must not rely on any further ordering.
//
// Complexity is O((H+V) log V) for the index plus O(H*k), k being the average
// candidate count per human observation.
func MatchCloseCalls(humans []safety.Observation, index *TimeIndex, distanceThreshold float64, timeWindowMS int64, batchSize int) []safety.CloseCall {
	if len(humans) == 0 || index == nil || index.Len() == 0 {
		return []safety.CloseCall{}
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	vehicles := index.Rows()
	threshSq := distanceThreshold * distanceThreshold
	calls := []safety.CloseCall{}

	for start := 0; start < len(humans); start += batchSize {
		end := start + batchSize
		if end > len(humans) {
			end = len(humans)
		}
		calls = append(calls, matchBatch(humans[start:end], vehicles, index, threshSq, distanceThreshold, timeWindowMS)...)
	}
	return calls
}

func matchBatch(batch, vehicles []safety.Observation, index *TimeIndex, threshSq, threshold float64, windowMS int64) []safety.CloseCall {
	var calls []safety.CloseCall

	for _, h := range batch {
		htMS := h.Timestamp.UnixMilli()
		lo, hi := index.Window(htMS, windowMS)
		if lo >= hi {
			continue
		}

		for _, v := range vehicles[lo:hi] {
			dx := v.X - h.X
			dy := v.Y - h.Y
			// Squared comparison first so rejected pairs never pay for a sqrt.
			if distSq := dx*dx + dy*dy; distSq <= threshSq {
				calls = append(calls, newCloseCall(h, v, math.Sqrt(distSq), threshold, windowMS))
			}
		}
	}
	return calls
}

func newCloseCall(h, v safety.Observation, distance, threshold float64, windowMS int64) safety.CloseCall {
	diffMS := v.Timestamp.UnixMilli() - h.Timestamp.UnixMilli()
	if diffMS < 0 {
		diffMS = -diffMS
	}
	return safety.CloseCall{
		Timestamp:         h.Timestamp,
		HumanTrackingID:   h.TrackingID,
		HumanX:            h.X,
		HumanY:            h.Y,
		HumanZone:         h.Zone,
		VehicleTrackingID: v.TrackingID,
		VehicleClass:      v.ObjectClass,
		VehicleX:          v.X,
		VehicleY:          v.Y,
		VehicleZone:       v.Zone,
		Distance:          distance,
		DistanceThreshold: threshold,
		TimeWindowMS:      windowMS,
		TimeDifferenceMS:  diffMS,
		Severity:          ClassifySeverity(distance),
	}
}
