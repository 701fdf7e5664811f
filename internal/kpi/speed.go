package kpi

import (
	"math"

	"safety-kpi-service/internal/domain/safety"
)

// EstimateSpeed derives the mean instantaneous speed (m/s) of one trajectory
// from consecutive positions, for observations whose raw speed is missing.
// Points must be sorted ascending by timestamp. Pairs with a non-positive
// time delta (duplicate or out-of-order stamps) are skipped silently. Fewer
// than two usable points yield 0.
func EstimateSpeed(points []safety.Observation) float64 {
	var sum float64
	var n int

	for i := 1; i < len(points); i++ {
		dt := points[i].Timestamp.Sub(points[i-1].Timestamp).Seconds()
		if dt <= 0 {
			continue
		}
		dx := points[i].X - points[i-1].X
		dy := points[i].Y - points[i-1].Y
		sum += math.Hypot(dx, dy) / dt
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// EstimateSpeeds is the bulk form of EstimateSpeed: one pass over rows sorted
// by tracking id then timestamp, resetting at each id boundary. Results are
// identical to calling EstimateSpeed per trajectory.
func EstimateSpeeds(rows []safety.Observation) map[string]float64 {
	speeds := make(map[string]float64)
	if len(rows) == 0 {
		return speeds
	}

	start := 0
	for i := 1; i <= len(rows); i++ {
		if i == len(rows) || rows[i].TrackingID != rows[start].TrackingID {
			speeds[rows[start].TrackingID] = EstimateSpeed(rows[start:i])
			start = i
		}
	}
	return speeds
}
