package kpi

import (
	"sort"
	"time"

	"safety-kpi-service/internal/domain/safety"
)

// TimeSeriesPoint is one minute bucket of the close-call time series.
type TimeSeriesPoint struct {
	Time  time.Time `json:"time"`
	Count int       `json:"count"`
}

// Offender summarizes one vehicle's close-call record.
type Offender struct {
	VehicleID       string  `json:"vehicle_id"`
	CloseCalls      int     `json:"close_calls"`
	ExposureMinutes int     `json:"exposure_minutes"`
	RatePerMinute   float64 `json:"rate_per_minute"`
}

// ZoneStats holds per-zone close-call distance statistics.
type ZoneStats struct {
	CloseCalls  int     `json:"close_calls"`
	AvgDistance float64 `json:"avg_distance"`
	MinDistance float64 `json:"min_distance"`
	MaxDistance float64 `json:"max_distance"`
}

// ZoneAnalysis ranks zones by close-call count.
type ZoneAnalysis struct {
	WorstZone string               `json:"worst_zone,omitempty"`
	ByZone    map[string]ZoneStats `json:"by_zone"`
}

// RateAnalysis is the near-miss rate normalized per 100 vehicle-minutes.
type RateAnalysis struct {
	RatePer100Minutes   float64 `json:"rate_per_100_minutes"`
	TotalVehicleMinutes float64 `json:"total_vehicle_minutes"`
	UniqueVehicles      int     `json:"unique_vehicles"`
	ObservationMinutes  float64 `json:"observation_minutes"`
}

// SeverityStats summarizes one severity tier.
type SeverityStats struct {
	Count       int     `json:"count"`
	Percentage  float64 `json:"percentage"`
	AvgDistance float64 `json:"avg_distance"`
}

const defaultObservationMinutes = 60.0

const topOffenderLimit = 10

// BuildTimeSeries groups close calls into minute buckets, ascending. Minutes
// without matches are omitted.
func BuildTimeSeries(calls []safety.CloseCall) []TimeSeriesPoint {
	counts := make(map[int64]int)
	for _, c := range calls {
		counts[minuteBucket(c.Timestamp)]++
	}

	series := make([]TimeSeriesPoint, 0, len(counts))
	for bucket, n := range counts {
		series = append(series, TimeSeriesPoint{Time: time.UnixMilli(bucket).UTC(), Count: n})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Time.Before(series[j].Time) })
	return series
}

// TopOffenders ranks vehicles by close-call count, descending, capped at ten.
// Exposure is the number of distinct minute buckets the vehicle appears in.
// Equal counts are broken by ascending vehicle id so the ranking is stable
// regardless of match order.
func TopOffenders(calls []safety.CloseCall) []Offender {
	counts := make(map[string]int)
	exposure := make(map[string]map[int64]struct{})

	for _, c := range calls {
		id := c.VehicleTrackingID
		counts[id]++
		if exposure[id] == nil {
			exposure[id] = make(map[int64]struct{})
		}
		exposure[id][minuteBucket(c.Timestamp)] = struct{}{}
	}

	offenders := make([]Offender, 0, len(counts))
	for id, n := range counts {
		minutes := len(exposure[id])
		rate := 0.0
		if minutes > 0 {
			rate = float64(n) / float64(minutes)
		}
		offenders = append(offenders, Offender{
			VehicleID:       id,
			CloseCalls:      n,
			ExposureMinutes: minutes,
			RatePerMinute:   rate,
		})
	}

	sort.Slice(offenders, func(i, j int) bool {
		if offenders[i].CloseCalls != offenders[j].CloseCalls {
			return offenders[i].CloseCalls > offenders[j].CloseCalls
		}
		return offenders[i].VehicleID < offenders[j].VehicleID
	})
	if len(offenders) > topOffenderLimit {
		offenders = offenders[:topOffenderLimit]
	}
	return offenders
}

// AnalyzeZones groups close calls by zone (vehicle zone, else human zone;
// zoneless calls are excluded) and computes distance statistics. WorstZone is
// the zone with the most close calls; ties go to the lexicographically
// smallest zone id.
func AnalyzeZones(calls []safety.CloseCall) ZoneAnalysis {
	distances := make(map[string][]float64)
	for _, c := range calls {
		zone := c.Zone()
		if zone == "" {
			continue
		}
		distances[zone] = append(distances[zone], c.Distance)
	}

	analysis := ZoneAnalysis{ByZone: make(map[string]ZoneStats, len(distances))}
	for zone, ds := range distances {
		stats := ZoneStats{CloseCalls: len(ds), MinDistance: ds[0], MaxDistance: ds[0]}
		sum := 0.0
		for _, d := range ds {
			sum += d
			if d < stats.MinDistance {
				stats.MinDistance = d
			}
			if d > stats.MaxDistance {
				stats.MaxDistance = d
			}
		}
		stats.AvgDistance = sum / float64(len(ds))
		analysis.ByZone[zone] = stats

		worst := analysis.ByZone[analysis.WorstZone]
		if analysis.WorstZone == "" ||
			stats.CloseCalls > worst.CloseCalls ||
			(stats.CloseCalls == worst.CloseCalls && zone < analysis.WorstZone) {
			analysis.WorstZone = zone
		}
	}
	return analysis
}

// ComputeNearMissRate normalizes the close-call count per 100 vehicle-minutes.
// The observation window comes from the caller's [from, to) range; without one
// it falls back to the span of the match timestamps, and to 60 minutes when
// that span is empty.
func ComputeNearMissRate(calls []safety.CloseCall, from, to *time.Time) RateAnalysis {
	if len(calls) == 0 {
		return RateAnalysis{}
	}

	var minutes float64
	if from != nil && to != nil {
		minutes = to.Sub(*from).Minutes()
	} else {
		minTS, maxTS := calls[0].Timestamp, calls[0].Timestamp
		for _, c := range calls[1:] {
			if c.Timestamp.Before(minTS) {
				minTS = c.Timestamp
			}
			if c.Timestamp.After(maxTS) {
				maxTS = c.Timestamp
			}
		}
		minutes = maxTS.Sub(minTS).Minutes()
	}
	if minutes <= 0 {
		minutes = defaultObservationMinutes
	}

	vehicles := make(map[string]struct{})
	for _, c := range calls {
		vehicles[c.VehicleTrackingID] = struct{}{}
	}

	vehicleMinutes := float64(len(vehicles)) * minutes
	rate := 0.0
	if vehicleMinutes > 0 {
		rate = float64(len(calls)) / vehicleMinutes * 100
	}
	return RateAnalysis{
		RatePer100Minutes:   rate,
		TotalVehicleMinutes: vehicleMinutes,
		UniqueVehicles:      len(vehicles),
		ObservationMinutes:  minutes,
	}
}

// AnalyzeSeverity breaks the match list down per severity tier. Every tier is
// present in the result even when empty.
func AnalyzeSeverity(calls []safety.CloseCall) map[safety.Severity]SeverityStats {
	counts := make(map[safety.Severity]int)
	sums := make(map[safety.Severity]float64)
	for _, c := range calls {
		counts[c.Severity]++
		sums[c.Severity] += c.Distance
	}

	analysis := make(map[safety.Severity]SeverityStats, 3)
	for _, sev := range []safety.Severity{safety.SeverityHigh, safety.SeverityMedium, safety.SeverityLow} {
		stats := SeverityStats{Count: counts[sev]}
		if len(calls) > 0 {
			stats.Percentage = float64(counts[sev]) / float64(len(calls)) * 100
		}
		if counts[sev] > 0 {
			stats.AvgDistance = sums[sev] / float64(counts[sev])
		}
		analysis[sev] = stats
	}
	return analysis
}

func minuteBucket(t time.Time) int64 {
	return t.Truncate(time.Minute).UnixMilli()
}
