package kpi

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safety-kpi-service/internal/domain/safety"
)

func callAt(t time.Time, vehicleID string, distance float64) safety.CloseCall {
	return safety.CloseCall{
		Timestamp:         t,
		HumanTrackingID:   "h1",
		VehicleTrackingID: vehicleID,
		Distance:          distance,
		Severity:          ClassifySeverity(distance),
	}
}

func TestBuildTimeSeries(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	calls := []safety.CloseCall{
		callAt(base.Add(10*time.Second), "v1", 1.0),
		callAt(base.Add(30*time.Second), "v1", 1.0),
		callAt(base.Add(5*time.Minute), "v2", 1.0),
	}

	series := BuildTimeSeries(calls)
	require.Len(t, series, 2)
	assert.Equal(t, base, series[0].Time)
	assert.Equal(t, 2, series[0].Count)
	assert.Equal(t, base.Add(5*time.Minute), series[1].Time)
	assert.Equal(t, 1, series[1].Count)
}

func TestTopOffenders(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("rate uses distinct minute buckets", func(t *testing.T) {
		t.Parallel()

		// v1: five matches across three distinct minutes.
		calls := []safety.CloseCall{
			callAt(base, "v1", 1.0),
			callAt(base.Add(10*time.Second), "v1", 1.0),
			callAt(base.Add(1*time.Minute), "v1", 1.0),
			callAt(base.Add(2*time.Minute), "v1", 1.0),
			callAt(base.Add(2*time.Minute+30*time.Second), "v1", 1.0),
			callAt(base, "v2", 1.0),
		}

		offenders := TopOffenders(calls)
		require.Len(t, offenders, 2)
		assert.Equal(t, "v1", offenders[0].VehicleID)
		assert.Equal(t, 5, offenders[0].CloseCalls)
		assert.Equal(t, 3, offenders[0].ExposureMinutes)
		assert.InDelta(t, 5.0/3.0, offenders[0].RatePerMinute, 1e-9)
	})

	t.Run("capped at ten with deterministic tie break", func(t *testing.T) {
		t.Parallel()

		var calls []safety.CloseCall
		for i := 0; i < 15; i++ {
			calls = append(calls, callAt(base, fmt.Sprintf("v%02d", i), 1.0))
		}

		offenders := TopOffenders(calls)
		require.Len(t, offenders, 10)
		// All tied at one match each, so ascending vehicle id wins.
		assert.Equal(t, "v00", offenders[0].VehicleID)
		assert.Equal(t, "v09", offenders[9].VehicleID)
	})
}

func TestAnalyzeZones(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mk := func(vehicleZone, humanZone string, distance float64) safety.CloseCall {
		c := callAt(base, "v1", distance)
		c.VehicleZone = vehicleZone
		c.HumanZone = humanZone
		return c
	}

	calls := []safety.CloseCall{
		mk("dock", "", 1.0),
		mk("dock", "", 2.0),
		mk("", "aisle", 0.5),
		mk("", "", 1.0), // zoneless, excluded
	}

	analysis := AnalyzeZones(calls)
	require.Len(t, analysis.ByZone, 2)
	assert.Equal(t, "dock", analysis.WorstZone)

	dock := analysis.ByZone["dock"]
	assert.Equal(t, 2, dock.CloseCalls)
	assert.InDelta(t, 1.5, dock.AvgDistance, 1e-9)
	assert.InDelta(t, 1.0, dock.MinDistance, 1e-9)
	assert.InDelta(t, 2.0, dock.MaxDistance, 1e-9)

	aisle := analysis.ByZone["aisle"]
	assert.Equal(t, 1, aisle.CloseCalls)

	t.Run("worst zone tie goes to smallest zone id", func(t *testing.T) {
		t.Parallel()

		tied := AnalyzeZones([]safety.CloseCall{
			mk("zebra", "", 1.0),
			mk("alpha", "", 1.0),
		})
		assert.Equal(t, "alpha", tied.WorstZone)
	})
}

func TestComputeNearMissRate(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("explicit range", func(t *testing.T) {
		t.Parallel()

		from := base
		to := base.Add(time.Hour)
		calls := []safety.CloseCall{
			callAt(base, "v1", 1.0),
			callAt(base.Add(time.Minute), "v1", 1.0),
			callAt(base.Add(2*time.Minute), "v2", 1.0),
		}

		rate := ComputeNearMissRate(calls, &from, &to)
		assert.Equal(t, 2, rate.UniqueVehicles)
		assert.InDelta(t, 60.0, rate.ObservationMinutes, 1e-9)
		assert.InDelta(t, 120.0, rate.TotalVehicleMinutes, 1e-9)
		// 3 matches / 120 vehicle-minutes * 100.
		assert.InDelta(t, 2.5, rate.RatePer100Minutes, 1e-9)
	})

	t.Run("falls back to match span", func(t *testing.T) {
		t.Parallel()

		calls := []safety.CloseCall{
			callAt(base, "v1", 1.0),
			callAt(base.Add(30*time.Minute), "v1", 1.0),
		}

		rate := ComputeNearMissRate(calls, nil, nil)
		assert.InDelta(t, 30.0, rate.ObservationMinutes, 1e-9)
	})

	t.Run("zero span defaults to sixty minutes", func(t *testing.T) {
		t.Parallel()

		calls := []safety.CloseCall{callAt(base, "v1", 1.0)}
		rate := ComputeNearMissRate(calls, nil, nil)
		assert.InDelta(t, 60.0, rate.ObservationMinutes, 1e-9)
	})

	t.Run("no matches", func(t *testing.T) {
		t.Parallel()

		rate := ComputeNearMissRate(nil, nil, nil)
		assert.Zero(t, rate.RatePer100Minutes)
		assert.Zero(t, rate.UniqueVehicles)
	})
}

func TestAnalyzeSeverity(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	calls := []safety.CloseCall{
		callAt(base, "v1", 0.5),
		callAt(base, "v1", 0.7),
		callAt(base, "v2", 1.2),
		callAt(base, "v2", 1.8),
	}

	analysis := AnalyzeSeverity(calls)
	require.Len(t, analysis, 3)

	high := analysis[safety.SeverityHigh]
	assert.Equal(t, 2, high.Count)
	assert.InDelta(t, 50.0, high.Percentage, 1e-9)
	assert.InDelta(t, 0.6, high.AvgDistance, 1e-9)

	medium := analysis[safety.SeverityMedium]
	assert.Equal(t, 1, medium.Count)
	assert.InDelta(t, 25.0, medium.Percentage, 1e-9)

	low := analysis[safety.SeverityLow]
	assert.Equal(t, 1, low.Count)

	t.Run("all tiers present when empty", func(t *testing.T) {
		t.Parallel()

		empty := AnalyzeSeverity(nil)
		require.Len(t, empty, 3)
		for _, sev := range []safety.Severity{safety.SeverityHigh, safety.SeverityMedium, safety.SeverityLow} {
			assert.Zero(t, empty[sev].Count)
			assert.Zero(t, empty[sev].Percentage)
		}
	})
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	params := Params{DistanceThreshold: 2.0, TimeWindowMS: 250}

	t.Run("empty input yields populated empty result", func(t *testing.T) {
		t.Parallel()

		res := Aggregate(nil, params)
		assert.Zero(t, res.TotalCount)
		assert.NotNil(t, res.CloseCalls)
		assert.NotNil(t, res.TimeSeries)
		assert.NotNil(t, res.TopOffenders)
		assert.NotNil(t, res.ZoneAnalysis.ByZone)
		assert.Len(t, res.SeverityAnalysis, 3)
		assert.Equal(t, params, res.Parameters)
	})

	t.Run("counts and substructures line up", func(t *testing.T) {
		t.Parallel()

		base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		calls := []safety.CloseCall{
			callAt(base, "v1", 0.5),
			callAt(base.Add(time.Minute), "v2", 1.2),
		}

		res := Aggregate(calls, params)
		assert.Equal(t, 2, res.TotalCount)
		assert.Len(t, res.CloseCalls, 2)
		assert.Len(t, res.TimeSeries, 2)
		assert.Len(t, res.TopOffenders, 2)
		assert.Equal(t, 1, res.SeverityAnalysis[safety.SeverityHigh].Count)
	})
}
