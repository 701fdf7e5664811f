package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safety-kpi-service/internal/domain/safety"
)

func TestAggregationServiceValidation(t *testing.T) {
	t.Parallel()

	svc := NewAggregationService(&fakeDetectionSource{}, zerolog.Nop())
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("rejects unknown metric", func(t *testing.T) {
		t.Parallel()

		_, err := svc.Aggregate(context.Background(), AggregateParams{Metric: "median"})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("rejects unknown time bucket", func(t *testing.T) {
		t.Parallel()

		_, err := svc.Aggregate(context.Background(), AggregateParams{TimeBucket: "2h"})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("rejects unknown group_by dimension", func(t *testing.T) {
		t.Parallel()

		_, err := svc.Aggregate(context.Background(), AggregateParams{GroupBy: []string{"heading"}})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("rejects inverted range", func(t *testing.T) {
		t.Parallel()

		later := base.Add(time.Hour)
		_, err := svc.Aggregate(context.Background(), AggregateParams{
			Filter: safety.DetectionFilter{FromTime: &later, ToTime: &base},
		})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("rejects range over one year", func(t *testing.T) {
		t.Parallel()

		far := base.Add(366 * 24 * time.Hour)
		_, err := svc.Aggregate(context.Background(), AggregateParams{
			Filter: safety.DetectionFilter{FromTime: &base, ToTime: &far},
		})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("defaults metric and bucket", func(t *testing.T) {
		t.Parallel()

		res, err := svc.Aggregate(context.Background(), AggregateParams{})
		require.NoError(t, err)
		assert.Equal(t, MetricCount, res.Metadata.Metric)
		assert.Equal(t, "1h", res.Metadata.TimeBucketUsed)
	})
}

func TestAggregationServiceAggregate(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	source := &fakeDetectionSource{
		byClass: []safety.Observation{
			{TrackingID: "h1", ObjectClass: safety.ClassHuman, Timestamp: base, Zone: "dock", Vest: boolPtr(true), Speed: floatPtr(1.0)},
			{TrackingID: "h2", ObjectClass: safety.ClassHuman, Timestamp: base.Add(10 * time.Minute), Zone: "dock", Vest: boolPtr(false), Speed: floatPtr(2.0)},
			{TrackingID: "v1", ObjectClass: safety.ClassVehicle, Timestamp: base.Add(90 * time.Minute), Zone: "aisle", Speed: floatPtr(3.0)},
			{TrackingID: "v1", ObjectClass: safety.ClassVehicle, Timestamp: base.Add(100 * time.Minute), Zone: "aisle", Speed: floatPtr(5.0)},
		},
	}
	svc := NewAggregationService(source, zerolog.Nop())

	t.Run("count by object class", func(t *testing.T) {
		t.Parallel()

		res, err := svc.Aggregate(context.Background(), AggregateParams{
			GroupBy: []string{GroupObjectClass},
			Metric:  MetricCount,
		})
		require.NoError(t, err)
		require.Len(t, res.Results, 2)
		// Sorted by class name: human before vehicle.
		require.NotNil(t, res.Results[0].ObjectClass)
		assert.Equal(t, "human", *res.Results[0].ObjectClass)
		assert.InDelta(t, 2.0, res.Results[0].Value, 1e-9)
		assert.Equal(t, "vehicle", *res.Results[1].ObjectClass)
		assert.InDelta(t, 2.0, res.Results[1].Value, 1e-9)
		assert.Equal(t, 2, res.Metadata.TotalResults)
	})

	t.Run("count by hour bucket", func(t *testing.T) {
		t.Parallel()

		res, err := svc.Aggregate(context.Background(), AggregateParams{
			GroupBy:    []string{GroupTimeBucket},
			TimeBucket: "1h",
		})
		require.NoError(t, err)
		require.Len(t, res.Results, 2)
		require.NotNil(t, res.Results[0].Time)
		assert.Equal(t, base, *res.Results[0].Time)
		assert.InDelta(t, 2.0, res.Results[0].Value, 1e-9)
		assert.Equal(t, base.Add(time.Hour), *res.Results[1].Time)
	})

	t.Run("unique ids by zone", func(t *testing.T) {
		t.Parallel()

		res, err := svc.Aggregate(context.Background(), AggregateParams{
			GroupBy: []string{GroupZone},
			Metric:  MetricUniqueIDs,
		})
		require.NoError(t, err)
		require.Len(t, res.Results, 2)
		assert.Equal(t, "aisle", *res.Results[0].Zone)
		assert.InDelta(t, 1.0, res.Results[0].Value, 1e-9) // v1 twice
		assert.Equal(t, "dock", *res.Results[1].Zone)
		assert.InDelta(t, 2.0, res.Results[1].Value, 1e-9)
	})

	t.Run("avg speed by class", func(t *testing.T) {
		t.Parallel()

		res, err := svc.Aggregate(context.Background(), AggregateParams{
			GroupBy: []string{GroupObjectClass},
			Metric:  MetricAvgSpeed,
		})
		require.NoError(t, err)
		require.Len(t, res.Results, 2)
		assert.InDelta(t, 1.5, res.Results[0].Value, 1e-9)
		assert.InDelta(t, 4.0, res.Results[1].Value, 1e-9)
	})

	t.Run("vest compliance ignores vehicles", func(t *testing.T) {
		t.Parallel()

		res, err := svc.Aggregate(context.Background(), AggregateParams{
			Metric: MetricVestCompliance,
		})
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		assert.InDelta(t, 50.0, res.Results[0].Value, 1e-9)
	})

	t.Run("rate per hour from explicit range", func(t *testing.T) {
		t.Parallel()

		from := base
		to := base.Add(2 * time.Hour)
		res, err := svc.Aggregate(context.Background(), AggregateParams{
			Filter: safety.DetectionFilter{FromTime: &from, ToTime: &to},
			Metric: MetricRate,
		})
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		assert.InDelta(t, 2.0, res.Results[0].Value, 1e-9) // 4 rows over 2h
	})

	t.Run("multi-dimension grouping", func(t *testing.T) {
		t.Parallel()

		res, err := svc.Aggregate(context.Background(), AggregateParams{
			GroupBy: []string{GroupObjectClass, GroupVest},
		})
		require.NoError(t, err)
		// human/true, human/false, vehicle/nil.
		require.Len(t, res.Results, 3)
		for _, row := range res.Results {
			require.NotNil(t, row.ObjectClass)
		}
	})

	t.Run("no rows yields empty non-nil results", func(t *testing.T) {
		t.Parallel()

		empty := NewAggregationService(&fakeDetectionSource{}, zerolog.Nop())
		res, err := empty.Aggregate(context.Background(), AggregateParams{GroupBy: []string{GroupZone}})
		require.NoError(t, err)
		require.NotNil(t, res.Results)
		assert.Empty(t, res.Results)
		assert.Zero(t, res.Metadata.TotalResults)
	})
}
