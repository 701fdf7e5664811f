package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"safety-kpi-service/internal/domain/safety"
	"safety-kpi-service/internal/kpi"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// TrajectorySource supplies time-ordered observation rows for a filtered
// window. The repository implements it against the detection store.
type TrajectorySource interface {
	HumanDetections(ctx context.Context, f safety.DetectionFilter) ([]safety.Observation, error)
	VehicleDetectionsInRange(ctx context.Context, minTime, maxTime time.Time, zone string, vehicleClass safety.ObjectClass) ([]safety.Observation, error)
}

// CloseCallService computes near-miss KPIs on demand. It holds no state
// between calls; concurrent computations are independent.
type CloseCallService struct {
	source TrajectorySource
	log    zerolog.Logger
}

func NewCloseCallService(source TrajectorySource, log zerolog.Logger) *CloseCallService {
	return &CloseCallService{
		source: source,
		log:    log,
	}
}

// Compute validates params, fetches both observation streams, runs the
// proximity matcher and reduces the match list to the full KPI result.
// Parameter problems surface as ErrInvalidInput before any matching work;
// anything else is a computation failure.
func (s *CloseCallService) Compute(ctx context.Context, params kpi.Params) (*kpi.Result, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if params.BatchSize <= 0 {
		params.BatchSize = kpi.DefaultBatchSize
	}

	start := time.Now()

	humans, err := s.source.HumanDetections(ctx, safety.DetectionFilter{
		FromTime: params.FromTime,
		ToTime:   params.ToTime,
		Zone:     params.Zone,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to fetch human detections")
		return nil, fmt.Errorf("failed to fetch human detections: %w", err)
	}
	if len(humans) == 0 {
		result := kpi.EmptyResult(params)
		result.Statistics.ComputationTimeMS = float64(time.Since(start).Microseconds()) / 1000
		return result, nil
	}

	// Expand the vehicle fetch by the time window on both sides so boundary
	// pairs around the human range are not lost.
	window := time.Duration(params.TimeWindowMS) * time.Millisecond
	minTS := humans[0].Timestamp.Add(-window)
	maxTS := humans[len(humans)-1].Timestamp.Add(window)

	vehicles, err := s.source.VehicleDetectionsInRange(ctx, minTS, maxTS, params.Zone, params.VehicleClass)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to fetch vehicle detections")
		return nil, fmt.Errorf("failed to fetch vehicle detections: %w", err)
	}

	result := kpi.EmptyResult(params)
	if len(vehicles) > 0 {
		index := kpi.NewTimeIndex(vehicles)
		calls := kpi.MatchCloseCalls(humans, index, params.DistanceThreshold, params.TimeWindowMS, params.BatchSize)
		result = kpi.Aggregate(calls, params)
	}

	result.Statistics = kpi.Statistics{
		HumanDetectionsProcessed:   len(humans),
		VehicleDetectionsProcessed: len(vehicles),
		CloseCallsDetected:         result.TotalCount,
		ComputationTimeMS:          float64(time.Since(start).Microseconds()) / 1000,
	}

	s.log.Info().
		Int("humans", len(humans)).
		Int("vehicles", len(vehicles)).
		Int("close_calls", result.TotalCount).
		Float64("distance_threshold", params.DistanceThreshold).
		Int64("time_window_ms", params.TimeWindowMS).
		Msg("computed close-call KPIs")

	return result, nil
}

func validateParams(params kpi.Params) error {
	if params.DistanceThreshold <= 0 {
		return fmt.Errorf("%w: distance_threshold must be positive", ErrInvalidInput)
	}
	if params.TimeWindowMS < 0 {
		return fmt.Errorf("%w: time_window_ms cannot be negative", ErrInvalidInput)
	}
	if params.FromTime != nil && params.ToTime != nil && !params.FromTime.Before(*params.ToTime) {
		return fmt.Errorf("%w: from_time must be before to_time", ErrInvalidInput)
	}
	if params.VehicleClass != "" && !params.VehicleClass.IsVehicle() {
		return fmt.Errorf("%w: vehicle_class must be one of vehicle, pallet_truck, agv", ErrInvalidInput)
	}
	return nil
}
