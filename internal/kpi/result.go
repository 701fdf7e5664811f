package kpi

import (
	"time"

	"safety-kpi-service/internal/domain/safety"
)

// Params are the caller-supplied inputs of one close-call computation.
type Params struct {
	DistanceThreshold float64             `json:"distance_threshold"`
	TimeWindowMS      int64               `json:"time_window_ms"`
	FromTime          *time.Time          `json:"from_time,omitempty"`
	ToTime            *time.Time          `json:"to_time,omitempty"`
	Zone              string              `json:"zone,omitempty"`
	VehicleClass      safety.ObjectClass  `json:"vehicle_class,omitempty"`
	BatchSize         int                 `json:"batch_size,omitempty"`
}

// Statistics counts the work one computation performed.
type Statistics struct {
	HumanDetectionsProcessed   int     `json:"human_detections_processed"`
	VehicleDetectionsProcessed int     `json:"vehicle_detections_processed"`
	CloseCallsDetected         int     `json:"close_calls_detected"`
	ComputationTimeMS          float64 `json:"computation_time_ms"`
}

// Result is the full KPI output of one close-call computation. It is
// recomputed per call; no state survives between invocations.
type Result struct {
	TotalCount       int                                `json:"total_count"`
	CloseCalls       []safety.CloseCall                 `json:"close_calls"`
	TimeSeries       []TimeSeriesPoint                  `json:"time_series"`
	TopOffenders     []Offender                         `json:"top_offenders"`
	ZoneAnalysis     ZoneAnalysis                       `json:"zone_analysis"`
	NearMissRate     RateAnalysis                       `json:"near_miss_rate"`
	SeverityAnalysis map[safety.Severity]SeverityStats  `json:"severity_analysis"`
	Statistics       Statistics                         `json:"statistics"`
	Parameters       Params                             `json:"parameters_used"`
}

// EmptyResult returns a zero-valued, fully populated result for queries that
// matched no observations. Substructures are present, never nil.
func EmptyResult(params Params) *Result {
	return &Result{
		CloseCalls:       []safety.CloseCall{},
		TimeSeries:       []TimeSeriesPoint{},
		TopOffenders:     []Offender{},
		ZoneAnalysis:     ZoneAnalysis{ByZone: map[string]ZoneStats{}},
		SeverityAnalysis: AnalyzeSeverity(nil),
		Parameters:       params,
	}
}

// Aggregate reduces a match list into the reporting structures of a Result.
// It never recomputes matching and tolerates an empty list.
func Aggregate(calls []safety.CloseCall, params Params) *Result {
	res := EmptyResult(params)
	if len(calls) == 0 {
		return res
	}
	res.TotalCount = len(calls)
	res.CloseCalls = calls
	res.TimeSeries = BuildTimeSeries(calls)
	res.TopOffenders = TopOffenders(calls)
	res.ZoneAnalysis = AnalyzeZones(calls)
	res.NearMissRate = ComputeNearMissRate(calls, params.FromTime, params.ToTime)
	res.SeverityAnalysis = AnalyzeSeverity(calls)
	return res
}
