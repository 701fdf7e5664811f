package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"safety-kpi-service/internal/domain/safety"
	"safety-kpi-service/internal/kpi"
)

// DetectionSource is the store capability the safety-violation KPIs need.
type DetectionSource interface {
	DetectionsByClass(ctx context.Context, f safety.DetectionFilter) ([]safety.Observation, error)
	TrajectoryPoints(ctx context.Context, f safety.DetectionFilter) ([]safety.Observation, error)
	CountDetections(ctx context.Context, f safety.DetectionFilter) (int64, error)
}

// SafetyParams control one safety-violation computation.
type SafetyParams struct {
	FromTime            *time.Time `json:"from_time,omitempty"`
	ToTime              *time.Time `json:"to_time,omitempty"`
	Zone                string     `json:"zone,omitempty"`
	SpeedThreshold      float64    `json:"speed_threshold"`
	IncludeHumansInSpeed bool      `json:"include_humans_in_speed"`
}

// OverspeedEvent is one observation exceeding the speed threshold. Speed is
// the raw reading when present; otherwise DerivedSpeed carries the
// trajectory-estimated value that triggered the event.
type OverspeedEvent struct {
	ID           int64              `json:"id"`
	Timestamp    time.Time          `json:"timestamp"`
	TrackingID   string             `json:"tracking_id"`
	ObjectClass  safety.ObjectClass `json:"object_class"`
	X            float64            `json:"x"`
	Y            float64            `json:"y"`
	Zone         string             `json:"zone,omitempty"`
	Speed        *float64           `json:"speed,omitempty"`
	DerivedSpeed *float64           `json:"derived_speed,omitempty"`
	Excess       float64            `json:"excess"`
}

// VestViolation is one human detection without a safety vest.
type VestViolation struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	TrackingID string    `json:"tracking_id"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Zone       string    `json:"zone,omitempty"`
}

// SafetyTopCards are the headline dashboard numbers.
type SafetyTopCards struct {
	VestViolationsCount          int     `json:"vest_violations_count"`
	VestViolationsUniqueHumans   int     `json:"vest_violations_unique_humans"`
	VestCompliancePercentage     float64 `json:"vest_compliance_percentage"`
	OverspeedEventsCount         int     `json:"overspeed_events_count"`
	OverspeedEventsUniqueVehicles int    `json:"overspeed_events_unique_vehicles"`
	AvgOverspeedExcess           float64 `json:"avg_overspeed_excess"`
}

// SafetyTimePoint is one hour bucket of combined violation counts.
type SafetyTimePoint struct {
	Hour            time.Time `json:"hour"`
	VestViolations  int       `json:"vest_violations"`
	OverspeedEvents int       `json:"overspeed_events"`
}

// SafetyZoneRow is per-zone violation totals.
type SafetyZoneRow struct {
	Zone            string `json:"zone"`
	VestViolations  int    `json:"vest_violations"`
	OverspeedEvents int    `json:"overspeed_events"`
	TotalViolations int    `json:"total_violations"`
}

// RepeatOffender is a tracked object with two or more violations of one kind.
type RepeatOffender struct {
	TrackingID  string  `json:"tracking_id"`
	Type        string  `json:"type"`
	TotalEvents int     `json:"total_events"`
	RatePerHour float64 `json:"rate_per_hour"`
	AvgExcess   float64 `json:"avg_excess"`
}

// SafetyResult is the combined safety-violation KPI output.
type SafetyResult struct {
	TopCards        SafetyTopCards    `json:"top_cards"`
	VestViolations  []VestViolation   `json:"vest_violations"`
	OverspeedEvents []OverspeedEvent  `json:"overspeed_events"`
	TimeSeries      []SafetyTimePoint `json:"time_series"`
	ZoneAnalysis    []SafetyZoneRow   `json:"zone_analysis"`
	RepeatOffenders []RepeatOffender  `json:"repeat_offenders"`
	Parameters      SafetyParams      `json:"parameters_used"`
}

// SafetyService computes vest-violation and overspeed KPIs.
type SafetyService struct {
	source DetectionSource
	log    zerolog.Logger
}

func NewSafetyService(source DetectionSource, log zerolog.Logger) *SafetyService {
	return &SafetyService{
		source: source,
		log:    log,
	}
}

// Compute runs both violation scans and reduces them into the combined result.
func (s *SafetyService) Compute(ctx context.Context, params SafetyParams) (*SafetyResult, error) {
	if params.SpeedThreshold <= 0 {
		return nil, fmt.Errorf("%w: speed_threshold must be positive", ErrInvalidInput)
	}
	if params.FromTime != nil && params.ToTime != nil && !params.FromTime.Before(*params.ToTime) {
		return nil, fmt.Errorf("%w: from_time must be before to_time", ErrInvalidInput)
	}

	vest, totalHumans, err := s.VestViolations(ctx, params)
	if err != nil {
		return nil, err
	}
	overspeed, err := s.OverspeedEvents(ctx, params)
	if err != nil {
		return nil, err
	}

	result := &SafetyResult{
		TopCards:        topCards(vest, overspeed, totalHumans),
		VestViolations:  vest,
		OverspeedEvents: overspeed,
		TimeSeries:      safetyTimeSeries(vest, overspeed),
		ZoneAnalysis:    safetyZoneAnalysis(vest, overspeed),
		RepeatOffenders: repeatOffenders(vest, overspeed, params),
		Parameters:      params,
	}

	s.log.Info().
		Int("vest_violations", len(vest)).
		Int("overspeed_events", len(overspeed)).
		Msg("computed safety violation KPIs")

	return result, nil
}

// VestViolations returns every human detection without a vest in the window,
// plus the total human detection count for compliance math.
func (s *SafetyService) VestViolations(ctx context.Context, params SafetyParams) ([]VestViolation, int64, error) {
	humanFilter := safety.DetectionFilter{
		ObjectClasses: []safety.ObjectClass{safety.ClassHuman},
		FromTime:      params.FromTime,
		ToTime:        params.ToTime,
		Zone:          params.Zone,
	}

	total, err := s.source.CountDetections(ctx, humanFilter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count human detections: %w", err)
	}

	noVest := false
	humanFilter.Vest = &noVest
	rows, err := s.source.DetectionsByClass(ctx, humanFilter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch vest violations: %w", err)
	}

	violations := make([]VestViolation, 0, len(rows))
	for _, o := range rows {
		violations = append(violations, VestViolation{
			ID:         o.ID,
			Timestamp:  o.Timestamp,
			TrackingID: o.TrackingID,
			X:          o.X,
			Y:          o.Y,
			Zone:       o.Zone,
		})
	}
	return violations, total, nil
}

// OverspeedEvents scans the selected classes for observations above the speed
// threshold. Rows with a missing or zero raw speed fall back to the derived
// trajectory speed, estimated in one bulk pass.
func (s *SafetyService) OverspeedEvents(ctx context.Context, params SafetyParams) ([]OverspeedEvent, error) {
	classes := safety.VehicleClasses()
	if params.IncludeHumansInSpeed {
		classes = append(classes, safety.ClassHuman)
	}
	filter := safety.DetectionFilter{
		ObjectClasses: classes,
		FromTime:      params.FromTime,
		ToTime:        params.ToTime,
		Zone:          params.Zone,
	}

	rows, err := s.source.DetectionsByClass(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch detections for overspeed scan: %w", err)
	}

	var derived map[string]float64
	needDerived := false
	for _, o := range rows {
		if o.Speed == nil || *o.Speed == 0 {
			needDerived = true
			break
		}
	}
	if needDerived {
		points, err := s.source.TrajectoryPoints(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch trajectory points: %w", err)
		}
		derived = kpi.EstimateSpeeds(points)
	}

	events := []OverspeedEvent{}
	for _, o := range rows {
		event := OverspeedEvent{
			ID:          o.ID,
			Timestamp:   o.Timestamp,
			TrackingID:  o.TrackingID,
			ObjectClass: o.ObjectClass,
			X:           o.X,
			Y:           o.Y,
			Zone:        o.Zone,
			Speed:       o.Speed,
		}

		speed := 0.0
		if o.Speed != nil && *o.Speed != 0 {
			speed = *o.Speed
		} else if d, ok := derived[o.TrackingID]; ok && d > 0 {
			speed = d
			event.DerivedSpeed = &d
		}
		if speed <= params.SpeedThreshold {
			continue
		}
		event.Excess = speed - params.SpeedThreshold
		events = append(events, event)
	}
	return events, nil
}

func topCards(vest []VestViolation, overspeed []OverspeedEvent, totalHumans int64) SafetyTopCards {
	humans := make(map[string]struct{})
	for _, v := range vest {
		humans[v.TrackingID] = struct{}{}
	}

	vehicles := make(map[string]struct{})
	var excessSum float64
	for _, e := range overspeed {
		if e.ObjectClass != safety.ClassHuman {
			vehicles[e.TrackingID] = struct{}{}
		}
		excessSum += e.Excess
	}

	compliance := 100.0
	if totalHumans > 0 {
		compliance = (1 - float64(len(vest))/float64(totalHumans)) * 100
	}
	avgExcess := 0.0
	if len(overspeed) > 0 {
		avgExcess = excessSum / float64(len(overspeed))
	}

	return SafetyTopCards{
		VestViolationsCount:           len(vest),
		VestViolationsUniqueHumans:    len(humans),
		VestCompliancePercentage:      compliance,
		OverspeedEventsCount:          len(overspeed),
		OverspeedEventsUniqueVehicles: len(vehicles),
		AvgOverspeedExcess:            avgExcess,
	}
}

func safetyTimeSeries(vest []VestViolation, overspeed []OverspeedEvent) []SafetyTimePoint {
	vestByHour := make(map[int64]int)
	speedByHour := make(map[int64]int)
	for _, v := range vest {
		vestByHour[v.Timestamp.Truncate(time.Hour).UnixMilli()]++
	}
	for _, e := range overspeed {
		speedByHour[e.Timestamp.Truncate(time.Hour).UnixMilli()]++
	}

	hours := make(map[int64]struct{})
	for h := range vestByHour {
		hours[h] = struct{}{}
	}
	for h := range speedByHour {
		hours[h] = struct{}{}
	}

	series := make([]SafetyTimePoint, 0, len(hours))
	for h := range hours {
		series = append(series, SafetyTimePoint{
			Hour:            time.UnixMilli(h).UTC(),
			VestViolations:  vestByHour[h],
			OverspeedEvents: speedByHour[h],
		})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Hour.Before(series[j].Hour) })
	return series
}

func safetyZoneAnalysis(vest []VestViolation, overspeed []OverspeedEvent) []SafetyZoneRow {
	vestByZone := make(map[string]int)
	speedByZone := make(map[string]int)
	for _, v := range vest {
		vestByZone[zoneOrUnknown(v.Zone)]++
	}
	for _, e := range overspeed {
		speedByZone[zoneOrUnknown(e.Zone)]++
	}

	zones := make(map[string]struct{})
	for z := range vestByZone {
		zones[z] = struct{}{}
	}
	for z := range speedByZone {
		zones[z] = struct{}{}
	}

	rows := make([]SafetyZoneRow, 0, len(zones))
	for z := range zones {
		rows = append(rows, SafetyZoneRow{
			Zone:            z,
			VestViolations:  vestByZone[z],
			OverspeedEvents: speedByZone[z],
			TotalViolations: vestByZone[z] + speedByZone[z],
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalViolations != rows[j].TotalViolations {
			return rows[i].TotalViolations > rows[j].TotalViolations
		}
		return rows[i].Zone < rows[j].Zone
	})
	return rows
}

func repeatOffenders(vest []VestViolation, overspeed []OverspeedEvent, params SafetyParams) []RepeatOffender {
	vestCounts := make(map[string]int)
	for _, v := range vest {
		vestCounts[v.TrackingID]++
	}
	speedCounts := make(map[string]int)
	excess := make(map[string]float64)
	for _, e := range overspeed {
		speedCounts[e.TrackingID]++
		excess[e.TrackingID] += e.Excess
	}

	offenders := []RepeatOffender{}
	for id, n := range vestCounts {
		if n < 2 {
			continue
		}
		offenders = append(offenders, RepeatOffender{
			TrackingID:  id,
			Type:        "vest_violation",
			TotalEvents: n,
			RatePerHour: ratePerHour(n, params.FromTime, params.ToTime),
		})
	}
	for id, n := range speedCounts {
		if n < 2 {
			continue
		}
		offenders = append(offenders, RepeatOffender{
			TrackingID:  id,
			Type:        "overspeed",
			TotalEvents: n,
			RatePerHour: ratePerHour(n, params.FromTime, params.ToTime),
			AvgExcess:   excess[id] / float64(n),
		})
	}

	sort.Slice(offenders, func(i, j int) bool {
		if offenders[i].TotalEvents != offenders[j].TotalEvents {
			return offenders[i].TotalEvents > offenders[j].TotalEvents
		}
		if offenders[i].TrackingID != offenders[j].TrackingID {
			return offenders[i].TrackingID < offenders[j].TrackingID
		}
		return offenders[i].Type < offenders[j].Type
	})
	if len(offenders) > 20 {
		offenders = offenders[:20]
	}
	return offenders
}

func ratePerHour(count int, from, to *time.Time) float64 {
	if from != nil && to != nil {
		if hours := to.Sub(*from).Hours(); hours > 0 {
			return float64(count) / hours
		}
	}
	return float64(count)
}

func zoneOrUnknown(zone string) string {
	if zone == "" {
		return "unknown"
	}
	return zone
}
