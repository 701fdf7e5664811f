package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"safety-kpi-service/internal/domain/safety"
)

// Aggregation dimensions and metrics.
const (
	GroupTimeBucket  = "time_bucket"
	GroupObjectClass = "object_class"
	GroupZone        = "zone"
	GroupVest        = "vest"

	MetricCount          = "count"
	MetricUniqueIDs      = "unique_ids"
	MetricAvgSpeed       = "avg_speed"
	MetricRate           = "rate"
	MetricVestCompliance = "vest_compliance"
)

var bucketDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"1d":  24 * time.Hour,
}

const maxAggregationRange = 365 * 24 * time.Hour

// AggregateParams select the rows, grouping dimensions and metric of one
// aggregation query.
type AggregateParams struct {
	Filter     safety.DetectionFilter
	GroupBy    []string
	TimeBucket string
	Metric     string
}

// AggregateRow is one group of the aggregation output. Grouping fields are
// nil when the matching dimension was not requested.
type AggregateRow struct {
	Time        *time.Time `json:"time,omitempty"`
	ObjectClass *string    `json:"object_class,omitempty"`
	Zone        *string    `json:"zone,omitempty"`
	Vest        *bool      `json:"vest,omitempty"`
	Value       float64    `json:"value"`
}

// AggregateResult carries the grouped values plus query metadata.
type AggregateResult struct {
	Results  []AggregateRow    `json:"results"`
	Metadata AggregateMetadata `json:"metadata"`
}

type AggregateMetadata struct {
	TimeBucketUsed string `json:"time_bucket_used"`
	Metric         string `json:"metric"`
	TotalResults   int    `json:"total_results"`
}

// AggregationService answers generic group-by/metric questions over stored
// detections. Rows are fetched through the typed filter and reduced in
// memory.
type AggregationService struct {
	source DetectionSource
	log    zerolog.Logger
}

func NewAggregationService(source DetectionSource, log zerolog.Logger) *AggregationService {
	return &AggregationService{
		source: source,
		log:    log,
	}
}

// Aggregate validates params, fetches the filtered rows and reduces them.
func (s *AggregationService) Aggregate(ctx context.Context, params AggregateParams) (*AggregateResult, error) {
	if err := s.validate(&params); err != nil {
		return nil, err
	}

	rows, err := s.source.DetectionsByClass(ctx, params.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch detections for aggregation: %w", err)
	}

	groups := groupRows(rows, params)
	results := make([]AggregateRow, 0, len(groups))
	for _, g := range groups {
		results = append(results, AggregateRow{
			Time:        g.time,
			ObjectClass: g.objectClass,
			Zone:        g.zone,
			Vest:        g.vest,
			Value:       s.metricValue(g, params),
		})
	}
	sortAggregateRows(results)

	return &AggregateResult{
		Results: results,
		Metadata: AggregateMetadata{
			TimeBucketUsed: params.TimeBucket,
			Metric:         params.Metric,
			TotalResults:   len(results),
		},
	}, nil
}

func (s *AggregationService) validate(params *AggregateParams) error {
	from, to := params.Filter.FromTime, params.Filter.ToTime
	if from != nil && to != nil {
		if from.After(*to) {
			return fmt.Errorf("%w: from_time cannot be after to_time", ErrInvalidInput)
		}
		if to.Sub(*from) > maxAggregationRange {
			return fmt.Errorf("%w: time range cannot exceed 1 year", ErrInvalidInput)
		}
	}
	if params.Metric == "" {
		params.Metric = MetricCount
	}
	switch params.Metric {
	case MetricCount, MetricUniqueIDs, MetricAvgSpeed, MetricRate, MetricVestCompliance:
	default:
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidInput, params.Metric)
	}
	if params.TimeBucket == "" {
		params.TimeBucket = "1h"
	}
	if _, ok := bucketDurations[params.TimeBucket]; !ok {
		return fmt.Errorf("%w: unknown time_bucket %q", ErrInvalidInput, params.TimeBucket)
	}
	for _, g := range params.GroupBy {
		switch g {
		case GroupTimeBucket, GroupObjectClass, GroupZone, GroupVest:
		default:
			return fmt.Errorf("%w: unknown group_by dimension %q", ErrInvalidInput, g)
		}
	}
	return nil
}

type aggregateGroup struct {
	time        *time.Time
	objectClass *string
	zone        *string
	vest        *bool

	count       int
	ids         map[string]struct{}
	speedSum    float64
	speedCount  int
	vestTotal   int
	vestOK      int
}

func groupRows(rows []safety.Observation, params AggregateParams) []*aggregateGroup {
	has := func(dim string) bool {
		for _, g := range params.GroupBy {
			if g == dim {
				return true
			}
		}
		return false
	}
	byTime := has(GroupTimeBucket)
	byClass := has(GroupObjectClass)
	byZone := has(GroupZone)
	byVest := has(GroupVest)
	bucket := bucketDurations[params.TimeBucket]

	type key struct {
		bucket int64
		class  string
		zone   string
		vest   string
	}
	groups := make(map[key]*aggregateGroup)
	order := []*aggregateGroup{}

	for _, o := range rows {
		var k key
		g := &aggregateGroup{}
		if byTime {
			t := o.Timestamp.UTC().Truncate(bucket)
			k.bucket = t.UnixMilli()
			g.time = &t
		}
		if byClass {
			class := string(o.ObjectClass)
			k.class = class
			g.objectClass = &class
		}
		if byZone {
			zone := o.Zone
			k.zone = zone
			g.zone = &zone
		}
		if byVest {
			switch {
			case o.Vest == nil:
				k.vest = "null"
			case *o.Vest:
				k.vest = "true"
			default:
				k.vest = "false"
			}
			g.vest = o.Vest
		}

		existing, ok := groups[k]
		if !ok {
			g.ids = make(map[string]struct{})
			groups[k] = g
			order = append(order, g)
			existing = g
		}

		existing.count++
		existing.ids[o.TrackingID] = struct{}{}
		if o.Speed != nil {
			existing.speedSum += *o.Speed
			existing.speedCount++
		}
		if o.ObjectClass == safety.ClassHuman && o.Vest != nil {
			existing.vestTotal++
			if *o.Vest {
				existing.vestOK++
			}
		}
	}
	return order
}

func (s *AggregationService) metricValue(g *aggregateGroup, params AggregateParams) float64 {
	switch params.Metric {
	case MetricUniqueIDs:
		return float64(len(g.ids))
	case MetricAvgSpeed:
		if g.speedCount == 0 {
			return 0
		}
		return g.speedSum / float64(g.speedCount)
	case MetricVestCompliance:
		if g.vestTotal == 0 {
			return 0
		}
		return float64(g.vestOK) / float64(g.vestTotal) * 100
	case MetricRate:
		// Events per hour: per bucket when grouped by time, else over the
		// requested range.
		if g.time != nil {
			hours := bucketDurations[params.TimeBucket].Hours()
			return float64(g.count) / hours
		}
		from, to := params.Filter.FromTime, params.Filter.ToTime
		if from != nil && to != nil {
			if hours := to.Sub(*from).Hours(); hours > 0 {
				return float64(g.count) / hours
			}
		}
		return float64(g.count)
	default:
		return float64(g.count)
	}
}

func sortAggregateRows(rows []AggregateRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if at, bt := timeOrZero(a.Time), timeOrZero(b.Time); !at.Equal(bt) {
			return at.Before(bt)
		}
		if ac, bc := strOrEmpty(a.ObjectClass), strOrEmpty(b.ObjectClass); ac != bc {
			return ac < bc
		}
		if az, bz := strOrEmpty(a.Zone), strOrEmpty(b.Zone); az != bz {
			return az < bz
		}
		return vestOrder(a.Vest) < vestOrder(b.Vest)
	})
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func vestOrder(v *bool) int {
	switch {
	case v == nil:
		return 0
	case !*v:
		return 1
	default:
		return 2
	}
}
