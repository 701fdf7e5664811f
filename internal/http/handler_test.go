package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safety-kpi-service/internal/config"
	"safety-kpi-service/internal/domain/safety"
	"safety-kpi-service/internal/service"
)

type stubSource struct {
	rows []safety.Observation
}

func (s *stubSource) HumanDetections(_ context.Context, _ safety.DetectionFilter) ([]safety.Observation, error) {
	return nil, nil
}

func (s *stubSource) VehicleDetectionsInRange(_ context.Context, _, _ time.Time, _ string, _ safety.ObjectClass) ([]safety.Observation, error) {
	return nil, nil
}

func (s *stubSource) DetectionsByClass(_ context.Context, _ safety.DetectionFilter) ([]safety.Observation, error) {
	return s.rows, nil
}

func (s *stubSource) TrajectoryPoints(_ context.Context, _ safety.DetectionFilter) ([]safety.Observation, error) {
	return nil, nil
}

func (s *stubSource) CountDetections(_ context.Context, _ safety.DetectionFilter) (int64, error) {
	return int64(len(s.rows)), nil
}

func newTestRouter(source *stubSource) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := zerolog.Nop()

	cfg := &config.Config{
		KPI: config.KPIConfig{
			DistanceThreshold: 2.0,
			TimeWindowMS:      250,
			BatchSize:         200,
			SpeedThreshold:    1.5,
		},
	}
	h := NewHandler(
		service.NewCloseCallService(source, log),
		service.NewSafetyService(source, log),
		service.NewAggregationService(source, log),
		nil,
		nil, // caching disabled
		cfg,
		log,
	)

	r := gin.New()
	h.Register(r, func(c *gin.Context) { c.Next() })
	return r
}

func TestAggregateEndpoint(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	source := &stubSource{
		rows: []safety.Observation{
			{TrackingID: "h1", ObjectClass: safety.ClassHuman, Timestamp: base},
			{TrackingID: "v1", ObjectClass: safety.ClassVehicle, Timestamp: base},
			{TrackingID: "v1", ObjectClass: safety.ClassVehicle, Timestamp: base.Add(time.Minute)},
		},
	}
	r := newTestRouter(source)

	t.Run("grouped count", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/kpi/aggregate?group_by=object_class", nil)
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data service.AggregateResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "count", body.Data.Metadata.Metric)
		assert.Equal(t, "1h", body.Data.Metadata.TimeBucketUsed)
		require.Len(t, body.Data.Results, 2)
	})

	t.Run("invalid metric is a 400", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/kpi/aggregate?metric=median", nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAggregateCacheKey(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	vest := true

	params := service.AggregateParams{
		Filter: safety.DetectionFilter{
			ObjectClasses: []safety.ObjectClass{safety.ClassHuman},
			FromTime:      &base,
			Zone:          "dock",
			Vest:          &vest,
		},
		GroupBy:    []string{service.GroupZone},
		TimeBucket: "5m",
		Metric:     service.MetricCount,
	}

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, aggregateCacheKey("aggregation", params), aggregateCacheKey("aggregation", params))
	})

	t.Run("every shaping parameter changes the key", func(t *testing.T) {
		t.Parallel()

		baseline := aggregateCacheKey("aggregation", params)

		metric := params
		metric.Metric = service.MetricAvgSpeed
		assert.NotEqual(t, baseline, aggregateCacheKey("aggregation", metric))

		bucket := params
		bucket.TimeBucket = "1h"
		assert.NotEqual(t, baseline, aggregateCacheKey("aggregation", bucket))

		groups := params
		groups.GroupBy = []string{service.GroupZone, service.GroupVest}
		assert.NotEqual(t, baseline, aggregateCacheKey("aggregation", groups))

		zone := params
		zone.Filter.Zone = "aisle"
		assert.NotEqual(t, baseline, aggregateCacheKey("aggregation", zone))
	})

	t.Run("unset filter fields are absent", func(t *testing.T) {
		t.Parallel()

		key := aggregateCacheKey("aggregation", service.AggregateParams{})
		assert.NotContains(t, key, "min_speed")
		assert.NotContains(t, key, "vest")
	})
}
