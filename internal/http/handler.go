package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"safety-kpi-service/internal/cache"
	"safety-kpi-service/internal/config"
	"safety-kpi-service/internal/domain/safety"
	"safety-kpi-service/internal/kpi"
	"safety-kpi-service/internal/repository"
	"safety-kpi-service/internal/service"
	"safety-kpi-service/internal/utils"
)

type Handler struct {
	closeCallService   *service.CloseCallService
	safetyService      *service.SafetyService
	aggregationService *service.AggregationService
	repo               *repository.DetectionRepository
	kpiCache           *cache.KPICache
	config             *config.Config
	log                zerolog.Logger
}

func NewHandler(
	closeCallService *service.CloseCallService,
	safetyService *service.SafetyService,
	aggregationService *service.AggregationService,
	repo *repository.DetectionRepository,
	kpiCache *cache.KPICache,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		closeCallService:   closeCallService,
		safetyService:      safetyService,
		aggregationService: aggregationService,
		repo:               repo,
		kpiCache:           kpiCache,
		config:             cfg,
		log:                log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.GET("/kpi/close-calls", h.closeCallKPIs)
		public.GET("/kpi/safety", h.safetyKPIs)
		public.GET("/kpi/overspeed", h.overspeedEvents)
		public.GET("/kpi/vest-violations", h.vestViolations)
		public.GET("/kpi/aggregate", h.aggregate)
		public.GET("/detections", h.listDetections)
		public.GET("/detections/stats", h.detectionStats)
		public.POST("/detections", h.createDetection)
	}

	// Protected admin endpoints
	admin := r.Group("/api/v1/admin")
	admin.Use(authMiddleware)
	{
		admin.POST("/cache/invalidate", h.invalidateCache)
	}
}

func (h *Handler) closeCallKPIs(c *gin.Context) {
	params := kpi.Params{
		DistanceThreshold: h.config.KPI.DistanceThreshold,
		TimeWindowMS:      h.config.KPI.TimeWindowMS,
		BatchSize:         h.config.KPI.BatchSize,
		Zone:              strings.TrimSpace(c.Query("zone")),
		VehicleClass:      safety.ObjectClass(strings.TrimSpace(c.Query("vehicle_class"))),
	}

	if raw := c.Query("distance_threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid distance_threshold"))
			return
		}
		params.DistanceThreshold = v
	}
	if raw := c.Query("time_window_ms"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid time_window_ms"))
			return
		}
		params.TimeWindowMS = v
	}
	if raw := c.Query("batch_size"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid batch_size"))
			return
		}
		params.BatchSize = v
	}

	var err error
	if params.FromTime, err = parseTimeParam(c, "from_time"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if params.ToTime, err = parseTimeParam(c, "to_time"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	includeDetails := c.DefaultQuery("include_details", "true") != "false"

	cacheKey := cache.Key(h.kpiCache.Prefix()+":close-calls", map[string]any{
		"distance_threshold": params.DistanceThreshold,
		"time_window_ms":     params.TimeWindowMS,
		"from_time":          timeParamValue(params.FromTime),
		"to_time":            timeParamValue(params.ToTime),
		"zone":               stringParamValue(params.Zone),
		"vehicle_class":      stringParamValue(string(params.VehicleClass)),
		"include_details":    includeDetails,
	})
	var cached kpi.Result
	if h.kpiCache.Get(c.Request.Context(), cacheKey, &cached) {
		c.JSON(http.StatusOK, successResponse(&cached))
		return
	}

	result, err := h.closeCallService.Compute(c.Request.Context(), params)
	if err != nil {
		h.handleError(c, err, "failed to compute close-call KPIs")
		return
	}
	if !includeDetails {
		result.CloseCalls = []safety.CloseCall{}
	}

	h.kpiCache.Set(c.Request.Context(), cacheKey, result, "")
	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) safetyKPIs(c *gin.Context) {
	params, ok := h.safetyParams(c)
	if !ok {
		return
	}

	result, err := h.safetyService.Compute(c.Request.Context(), params)
	if err != nil {
		h.handleError(c, err, "failed to compute safety KPIs")
		return
	}
	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) overspeedEvents(c *gin.Context) {
	params, ok := h.safetyParams(c)
	if !ok {
		return
	}

	events, err := h.safetyService.OverspeedEvents(c.Request.Context(), params)
	if err != nil {
		h.handleError(c, err, "failed to compute overspeed events")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":            events,
		"total_count":     len(events),
		"speed_threshold": params.SpeedThreshold,
	})
}

func (h *Handler) vestViolations(c *gin.Context) {
	params, ok := h.safetyParams(c)
	if !ok {
		return
	}

	violations, total, err := h.safetyService.VestViolations(c.Request.Context(), params)
	if err != nil {
		h.handleError(c, err, "failed to compute vest violations")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":                   violations,
		"total_count":            len(violations),
		"total_human_detections": total,
	})
}

func (h *Handler) aggregate(c *gin.Context) {
	params := service.AggregateParams{
		TimeBucket: strings.TrimSpace(c.Query("time_bucket")),
		Metric:     strings.TrimSpace(c.Query("metric")),
	}
	if raw := strings.TrimSpace(c.Query("group_by")); raw != "" {
		params.GroupBy = strings.Split(raw, ",")
	}

	filter, ok := h.detectionFilter(c)
	if !ok {
		return
	}
	params.Filter = filter

	cacheKey := aggregateCacheKey(h.kpiCache.Prefix(), params)
	var cached service.AggregateResult
	if h.kpiCache.Get(c.Request.Context(), cacheKey, &cached) {
		c.JSON(http.StatusOK, successResponse(&cached))
		return
	}

	result, err := h.aggregationService.Aggregate(c.Request.Context(), params)
	if err != nil {
		h.handleError(c, err, "failed to aggregate detections")
		return
	}

	h.kpiCache.Set(c.Request.Context(), cacheKey, result, result.Metadata.TimeBucketUsed)
	c.JSON(http.StatusOK, successResponse(result))
}

// aggregateCacheKey derives the cache key from every parameter that shapes
// the aggregation output.
func aggregateCacheKey(prefix string, params service.AggregateParams) string {
	f := params.Filter
	return cache.Key(prefix+":aggregate", map[string]any{
		"group_by":     stringParamValue(strings.Join(params.GroupBy, ",")),
		"time_bucket":  stringParamValue(params.TimeBucket),
		"metric":       stringParamValue(params.Metric),
		"object_class": classParamValue(f.ObjectClasses),
		"from_time":    timeParamValue(f.FromTime),
		"to_time":      timeParamValue(f.ToTime),
		"zone":         stringParamValue(f.Zone),
		"vest":         boolParamValue(f.Vest),
		"min_speed":    floatParamValue(f.MinSpeed),
		"max_speed":    floatParamValue(f.MaxSpeed),
		"min_x":        floatParamValue(f.MinX),
		"max_x":        floatParamValue(f.MaxX),
		"min_y":        floatParamValue(f.MinY),
		"max_y":        floatParamValue(f.MaxY),
	})
}

func (h *Handler) listDetections(c *gin.Context) {
	filter, ok := h.detectionFilter(c)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	detections, err := h.repo.FindDetections(c.Request.Context(), filter, limit, offset)
	if err != nil {
		h.handleError(c, err, "failed to list detections")
		return
	}
	c.JSON(http.StatusOK, successResponse(detections))
}

func (h *Handler) detectionStats(c *gin.Context) {
	filter, ok := h.detectionFilter(c)
	if !ok {
		return
	}

	stats, err := h.repo.DetectionStatistics(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err, "failed to compute detection statistics")
		return
	}
	c.JSON(http.StatusOK, successResponse(stats))
}

type detectionPayload struct {
	TrackingID  string         `json:"tracking_id" binding:"required"`
	ObjectClass string         `json:"object_class" binding:"required"`
	Timestamp   time.Time      `json:"timestamp"`
	X           float64        `json:"x"`
	Y           float64        `json:"y"`
	Heading     *float64       `json:"heading,omitempty"`
	Speed       *float64       `json:"speed,omitempty"`
	Vest        *bool          `json:"vest,omitempty"`
	Zone        string         `json:"zone,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

func (h *Handler) createDetection(c *gin.Context) {
	var payload detectionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	class := safety.ObjectClass(payload.ObjectClass)
	if !class.Valid() {
		c.JSON(http.StatusBadRequest, errorResponse("invalid object_class"))
		return
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}

	obs := safety.Observation{
		TrackingID:  payload.TrackingID,
		ObjectClass: class,
		Timestamp:   payload.Timestamp,
		X:           payload.X,
		Y:           payload.Y,
		Heading:     payload.Heading,
		Speed:       payload.Speed,
		Vest:        payload.Vest,
		Zone:        payload.Zone,
	}

	var attributes datatypes.JSON
	if len(payload.Attributes) > 0 {
		raw, err := json.Marshal(payload.Attributes)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid attributes"))
			return
		}
		attributes = datatypes.JSON(raw)
	}

	if err := h.repo.CreateDetection(c.Request.Context(), &obs, attributes); err != nil {
		h.handleError(c, err, "failed to create detection")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status": "ok",
		"id":     obs.ID,
	})
}

func (h *Handler) invalidateCache(c *gin.Context) {
	deleted, err := h.kpiCache.InvalidateAll(c.Request.Context())
	if err != nil {
		h.handleError(c, err, "failed to invalidate cache")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"keys_deleted": deleted,
	})
}

func (h *Handler) safetyParams(c *gin.Context) (service.SafetyParams, bool) {
	params := service.SafetyParams{
		Zone:           strings.TrimSpace(c.Query("zone")),
		SpeedThreshold: h.config.KPI.SpeedThreshold,
	}
	if raw := c.Query("speed_threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid speed_threshold"))
			return params, false
		}
		params.SpeedThreshold = v
	}
	params.IncludeHumansInSpeed = c.Query("include_humans") == "true"

	var err error
	if params.FromTime, err = parseTimeParam(c, "from_time"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return params, false
	}
	if params.ToTime, err = parseTimeParam(c, "to_time"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return params, false
	}
	return params, true
}

func (h *Handler) detectionFilter(c *gin.Context) (safety.DetectionFilter, bool) {
	filter := safety.DetectionFilter{
		Zone: strings.TrimSpace(c.Query("zone")),
	}

	if raw := strings.TrimSpace(c.Query("object_class")); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			class := safety.ObjectClass(strings.TrimSpace(name))
			if !class.Valid() {
				c.JSON(http.StatusBadRequest, errorResponse("invalid object_class"))
				return filter, false
			}
			filter.ObjectClasses = append(filter.ObjectClasses, class)
		}
	}
	if raw := c.Query("vest"); raw != "" {
		vest := raw == "true" || raw == "1"
		filter.Vest = &vest
	}
	for name, dest := range map[string]**float64{
		"min_speed": &filter.MinSpeed,
		"max_speed": &filter.MaxSpeed,
		"min_x":     &filter.MinX,
		"max_x":     &filter.MaxX,
		"min_y":     &filter.MinY,
		"max_y":     &filter.MaxY,
	} {
		if raw := c.Query(name); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, errorResponse("invalid "+name))
				return filter, false
			}
			*dest = &v
		}
	}

	var err error
	if filter.FromTime, err = parseTimeParam(c, "from_time"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return filter, false
	}
	if filter.ToTime, err = parseTimeParam(c, "to_time"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return filter, false
	}
	return filter, true
}

func (h *Handler) handleError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg(msg)
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func parseTimeParam(c *gin.Context, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	t, err := utils.ParseTimestamp(raw)
	if err != nil {
		return nil, errors.New("invalid " + name + " format")
	}
	return &t, nil
}

func timeParamValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func stringParamValue(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func floatParamValue(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolParamValue(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func classParamValue(classes []safety.ObjectClass) any {
	if len(classes) == 0 {
		return nil
	}
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = string(c)
	}
	return strings.Join(names, ",")
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
