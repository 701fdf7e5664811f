package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"safety-kpi-service/internal/domain/safety"
)

// DetectionRepository is the trajectory store: it owns all query construction
// over persisted detections and hands time-ordered observation rows to the
// service layer.
type DetectionRepository struct {
	db *gorm.DB
}

func NewDetectionRepository(db *gorm.DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// Detection is the persistence shape of one observation row.
type Detection struct {
	ID          int64     `gorm:"primaryKey"`
	TrackingID  string    `gorm:"not null"`
	ObjectClass string    `gorm:"not null"`
	Timestamp   time.Time `gorm:"not null"`
	X           float64   `gorm:"not null"`
	Y           float64   `gorm:"not null"`
	Heading     *float64
	Speed       *float64
	Vest        *bool
	Zone        *string
	Attributes  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time
}

func (r *DetectionRepository) applyFilter(ctx context.Context, f safety.DetectionFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&Detection{})

	if len(f.ObjectClasses) > 0 {
		query = query.Where("object_class IN ?", f.ObjectClasses)
	}
	if f.FromTime != nil {
		query = query.Where("timestamp >= ?", *f.FromTime)
	}
	if f.ToTime != nil {
		query = query.Where("timestamp <= ?", *f.ToTime)
	}
	if f.Zone != "" {
		query = query.Where("zone = ?", f.Zone)
	}
	if f.Vest != nil {
		query = query.Where("vest = ?", *f.Vest)
	}
	if f.MinSpeed != nil {
		query = query.Where("speed >= ?", *f.MinSpeed)
	}
	if f.MaxSpeed != nil {
		query = query.Where("speed <= ?", *f.MaxSpeed)
	}
	if f.MinX != nil {
		query = query.Where("x >= ?", *f.MinX)
	}
	if f.MaxX != nil {
		query = query.Where("x <= ?", *f.MaxX)
	}
	if f.MinY != nil {
		query = query.Where("y >= ?", *f.MinY)
	}
	if f.MaxY != nil {
		query = query.Where("y <= ?", *f.MaxY)
	}
	return query
}

// HumanDetections returns human observations matching f, timestamp ascending.
func (r *DetectionRepository) HumanDetections(ctx context.Context, f safety.DetectionFilter) ([]safety.Observation, error) {
	f.ObjectClasses = []safety.ObjectClass{safety.ClassHuman}
	return r.findOrdered(ctx, f)
}

// VehicleDetectionsInRange returns vehicle-class observations inside
// [minTime, maxTime], timestamp ascending. An empty vehicleClass widens the
// query to every vehicle class.
func (r *DetectionRepository) VehicleDetectionsInRange(ctx context.Context, minTime, maxTime time.Time, zone string, vehicleClass safety.ObjectClass) ([]safety.Observation, error) {
	classes := safety.VehicleClasses()
	if vehicleClass != "" {
		classes = []safety.ObjectClass{vehicleClass}
	}
	f := safety.DetectionFilter{
		ObjectClasses: classes,
		FromTime:      &minTime,
		ToTime:        &maxTime,
		Zone:          zone,
	}
	return r.findOrdered(ctx, f)
}

// DetectionsByClass returns observations matching f, timestamp ascending.
func (r *DetectionRepository) DetectionsByClass(ctx context.Context, f safety.DetectionFilter) ([]safety.Observation, error) {
	return r.findOrdered(ctx, f)
}

// TrajectoryPoints returns observations matching f ordered by tracking id
// then timestamp, the layout the bulk speed estimator expects.
func (r *DetectionRepository) TrajectoryPoints(ctx context.Context, f safety.DetectionFilter) ([]safety.Observation, error) {
	var rows []Detection
	err := r.applyFilter(ctx, f).
		Order("tracking_id ASC, timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toObservations(rows), nil
}

// FindDetections lists observations matching f with pagination, newest first.
func (r *DetectionRepository) FindDetections(ctx context.Context, f safety.DetectionFilter, limit, offset int) ([]safety.Observation, error) {
	query := r.applyFilter(ctx, f).Order("timestamp DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []Detection
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toObservations(rows), nil
}

// CountDetections counts observations matching f.
func (r *DetectionRepository) CountDetections(ctx context.Context, f safety.DetectionFilter) (int64, error) {
	var count int64
	err := r.applyFilter(ctx, f).Count(&count).Error
	return count, err
}

// CreateDetection persists one observation and fills in its id.
func (r *DetectionRepository) CreateDetection(ctx context.Context, obs *safety.Observation, attributes datatypes.JSON) error {
	row := toDetection(*obs)
	row.Attributes = attributes
	row.CreatedAt = time.Now()

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	obs.ID = row.ID
	return nil
}

// BulkInsertDetections inserts observations in batches, skipping conflicting
// rows, and returns how many were handed to the store.
func (r *DetectionRepository) BulkInsertDetections(ctx context.Context, obs []safety.Observation, batchSize int) (int64, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 1000
	}

	rows := make([]Detection, len(obs))
	now := time.Now()
	for i, o := range obs {
		rows[i] = toDetection(o)
		rows[i].CreatedAt = now
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, batchSize)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// DetectionStats summarizes the stored rows matching a filter.
type DetectionStats struct {
	TotalCount        int64            `json:"total_count"`
	CountByClass      map[string]int64 `json:"count_by_class"`
	UniqueTrackingIDs int64            `json:"unique_tracking_ids"`
	FirstTimestamp    *time.Time       `json:"first_timestamp,omitempty"`
	LastTimestamp     *time.Time       `json:"last_timestamp,omitempty"`
}

// DetectionStatistics computes store-level summary stats for f.
func (r *DetectionRepository) DetectionStatistics(ctx context.Context, f safety.DetectionFilter) (*DetectionStats, error) {
	stats := &DetectionStats{CountByClass: map[string]int64{}}

	var perClass []struct {
		ObjectClass string
		Count       int64
	}
	err := r.applyFilter(ctx, f).
		Select("object_class, COUNT(*) AS count").
		Group("object_class").
		Scan(&perClass).Error
	if err != nil {
		return nil, err
	}
	for _, row := range perClass {
		stats.CountByClass[row.ObjectClass] = row.Count
		stats.TotalCount += row.Count
	}
	if stats.TotalCount == 0 {
		return stats, nil
	}

	err = r.applyFilter(ctx, f).
		Distinct("tracking_id").
		Count(&stats.UniqueTrackingIDs).Error
	if err != nil {
		return nil, err
	}

	var span struct {
		First *time.Time
		Last  *time.Time
	}
	err = r.applyFilter(ctx, f).
		Select("MIN(timestamp) AS first, MAX(timestamp) AS last").
		Scan(&span).Error
	if err != nil {
		return nil, err
	}
	stats.FirstTimestamp = span.First
	stats.LastTimestamp = span.Last
	return stats, nil
}

// DeleteOldDetections removes detections older than the given number of days.
func (r *DetectionRepository) DeleteOldDetections(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := r.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&Detection{})
	return res.RowsAffected, res.Error
}

func (r *DetectionRepository) findOrdered(ctx context.Context, f safety.DetectionFilter) ([]safety.Observation, error) {
	var rows []Detection
	err := r.applyFilter(ctx, f).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toObservations(rows), nil
}

func toDetection(o safety.Observation) Detection {
	row := Detection{
		ID:          o.ID,
		TrackingID:  o.TrackingID,
		ObjectClass: string(o.ObjectClass),
		Timestamp:   o.Timestamp,
		X:           o.X,
		Y:           o.Y,
		Heading:     o.Heading,
		Speed:       o.Speed,
		Vest:        o.Vest,
	}
	if o.Zone != "" {
		zone := o.Zone
		row.Zone = &zone
	}
	return row
}

func toObservations(rows []Detection) []safety.Observation {
	obs := make([]safety.Observation, 0, len(rows))
	for _, row := range rows {
		o := safety.Observation{
			ID:          row.ID,
			TrackingID:  row.TrackingID,
			ObjectClass: safety.ObjectClass(row.ObjectClass),
			Timestamp:   row.Timestamp,
			X:           row.X,
			Y:           row.Y,
			Heading:     row.Heading,
			Speed:       row.Speed,
			Vest:        row.Vest,
		}
		if row.Zone != nil {
			o.Zone = *row.Zone
		}
		obs = append(obs, o)
	}
	return obs
}
