package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS detections (
		id              BIGSERIAL PRIMARY KEY,
		tracking_id     TEXT NOT NULL,
		object_class    TEXT NOT NULL,
		timestamp       TIMESTAMPTZ NOT NULL,
		x               DOUBLE PRECISION NOT NULL,
		y               DOUBLE PRECISION NOT NULL,
		heading         DOUBLE PRECISION,
		speed           DOUBLE PRECISION,
		vest            BOOLEAN,
		zone            TEXT,
		attributes      JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_detections_tracking_id ON detections(tracking_id);`,
	`CREATE INDEX IF NOT EXISTS idx_detections_class_time ON detections(object_class, timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_detections_zone_time ON detections(zone, timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_detections_vest_time ON detections(vest, timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_detections_time_class ON detections(timestamp, object_class);`,
}

// RunMigrations applies the detection store schema. Statements are idempotent
// so repeated startups are safe.
func RunMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
