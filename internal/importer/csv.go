package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog"

	"safety-kpi-service/internal/domain/safety"
	"safety-kpi-service/internal/utils"
)

// DefaultBatchSize is how many rows are flushed to the store at once.
const DefaultBatchSize = 5000

// DetectionWriter is the store capability the importer needs.
type DetectionWriter interface {
	BulkInsertDetections(ctx context.Context, obs []safety.Observation, batchSize int) (int64, error)
}

// Summary reports what one import run did.
type Summary struct {
	Imported int64
	Skipped  int
}

// CSVImporter bulk-loads detection rows from the tracking feed's CSV export
// (columns: id, type, timestamp, x, y, heading, speed, area, vest). Bad rows
// are skipped and counted, never fatal.
type CSVImporter struct {
	writer    DetectionWriter
	batchSize int
	log       zerolog.Logger
}

func NewCSVImporter(writer DetectionWriter, batchSize int, log zerolog.Logger) *CSVImporter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &CSVImporter{
		writer:    writer,
		batchSize: batchSize,
		log:       log,
	}
}

// Import streams r into the store in batches.
func (im *CSVImporter) Import(ctx context.Context, r io.Reader) (*Summary, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	for _, required := range []string{"id", "type", "timestamp", "x", "y"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing required CSV column %q", required)
		}
	}

	summary := &Summary{}
	batch := make([]safety.Observation, 0, im.batchSize)
	rowNum := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			im.log.Warn().Err(err).Int("row", rowNum).Msg("failed to read CSV row")
			summary.Skipped++
			continue
		}

		obs, err := parseRow(record, cols)
		if err != nil {
			im.log.Warn().Err(err).Int("row", rowNum).Msg("skipping CSV row")
			summary.Skipped++
			continue
		}
		batch = append(batch, obs)

		if len(batch) >= im.batchSize {
			if err := im.flush(ctx, batch, summary); err != nil {
				return summary, err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := im.flush(ctx, batch, summary); err != nil {
			return summary, err
		}
	}

	im.log.Info().
		Int64("imported", summary.Imported).
		Int("skipped", summary.Skipped).
		Msg("CSV import complete")
	return summary, nil
}

func (im *CSVImporter) flush(ctx context.Context, batch []safety.Observation, summary *Summary) error {
	n, err := im.writer.BulkInsertDetections(ctx, batch, im.batchSize)
	if err != nil {
		return fmt.Errorf("bulk insert failed: %w", err)
	}
	summary.Imported += n
	return nil
}

func parseRow(record []string, cols map[string]int) (safety.Observation, error) {
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	class := safety.ObjectClass(field("type"))
	if !class.Valid() {
		return safety.Observation{}, fmt.Errorf("invalid object class %q", field("type"))
	}

	ts, err := utils.ParseTimestamp(field("timestamp"))
	if err != nil {
		return safety.Observation{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	x, err := strconv.ParseFloat(field("x"), 64)
	if err != nil {
		return safety.Observation{}, fmt.Errorf("invalid x: %w", err)
	}
	y, err := strconv.ParseFloat(field("y"), 64)
	if err != nil {
		return safety.Observation{}, fmt.Errorf("invalid y: %w", err)
	}

	obs := safety.Observation{
		TrackingID:  field("id"),
		ObjectClass: class,
		Timestamp:   ts,
		X:           x,
		Y:           y,
		Zone:        field("area"),
	}
	if obs.TrackingID == "" {
		return safety.Observation{}, fmt.Errorf("missing tracking id")
	}

	if raw := field("heading"); raw != "" {
		heading, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return safety.Observation{}, fmt.Errorf("invalid heading: %w", err)
		}
		obs.Heading = &heading
	}
	if raw := field("speed"); raw != "" {
		speed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return safety.Observation{}, fmt.Errorf("invalid speed: %w", err)
		}
		obs.Speed = &speed
	}
	// Vest is tri-state: "0"/"1" set it, anything else leaves it unknown.
	switch field("vest") {
	case "0":
		vest := false
		obs.Vest = &vest
	case "1":
		vest := true
		obs.Vest = &vest
	}

	return obs, nil
}
