package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"safety-kpi-service/internal/db"
	"safety-kpi-service/internal/domain/safety"
	"safety-kpi-service/internal/importer"
	"safety-kpi-service/internal/repository"
)

var (
	dsn       string
	batchSize int
)

func main() {
	root := &cobra.Command{
		Use:   "safetyctl",
		Short: "Operational tooling for the safety KPI service",
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("SAFETY_KPI_DATABASE_DSN"), "postgres connection string")
	root.PersistentFlags().IntVar(&batchSize, "batch-size", importer.DefaultBatchSize, "insert batch size")

	root.AddCommand(newImportCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newPurgeCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func openRepository() (*repository.DetectionRepository, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required (--dsn or SAFETY_KPI_DATABASE_DSN)")
	}
	gdb, err := db.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return repository.NewDetectionRepository(gdb), nil
}

func newImportCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Bulk import detections from a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			repo, err := openRepository()
			if err != nil {
				return err
			}

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", file, err)
			}
			defer f.Close()

			im := importer.NewCSVImporter(repo, batchSize, log)
			summary, err := im.Import(cmd.Context(), f)
			if err != nil {
				return err
			}

			log.Info().
				Int64("imported", summary.Imported).
				Int("skipped", summary.Skipped).
				Msg("import complete")
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the CSV file")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newSeedCmd() *cobra.Command {
	var (
		encounters int
		zone       string
		seed       int64
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the database with synthetic human/vehicle encounters",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			repo, err := openRepository()
			if err != nil {
				return err
			}

			obs := generateEncounters(encounters, zone, seed)
			inserted, err := repo.BulkInsertDetections(cmd.Context(), obs, batchSize)
			if err != nil {
				return fmt.Errorf("failed to insert detections: %w", err)
			}

			log.Info().
				Int("encounters", encounters).
				Int64("detections", inserted).
				Msg("seed complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&encounters, "encounters", 50, "number of encounters to generate")
	cmd.Flags().StringVar(&zone, "zone", "loading-dock", "zone id to tag detections with")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	return cmd
}

func newPurgeCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete detections older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			repo, err := openRepository()
			if err != nil {
				return err
			}

			deleted, err := repo.DeleteOldDetections(cmd.Context(), days)
			if err != nil {
				return fmt.Errorf("failed to purge detections: %w", err)
			}

			log.Info().
				Int("retention_days", days).
				Int64("deleted", deleted).
				Msg("purge complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "delete detections older than this many days")
	return cmd
}

// generateEncounters produces pairs of human and forklift tracks that pass
// close to each other within the default time window, so a freshly seeded
// database yields non-empty close-call KPIs.
func generateEncounters(n int, zone string, seed int64) []safety.Observation {
	rng := rand.New(rand.NewSource(seed))
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	obs := make([]safety.Observation, 0, n*6)
	for i := 0; i < n; i++ {
		humanID := "human-" + uuid.NewString()[:8]
		vehicleID := "forklift-" + uuid.NewString()[:8]
		at := base.Add(time.Duration(i) * time.Minute)

		x := rng.Float64() * 50
		y := rng.Float64() * 50
		vest := rng.Float64() > 0.2

		// Human walks through the point; vehicle crosses it moments later.
		for step := 0; step < 3; step++ {
			speed := 1.0 + rng.Float64()
			obs = append(obs, safety.Observation{
				TrackingID:  humanID,
				ObjectClass: safety.ClassHuman,
				Timestamp:   at.Add(time.Duration(step) * time.Second),
				X:           x + float64(step)*0.5,
				Y:           y,
				Speed:       &speed,
				Vest:        &vest,
				Zone:        zone,
			})
		}
		for step := 0; step < 3; step++ {
			speed := 2.0 + rng.Float64()*3
			heading := rng.Float64() * 360
			obs = append(obs, safety.Observation{
				TrackingID:  vehicleID,
				ObjectClass: safety.ClassVehicle,
				Timestamp:   at.Add(100*time.Millisecond + time.Duration(step)*time.Second),
				X:           x + rng.Float64()*1.2,
				Y:           y + rng.Float64()*1.2,
				Heading:     &heading,
				Speed:       &speed,
				Zone:        zone,
			})
		}
	}
	return obs
}
