package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/tenant-resource-scheduling/internal/config"
	"github.com/hackgods/tenant-resource-scheduling/internal/db"
	"github.com/hackgods/tenant-resource-scheduling/internal/logger"
)

const (
	organizations     = 3
	departmentsPerOrg = 4
	providersPerOrg   = 25
	roomsPerOrg       = 8
	equipmentPerOrg   = 6
	patientCount      = 3000
)

type status struct {
	code, label, group string
}

var statusCatalog = []status{
	{"scheduled", "Scheduled", "open"},
	{"confirmed", "Confirmed", "open"},
	{"checked_in", "Checked in", "in_progress"},
	{"completed", "Completed", "closed"},
	{"no_show", "No show", "closed"},
}

var departmentNames = []string{
	"Cardiology",
	"Dermatology",
	"General Practice",
	"Orthopedics",
	"Pediatrics",
	"Radiology",
	"Neurology",
}

var equipmentNames = []string{
	"Ultrasound",
	"ECG Monitor",
	"X-Ray Unit",
	"Infusion Pump",
	"Spirometer",
	"Defibrillator",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env, cfg.LogLevel, "seed")
	log.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	ctx = context.Background()
	if err := seedStatuses(ctx, pool, log); err != nil {
		log.Fatal().Err(err).Msg("seed statuses")
	}
	for i := 0; i < organizations; i++ {
		if err := seedOrganization(ctx, pool, log); err != nil {
			log.Fatal().Err(err).Msg("seed organization")
		}
	}
	if err := seedPatients(ctx, pool, log, patientCount); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	log.Info().Msg("seed complete")
}

func seedStatuses(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) error {
	for i, s := range statusCatalog {
		_, err := pool.Exec(ctx, `
			INSERT INTO appointment_statuses (id, code, label, business_status, sort_order)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (code) DO NOTHING
		`, uuid.New(), s.code, s.label, s.group, i)
		if err != nil {
			return fmt.Errorf("insert status %s: %w", s.code, err)
		}
	}
	log.Info().Int("count", len(statusCatalog)).Msg("status catalog seeded")
	return nil
}

// seedOrganization creates one tenant with its departments, providers and
// resources in a single transaction.
func seedOrganization(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) error {
	orgID := uuid.New()
	name := gofakeit.Company() + " Clinic"

	err := db.WithTx(ctx, pool, pgx.ReadCommitted, func(ctx context.Context) error {
		tx := db.TxFromContext(ctx)

		if _, err := tx.Exec(ctx, `
			INSERT INTO organizations (id, name) VALUES ($1, $2)
		`, orgID, name); err != nil {
			return fmt.Errorf("insert organization: %w", err)
		}

		for _, dept := range pick(departmentNames, departmentsPerOrg) {
			if _, err := tx.Exec(ctx, `
				INSERT INTO departments (id, organization_id, name) VALUES ($1, $2, $3)
			`, uuid.New(), orgID, dept); err != nil {
				return fmt.Errorf("insert department: %w", err)
			}
		}

		for i := 0; i < providersPerOrg; i++ {
			if _, err := tx.Exec(ctx, `
				INSERT INTO user_organizations (id, user_id, organization_id, role, display_name)
				VALUES ($1, $2, $3, 'provider', $4)
			`, uuid.New(), uuid.New(), orgID, "Dr. "+gofakeit.LastName()); err != nil {
				return fmt.Errorf("insert provider: %w", err)
			}
		}

		for i := 0; i < roomsPerOrg; i++ {
			if _, err := tx.Exec(ctx, `
				INSERT INTO rooms (id, organization_id, name) VALUES ($1, $2, $3)
			`, uuid.New(), orgID, fmt.Sprintf("Room %d%02d", gofakeit.Number(1, 4), i+1)); err != nil {
				return fmt.Errorf("insert room: %w", err)
			}
		}

		for i := 0; i < equipmentPerOrg; i++ {
			label := fmt.Sprintf("%s #%d", equipmentNames[i%len(equipmentNames)], i+1)
			if _, err := tx.Exec(ctx, `
				INSERT INTO equipment (id, organization_id, name) VALUES ($1, $2, $3)
			`, uuid.New(), orgID, label); err != nil {
				return fmt.Errorf("insert equipment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Str("organization_id", orgID.String()).Str("name", name).Msg("organization seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, count int) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			batch.Queue(`
				INSERT INTO patients (id, full_name, email) VALUES ($1, $2, $3)
			`, uuid.New(), gofakeit.Name(), gofakeit.Email())
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert patients: %w", err)
		}

		log.Info().Int("seeded", end).Int("total", count).Msg("patients seeded")
	}
	return nil
}

func pick(from []string, n int) []string {
	shuffled := append([]string(nil), from...)
	gofakeit.ShuffleStrings(shuffled)
	return shuffled[:min(n, len(shuffled))]
}
