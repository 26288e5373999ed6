package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/tenant-resource-scheduling/internal/config"
	"github.com/hackgods/tenant-resource-scheduling/internal/db"
	"github.com/hackgods/tenant-resource-scheduling/internal/logger"
)

type simConfig struct {
	apiBaseURL string
	duration   time.Duration
	workers    int
	providers  int
	patients   int
	slots      int
	slotLength time.Duration
}

// dataPool holds the directory rows one organization's bookings draw from.
type dataPool struct {
	orgID     uuid.UUID
	statusID  uuid.UUID
	providers []uuid.UUID
	patients  []uuid.UUID
	day       time.Time
}

type metrics struct {
	total     atomic.Int64
	created   atomic.Int64
	conflicts atomic.Int64
	retryable atomic.Int64
	errors    atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *metrics) record(latency time.Duration, status int, retryable bool) {
	m.total.Add(1)
	switch {
	case status == http.StatusCreated:
		m.created.Add(1)
	case status == http.StatusConflict && retryable:
		m.retryable.Add(1)
	case status == http.StatusConflict:
		m.conflicts.Add(1)
	default:
		m.errors.Add(1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *metrics) percentile(p int) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), m.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := min(len(sorted)*p/100, len(sorted)-1)
	return sorted[idx]
}

type simulator struct {
	cfg     simConfig
	pool    *dataPool
	client  *http.Client
	log     zerolog.Logger
	metrics metrics
}

func main() {
	var sc simConfig

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Fire concurrent overlapping bookings and verify no double booking",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), sc)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&sc.apiBaseURL, "api", "http://localhost:8080", "API base URL")
	flags.DurationVar(&sc.duration, "duration", 30*time.Second, "how long to run")
	flags.IntVar(&sc.workers, "workers", 16, "concurrent clients")
	flags.IntVar(&sc.providers, "providers", 5, "providers to contend over")
	flags.IntVar(&sc.patients, "patients", 50, "patients to book for")
	flags.IntVar(&sc.slots, "slots", 16, "distinct start times per provider")
	flags.DurationVar(&sc.slotLength, "slot-length", 30*time.Minute, "booking length; starts are 15 minutes apart so neighbours overlap")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, sc simConfig) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	log := logger.New(cfg.Env, cfg.LogLevel, "simulate")

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
	cancel()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()

	pool, err := loadDataPool(ctx, pgPool, sc)
	if err != nil {
		return err
	}
	log.Info().
		Str("organization_id", pool.orgID.String()).
		Int("providers", len(pool.providers)).
		Int("patients", len(pool.patients)).
		Time("day", pool.day).
		Msg("data pool loaded")

	sim := &simulator{
		cfg:    sc,
		pool:   pool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
	sim.run(ctx)
	sim.report()

	overlaps, err := countOverlaps(ctx, pgPool, pool.orgID)
	if err != nil {
		return err
	}
	if overlaps > 0 {
		log.Error().Int64("overlapping_pairs", overlaps).Msg("double booking detected")
		return fmt.Errorf("found %d overlapping appointment pairs", overlaps)
	}
	log.Info().Msg("no overlapping appointments found")
	return nil
}

func loadDataPool(ctx context.Context, pgPool *pgxpool.Pool, sc simConfig) (*dataPool, error) {
	p := &dataPool{}

	if err := pgPool.QueryRow(ctx, `
		SELECT id FROM organizations WHERE deleted_at IS NULL ORDER BY random() LIMIT 1
	`).Scan(&p.orgID); err != nil {
		return nil, fmt.Errorf("load organization: %w", err)
	}
	if err := pgPool.QueryRow(ctx, `
		SELECT id FROM appointment_statuses ORDER BY sort_order LIMIT 1
	`).Scan(&p.statusID); err != nil {
		return nil, fmt.Errorf("load status: %w", err)
	}

	var err error
	p.providers, err = loadIDs(ctx, pgPool, `
		SELECT id FROM user_organizations
		WHERE organization_id = $1 AND role = 'provider' AND deleted_at IS NULL
		LIMIT $2
	`, p.orgID, sc.providers)
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	p.patients, err = loadIDs(ctx, pgPool, `
		SELECT id FROM patients WHERE deleted_at IS NULL ORDER BY random() LIMIT $1
	`, sc.patients)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	if len(p.providers) == 0 || len(p.patients) == 0 {
		return nil, fmt.Errorf("directory is empty, run the seed command first")
	}

	// A random future day keeps repeated runs from colliding with each other.
	p.day = time.Now().UTC().Truncate(24*time.Hour).
		AddDate(0, 0, gofakeit.Number(30, 3000)).
		Add(8 * time.Hour)
	return p, nil
}

func loadIDs(ctx context.Context, pgPool *pgxpool.Pool, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := pgPool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *simulator) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.duration)
	defer cancel()

	s.log.Info().Dur("duration", s.cfg.duration).Int("workers", s.cfg.workers).Msg("simulation starting")

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			for ctx.Err() == nil {
				s.book(ctx, rng)
			}
		}(i)
	}
	wg.Wait()

	s.log.Info().Msg("simulation complete")
}

func (s *simulator) book(ctx context.Context, rng *rand.Rand) {
	start := s.pool.day.Add(time.Duration(rng.Intn(s.cfg.slots)) * 15 * time.Minute)
	body, err := json.Marshal(map[string]string{
		"organization_id":  s.pool.orgID.String(),
		"provider_id":      s.pool.providers[rng.Intn(len(s.pool.providers))].String(),
		"patient_id":       s.pool.patients[rng.Intn(len(s.pool.patients))].String(),
		"status_id":        s.pool.statusID.String(),
		"appointment_type": "consultation",
		"start_time":       start.Format(time.RFC3339),
		"end_time":         start.Add(s.cfg.slotLength).Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.apiBaseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	began := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(began)
	if err != nil {
		if ctx.Err() == nil {
			s.metrics.record(latency, 0, false)
		}
		return
	}
	defer resp.Body.Close()

	var payload struct {
		Retryable bool `json:"retryable"`
	}
	if resp.StatusCode == http.StatusConflict {
		_ = json.NewDecoder(resp.Body).Decode(&payload)
	}
	s.metrics.record(latency, resp.StatusCode, payload.Retryable)
}

func (s *simulator) report() {
	m := &s.metrics
	s.log.Info().
		Int64("total", m.total.Load()).
		Int64("created", m.created.Load()).
		Int64("conflicts", m.conflicts.Load()).
		Int64("retryable", m.retryable.Load()).
		Int64("errors", m.errors.Load()).
		Dur("p50", m.percentile(50)).
		Dur("p95", m.percentile(95)).
		Dur("p99", m.percentile(99)).
		Msg("booking results")
}

// countOverlaps returns the number of active appointment pairs in the
// organization that share a provider or a patient and overlap in time.
func countOverlaps(ctx context.Context, pgPool *pgxpool.Pool, orgID uuid.UUID) (int64, error) {
	var n int64
	err := pgPool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.organization_id = b.organization_id
		 AND a.id < b.id
		 AND (a.provider_id = b.provider_id OR a.patient_id = b.patient_id)
		 AND a.start_time < b.end_time
		 AND b.start_time < a.end_time
		WHERE a.organization_id = $1
		  AND a.deleted_at IS NULL
		  AND b.deleted_at IS NULL
	`, orgID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count overlaps: %w", err)
	}
	return n, nil
}
