package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/tenant-resource-scheduling/internal/db"
)

// PgOutbox stores events in audit_outbox until the relay delivers them.
type PgOutbox struct {
	pool *pgxpool.Pool
}

func NewPgOutbox(pool *pgxpool.Pool) *PgOutbox {
	return &PgOutbox{pool: pool}
}

func (o *PgOutbox) Append(ctx context.Context, ev Event) error {
	var payload []byte
	if len(ev.Context) > 0 {
		payload = []byte(ev.Context)
	}

	_, err := o.pool.Exec(ctx, `
		INSERT INTO audit_outbox (id, actor_id, action, target_type, target_id, context, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.ActorID, ev.Action, ev.TargetType, ev.TargetID, payload, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert audit outbox: %w", err)
	}
	return nil
}

// MaxDeliveryAttempts is how many failed publishes a row gets before the
// relay stops claiming it. Parked rows stay in the table for inspection.
const MaxDeliveryAttempts = 20

// Pending is an outbox row claimed for delivery.
type Pending struct {
	Event
	Attempts int
}

// Deliver claims up to limit undelivered events inside one transaction, hands
// each to send, and marks the ones send accepted. Rows with the fewest
// attempts go first so a failing event cannot hold the head of the queue.
// Rows are locked with SKIP LOCKED so several relays can run side by side.
func (o *PgOutbox) Deliver(ctx context.Context, limit int, send func(ctx context.Context, p Pending) error) (delivered, failed int, err error) {
	err = db.WithTx(ctx, o.pool, pgx.ReadCommitted, func(ctx context.Context) error {
		tx := db.TxFromContext(ctx)

		rows, err := tx.Query(ctx, `
			SELECT id, actor_id, action, target_type, target_id, context, occurred_at, attempts
			FROM audit_outbox
			WHERE delivered_at IS NULL AND attempts < $2
			ORDER BY attempts, created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit, MaxDeliveryAttempts)
		if err != nil {
			return fmt.Errorf("claim audit outbox: %w", err)
		}

		var batch []Pending
		for rows.Next() {
			var p Pending
			var payload []byte
			if err := rows.Scan(&p.ID, &p.ActorID, &p.Action, &p.TargetType, &p.TargetID, &payload, &p.OccurredAt, &p.Attempts); err != nil {
				rows.Close()
				return err
			}
			p.Context = payload
			batch = append(batch, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		var ok, bad []uuid.UUID
		for _, p := range batch {
			if sendErr := send(ctx, p); sendErr != nil {
				bad = append(bad, p.ID)
				continue
			}
			ok = append(ok, p.ID)
		}

		now := time.Now().UTC()
		if len(ok) > 0 {
			if _, err := tx.Exec(ctx, `
				UPDATE audit_outbox SET delivered_at = $2, attempts = attempts + 1
				WHERE id = ANY($1)
			`, ok, now); err != nil {
				return fmt.Errorf("mark audit delivered: %w", err)
			}
		}
		if len(bad) > 0 {
			if _, err := tx.Exec(ctx, `
				UPDATE audit_outbox SET attempts = attempts + 1
				WHERE id = ANY($1)
			`, bad); err != nil {
				return fmt.Errorf("mark audit attempt: %w", err)
			}
		}

		delivered, failed = len(ok), len(bad)
		return nil
	})
	return delivered, failed, err
}
