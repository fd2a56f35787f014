package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-delivery-console/internal/orders"
)

const schema = `
CREATE TABLE IF NOT EXISTS stock_movements (
	event_id    UUID PRIMARY KEY,
	order_id    TEXT NOT NULL,
	kind        TEXT NOT NULL,
	mode        TEXT NOT NULL,
	producer    TEXT NOT NULL,
	lines       JSONB NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS stock_movements_order_idx ON stock_movements (order_id);

CREATE TABLE IF NOT EXISTS order_status_log (
	event_id    UUID PRIMARY KEY,
	order_id    TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	producer    TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS order_status_log_order_idx ON order_status_log (order_id, occurred_at);
`

// Movement is one applied stock adjustment.
type Movement struct {
	EventID    string
	OrderID    string
	Kind       string
	Mode       string
	Producer   string
	Lines      []orders.StockLine
	OccurredAt time.Time
}

// StatusChange is one applied order transition.
type StatusChange struct {
	EventID    string
	OrderID    string
	From       string
	To         string
	Producer   string
	OccurredAt time.Time
}

// Repo persists the journal. Every insert is keyed on the event id, so
// redelivered envelopes are no-ops.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Migrate(ctx context.Context) error {
	if _, err := r.DB.Exec(ctx, schema); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// RecordMovement inserts m and returns the order's net deduction count
// (deductions minus restorations) as seen after the insert.
func (r *Repo) RecordMovement(ctx context.Context, m Movement) (inserted bool, net int, err error) {
	lines, err := json.Marshal(m.Lines)
	if err != nil {
		return false, 0, fmt.Errorf("journal: encode lines: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		INSERT INTO stock_movements(event_id, order_id, kind, mode, producer, lines, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (event_id) DO NOTHING
	`, m.EventID, m.OrderID, m.Kind, m.Mode, m.Producer, lines, m.OccurredAt)
	if err != nil {
		return false, 0, fmt.Errorf("journal: insert movement: %w", err)
	}

	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE kind WHEN $2 THEN 1 WHEN $3 THEN -1 ELSE 0 END), 0)
		FROM stock_movements WHERE order_id = $1
	`, m.OrderID, orders.AdjustDeduct, orders.AdjustRestore).Scan(&net); err != nil {
		return false, 0, fmt.Errorf("journal: net deductions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, 0, err
	}
	return ct.RowsAffected() == 1, net, nil
}

func (r *Repo) RecordStatusChange(ctx context.Context, c StatusChange) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO order_status_log(event_id, order_id, from_status, to_status, producer, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (event_id) DO NOTHING
	`, c.EventID, c.OrderID, c.From, c.To, c.Producer, c.OccurredAt)
	if err != nil {
		return false, fmt.Errorf("journal: insert status change: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}
