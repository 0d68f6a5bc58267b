// Package postgres implements the audit repository on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/tradegate/internal/persistence"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS decision_audit (
	id                 BIGSERIAL PRIMARY KEY,
	ts                 TIMESTAMPTZ NOT NULL,
	symbol             TEXT NOT NULL,
	verdict            TEXT NOT NULL,
	confidence         DOUBLE PRECISION,
	failed_gates       JSONB NOT NULL DEFAULT '[]',
	processing_time_ms DOUBLE PRECISION NOT NULL,
	payload            JSONB NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_decision_audit_ts ON decision_audit (ts DESC);
CREATE INDEX IF NOT EXISTS idx_decision_audit_symbol_ts ON decision_audit (symbol, ts DESC);`

// auditRepo implements persistence.AuditRepo for PostgreSQL.
type auditRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAuditRepo creates a PostgreSQL audit repository.
func NewAuditRepo(db *sqlx.DB, timeout time.Duration) persistence.AuditRepo {
	return &auditRepo{db: db, timeout: timeout}
}

// EnsureSchema creates the audit table and indexes if absent.
func (r *auditRepo) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

// Insert appends one audit row.
func (r *auditRepo) Insert(ctx context.Context, row persistence.AuditRow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	failedJSON, err := json.Marshal(row.FailedGates)
	if err != nil {
		return fmt.Errorf("marshal failed gates: %w", err)
	}

	query := `
		INSERT INTO decision_audit (ts, symbol, verdict, confidence, failed_gates, processing_time_ms, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err = r.db.QueryRowxContext(ctx, query,
		row.Timestamp, row.Symbol, row.Verdict, row.Confidence,
		failedJSON, row.ProcessingTimeMS, []byte(row.Payload)).
		Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			return fmt.Errorf("insert audit row (pq %s): %w", pqErr.Code, err)
		}
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

// ListRecent returns the newest rows, most recent first.
func (r *auditRepo) ListRecent(ctx context.Context, limit int) ([]persistence.AuditRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, symbol, verdict, confidence, failed_gates, processing_time_ms, payload, created_at
		FROM decision_audit
		ORDER BY ts DESC
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent audit rows: %w", err)
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// ListBySymbol returns the newest rows for one symbol.
func (r *auditRepo) ListBySymbol(ctx context.Context, symbol string, limit int) ([]persistence.AuditRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, symbol, verdict, confidence, failed_gates, processing_time_ms, payload, created_at
		FROM decision_audit
		WHERE symbol = $1
		ORDER BY ts DESC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit rows by symbol: %w", err)
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// CountByVerdict tallies rows per verdict since the given time.
func (r *auditRepo) CountByVerdict(ctx context.Context, since time.Time) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT verdict, COUNT(*) AS count
		FROM decision_audit
		WHERE ts >= $1
		GROUP BY verdict`

	rows, err := r.db.QueryxContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("count audit rows by verdict: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var verdict string
		var count int64
		if err := rows.Scan(&verdict, &count); err != nil {
			return nil, fmt.Errorf("scan verdict count: %w", err)
		}
		counts[verdict] = count
	}
	return counts, rows.Err()
}

// PurgeBefore deletes rows older than cutoff, returning how many.
func (r *auditRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `DELETE FROM decision_audit WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit rows: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return purged, nil
}

// Ping verifies backend connectivity.
func (r *auditRepo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.db.PingContext(ctx)
}

// auditScan is the raw scan target; JSONB columns arrive as bytes.
type auditScan struct {
	ID               int64     `db:"id"`
	Timestamp        time.Time `db:"ts"`
	Symbol           string    `db:"symbol"`
	Verdict          string    `db:"verdict"`
	Confidence       *float64  `db:"confidence"`
	FailedGates      []byte    `db:"failed_gates"`
	ProcessingTimeMS float64   `db:"processing_time_ms"`
	Payload          []byte    `db:"payload"`
	CreatedAt        time.Time `db:"created_at"`
}

func scanAuditRows(rows *sqlx.Rows) ([]persistence.AuditRow, error) {
	var out []persistence.AuditRow
	for rows.Next() {
		var raw auditScan
		if err := rows.StructScan(&raw); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}

		row := persistence.AuditRow{
			ID:               raw.ID,
			Timestamp:        raw.Timestamp,
			Symbol:           raw.Symbol,
			Verdict:          raw.Verdict,
			Confidence:       raw.Confidence,
			FailedGates:      []string{},
			ProcessingTimeMS: raw.ProcessingTimeMS,
			Payload:          json.RawMessage(raw.Payload),
			CreatedAt:        raw.CreatedAt,
		}
		if len(raw.FailedGates) > 0 {
			if err := json.Unmarshal(raw.FailedGates, &row.FailedGates); err != nil {
				return nil, fmt.Errorf("decode failed gates: %w", err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
