// Package persistence defines the durable audit-store contracts. The
// engine is fully functional in memory; a repository is wired in only
// when a database URL is configured, consuming decisions off the
// request path through the async sink.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sawpanic/tradegate/internal/domain"
)

// AuditRow is the flattened decision record as stored. The indexed
// columns carry what replay queries filter on; Payload holds the full
// decision for byte-faithful reconstruction.
type AuditRow struct {
	ID               int64           `json:"id" db:"id"`
	Timestamp        time.Time       `json:"ts" db:"ts"`
	Symbol           string          `json:"symbol" db:"symbol"`
	Verdict          string          `json:"verdict" db:"verdict"`
	Confidence       *float64        `json:"confidence,omitempty" db:"confidence"`
	FailedGates      []string        `json:"failed_gates" db:"failed_gates"`
	ProcessingTimeMS float64         `json:"processing_time_ms" db:"processing_time_ms"`
	Payload          json.RawMessage `json:"payload" db:"payload"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// RowFromDecision flattens a decision into its storage row.
func RowFromDecision(d domain.Decision) (AuditRow, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return AuditRow{}, fmt.Errorf("marshal decision payload: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, d.Audit.Timestamp)
	if err != nil {
		return AuditRow{}, fmt.Errorf("parse audit timestamp: %w", err)
	}

	failed := d.Gates.Failed
	if failed == nil {
		failed = []string{}
	}

	return AuditRow{
		Timestamp:        ts,
		Symbol:           d.Audit.Symbol,
		Verdict:          string(d.Decision),
		Confidence:       d.Confidence,
		FailedGates:      failed,
		ProcessingTimeMS: d.Audit.ProcessingTimeMS,
		Payload:          payload,
	}, nil
}

// AuditRepo stores and serves decision audit rows.
type AuditRepo interface {
	// EnsureSchema creates the audit table and indexes if absent.
	EnsureSchema(ctx context.Context) error

	// Insert appends one audit row.
	Insert(ctx context.Context, row AuditRow) error

	// ListRecent returns the newest rows, most recent first.
	ListRecent(ctx context.Context, limit int) ([]AuditRow, error)

	// ListBySymbol returns the newest rows for one symbol.
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]AuditRow, error)

	// CountByVerdict tallies rows per verdict since the given time.
	CountByVerdict(ctx context.Context, since time.Time) (map[string]int64, error)

	// PurgeBefore deletes rows older than cutoff, returning how many.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error
}
