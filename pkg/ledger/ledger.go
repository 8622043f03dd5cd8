// Package ledger implements the append-only run ledger (spec §3, §8 P1):
// every task completion, gate decision, artifact registration, cost charge,
// and signature is recorded as one immutable, per-run sequence-numbered
// entry. Nothing is ever updated or deleted once appended.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/pipeforge/runcore/pkg/models"
	"github.com/pipeforge/runcore/pkg/orcherr"
)

// Ledger persists and queries a run's append-only timeline.
type Ledger struct {
	pool *pgxpool.Pool
}

// New creates a Ledger backed by pool.
func New(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Append assigns the entry the next sequence number for its run and
// persists it within a single transaction, guarded by a Postgres advisory
// lock keyed on run_id so concurrent appenders for the same run never
// race on the max(sequence)+1 read.
func (l *Ledger) Append(ctx context.Context, entry models.LedgerEntry) (*models.LedgerEntry, error) {
	if entry.RunID == "" {
		return nil, &orcherr.FatalError{Op: "ledger.Append", Err: fmt.Errorf("run_id is required")}
	}
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Provenance.When.IsZero() {
		entry.Provenance.When = entry.Timestamp
	}

	data, err := json.Marshal(entry.Data)
	if err != nil {
		return nil, fmt.Errorf("ledger.Append: marshal data: %w", err)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger.Append: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey(entry.RunID)); err != nil {
		return nil, fmt.Errorf("ledger.Append: acquire lock: %w", err)
	}

	var next int64
	err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM ledger_entries WHERE run_id = $1`, entry.RunID).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("ledger.Append: compute sequence: %w", err)
	}
	entry.Sequence = next

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries
			(ledger_entry_id, run_id, sequence, type, data, provenance_who, provenance_when, provenance_tool_version, provenance_inputs, "timestamp")
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.RunID, entry.Sequence, string(entry.Type), data,
		entry.Provenance.Who, entry.Provenance.When, nullableString(entry.Provenance.ToolVersion), entry.Provenance.Inputs,
		entry.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger.Append: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ledger.Append: commit: %w", err)
	}

	return &entry, nil
}

// Query returns entries matching q, ordered by sequence ascending.
func (l *Ledger) Query(ctx context.Context, q models.LedgerQuery) ([]*models.LedgerEntry, error) {
	sql := `SELECT ledger_entry_id, run_id, sequence, type, data, provenance_who, provenance_when, provenance_tool_version, provenance_inputs, "timestamp"
		FROM ledger_entries WHERE run_id = $1`
	args := []any{q.RunID}

	if q.Type != "" {
		args = append(args, string(q.Type))
		sql += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		sql += fmt.Sprintf(` AND "timestamp" >= $%d`, len(args))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		sql += fmt.Sprintf(` AND "timestamp" <= $%d`, len(args))
	}
	sql += " ORDER BY sequence ASC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger.Query: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Timeline returns the complete, ordered ledger for a run.
func (l *Ledger) Timeline(ctx context.Context, runID string) ([]*models.LedgerEntry, error) {
	return l.Query(ctx, models.LedgerQuery{RunID: runID})
}

// CostSummary aggregates every "cost" entry recorded for runID. Cost
// entries carry cost_usd/tokens/tool_minutes in their Data payload.
func (l *Ledger) CostSummary(ctx context.Context, runID string) (*models.CostSummary, error) {
	entries, err := l.Query(ctx, models.LedgerQuery{RunID: runID, Type: models.LedgerEntryCost})
	if err != nil {
		return nil, fmt.Errorf("ledger.CostSummary: %w", err)
	}

	summary := &models.CostSummary{RunID: runID}
	for _, e := range entries {
		summary.TotalCostUSD += asFloat(e.Data["cost_usd"])
		summary.TotalTokens += int(asFloat(e.Data["tokens"]))
		summary.TotalToolMins += int(asFloat(e.Data["tool_minutes"]))
		summary.EntriesCounted++
	}
	return summary, nil
}

func scanEntries(rows pgx.Rows) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var data []byte
		var typ string
		var toolVersion *string

		if err := rows.Scan(&e.ID, &e.RunID, &e.Sequence, &typ, &data,
			&e.Provenance.Who, &e.Provenance.When, &toolVersion, &e.Provenance.Inputs, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Type = models.LedgerEntryType(typ)
		if toolVersion != nil {
			e.Provenance.ToolVersion = *toolVersion
		}
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("unmarshal ledger entry data: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func lockKey(runID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(runID))
	return int64(h.Sum64())
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
