package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCatchupQuerier implements CatchupQuerier directly against the
// events table, for installs that don't front Postgres with a
// separate query service.
type PostgresCatchupQuerier struct {
	pool *pgxpool.Pool
}

// NewPostgresCatchupQuerier creates a CatchupQuerier backed by pool.
func NewPostgresCatchupQuerier(pool *pgxpool.Pool) *PostgresCatchupQuerier {
	return &PostgresCatchupQuerier{pool: pool}
}

// GetCatchupEvents returns events for channel with id > sinceID,
// ordered by id ascending, capped at limit.
func (q *PostgresCatchupQuerier) GetCatchupEvents(ctx context.Context, channel string, sinceID int64, limit int) ([]CatchupEvent, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT id, payload FROM events WHERE channel = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		channel, sinceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("events: query catchup events: %w", err)
	}
	defer rows.Close()

	var result []CatchupEvent
	for rows.Next() {
		var id int64
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("events: scan catchup event: %w", err)
		}
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("events: unmarshal catchup event payload: %w", err)
		}
		result = append(result, CatchupEvent{ID: id, Payload: payload})
	}
	return result, rows.Err()
}
