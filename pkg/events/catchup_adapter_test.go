package events

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pipeforge/runcore/pkg/database"
)

func newEventsTestPool(t *testing.T) *pgxpool.Pool {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("runcore_test"),
		postgres.WithUsername("runcore"),
		postgres.WithPassword("runcore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := database.NewClient(ctx, database.Config{
		Host: host, Port: port.Int(),
		User: "runcore", Password: "runcore", Database: "runcore_test", SSLMode: "disable",
		MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	_, err = client.Pool().Exec(ctx,
		`INSERT INTO runs (run_id, tenant_id, user_id, idea_spec_id, max_cost_usd, max_tokens, max_tool_minutes, max_wallclock_minutes)
		 VALUES ('run-1', 'tenant-1', 'user-1', 'idea-1', 100.0, 100000, 120, 240)`)
	require.NoError(t, err)

	return client.Pool()
}

func TestPostgresCatchupQuerier_ReturnsEventsAfterSinceID(t *testing.T) {
	pool := newEventsTestPool(t)
	ctx := context.Background()
	publisher := NewPublisher(pool)

	require.NoError(t, publisher.PublishPhaseStarted(ctx, PhaseStartedPayload{RunID: "run-1", Phase: "build"}))
	require.NoError(t, publisher.PublishPhaseReady(ctx, PhaseReadyPayload{RunID: "run-1", Phase: "build", Artifacts: []string{"art-1"}}))

	querier := NewPostgresCatchupQuerier(pool)
	events, err := querier.GetCatchupEvents(ctx, RunChannel("run-1"), 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventTypePhaseStarted, events[0].Payload["type"])
	assert.Equal(t, EventTypePhaseReady, events[1].Payload["type"])
	assert.Less(t, events[0].ID, events[1].ID)

	sinceFirst, err := querier.GetCatchupEvents(ctx, RunChannel("run-1"), events[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, sinceFirst, 1)
	assert.Equal(t, EventTypePhaseReady, sinceFirst[0].Payload["type"])
}

func TestPublisher_PersistAndNotify_StoresRowInEventsTable(t *testing.T) {
	pool := newEventsTestPool(t)
	ctx := context.Background()
	publisher := NewPublisher(pool)

	require.NoError(t, publisher.PublishRunPaused(ctx, "run-1", "budget threshold exceeded", ""))

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM events WHERE run_id = $1`, "run-1").Scan(&count))
	assert.Equal(t, 1, count)

	var globalCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM events WHERE channel = $1`, GlobalRunsChannel).Scan(&globalCount))
	assert.Equal(t, 0, globalCount) // global broadcast is NOTIFY-only, never persisted
}
