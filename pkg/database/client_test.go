package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestClient starts a real Postgres container, applies the embedded
// migrations through NewClient, and returns a ready client.
func newTestClient(t *testing.T) *Client {
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

	cfg := Config{
		Host:            host,
		Port:            port.Int(),
		User:            "runcore",
		Password:        "runcore",
		Database:        "runcore_test",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	}

	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}

func TestDatabaseClient_ConnectionPool(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Pool().Ping(ctx))

	health, err := Health(ctx, client.Pool())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxConns, int32(0))
}

func TestDatabaseClient_MigrationsCreatedRunsTable(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Pool().Exec(ctx,
		`INSERT INTO runs (run_id, tenant_id, user_id, idea_spec_id, max_cost_usd, max_tokens, max_tool_minutes, max_wallclock_minutes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		"01ARZ3NDEKTSV4RRFFQ69G5FAV", "tenant-1", "user-1", "idea-1", 100.0, 100000, 120, 240,
	)
	require.NoError(t, err)

	var state string
	err = client.Pool().QueryRow(ctx, `SELECT state FROM runs WHERE run_id = $1`, "01ARZ3NDEKTSV4RRFFQ69G5FAV").Scan(&state)
	require.NoError(t, err)
	assert.Equal(t, "created", state)
}

func TestDatabaseClient_PriorityQueueView(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Pool().Exec(ctx,
		`INSERT INTO runs (run_id, tenant_id, user_id, idea_spec_id, max_cost_usd, max_tokens, max_tool_minutes, max_wallclock_minutes)
		 VALUES ('run-1', 'tenant-1', 'user-1', 'idea-1', 100.0, 100000, 120, 240)`)
	require.NoError(t, err)

	_, err = client.Pool().Exec(ctx,
		`INSERT INTO phase_executions (phase_execution_id, run_id, phase_name, attempt, parallelism_mode)
		 VALUES ('pe-1', 'run-1', 'implementation', 1, 'parallel')`)
	require.NoError(t, err)

	_, err = client.Pool().Exec(ctx,
		`INSERT INTO tasks (task_id, run_id, phase_execution_id, phase, type, target, priority_class, status, enqueued_at_nanos)
		 VALUES
		   ('t-low', 'run-1', 'pe-1', 'implementation', 'agent', 'builder', 'P3', 'queued', 1),
		   ('t-high', 'run-1', 'pe-1', 'implementation', 'agent', 'builder', 'P0', 'queued', 2)`)
	require.NoError(t, err)

	rows, err := client.Pool().Query(ctx, `SELECT task_id FROM priority_queue ORDER BY weight DESC, enqueued_at_nanos ASC`)
	require.NoError(t, err)
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	assert.Equal(t, []string{"t-high", "t-low"}, ids)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "missing password",
			cfg:     Config{MaxOpenConns: 10},
			wantErr: true,
		},
		{
			name:    "idle exceeds open",
			cfg:     Config{Password: "x", MaxOpenConns: 5, MaxIdleConns: 10},
			wantErr: true,
		},
		{
			name:    "valid",
			cfg:     Config{Password: "x", MaxOpenConns: 10, MaxIdleConns: 5},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

