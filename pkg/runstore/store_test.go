package runstore

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
	"github.com/pipeforge/runcore/pkg/models"
	"github.com/pipeforge/runcore/pkg/workflow"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
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

	return client.Pool()
}

func newRun(tenantID string) *models.Run {
	return &models.Run{
		TenantID:   tenantID,
		UserID:     "user-1",
		IdeaSpecID: "idea-1",
		Budget:     models.Budget{MaxCostUSD: 100, MaxTokens: 100000, MaxToolMinutes: 120, MaxWallclockMinutes: 240, MaxRetries: 3},
	}
}

func TestStore_CreateRun_GeneratesIDAndDefaultsState(t *testing.T) {
	s := New(newTestPool(t), "engine-1")
	ctx := context.Background()

	run := newRun("tenant-1")
	require.NoError(t, s.CreateRun(ctx, run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, models.RunStateCreated, run.State)

	loaded, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.TenantID, loaded.TenantID)
	assert.Equal(t, 100.0, loaded.Budget.MaxCostUSD)
}

func TestStore_GetRun_UnknownIDReturnsError(t *testing.T) {
	s := New(newTestPool(t), "engine-1")
	_, err := s.GetRun(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStore_ClaimNextRun_ClaimsOldestPollableRun(t *testing.T) {
	s := New(newTestPool(t), "engine-1")
	ctx := context.Background()

	first := newRun("tenant-1")
	require.NoError(t, s.CreateRun(ctx, first))
	time.Sleep(10 * time.Millisecond)
	second := newRun("tenant-1")
	require.NoError(t, s.CreateRun(ctx, second))

	claimed, err := s.ClaimNextRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)

	// The same run isn't handed out again while its lease is live.
	claimedAgain, err := s.ClaimNextRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, claimedAgain.ID)

	_, err = s.ClaimNextRun(ctx)
	assert.ErrorIs(t, err, workflow.ErrNoRunsAvailable)
}

func TestStore_ClaimNextRun_SkipsPausedFailedCancelledAndGA(t *testing.T) {
	s := New(newTestPool(t), "engine-1")
	ctx := context.Background()

	run := newRun("tenant-1")
	require.NoError(t, s.CreateRun(ctx, run))
	run.State = models.RunStatePaused
	require.NoError(t, s.SaveRun(ctx, run))

	_, err := s.ClaimNextRun(ctx)
	assert.ErrorIs(t, err, workflow.ErrNoRunsAvailable)
}

func TestStore_SaveRun_ClearsClaimOnTerminalState(t *testing.T) {
	s := New(newTestPool(t), "engine-1")
	ctx := context.Background()

	run := newRun("tenant-1")
	require.NoError(t, s.CreateRun(ctx, run))

	claimed, err := s.ClaimNextRun(ctx)
	require.NoError(t, err)

	claimed.State = models.RunStateFailed
	claimed.PauseReason = "fatal error in build"
	require.NoError(t, s.SaveRun(ctx, claimed))

	// Claim cleared, so a second engine instance could pick it back up if
	// it were still pollable -- here it's terminal, so still nothing.
	_, err = s.ClaimNextRun(ctx)
	assert.ErrorIs(t, err, workflow.ErrNoRunsAvailable)

	loaded, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateFailed, loaded.State)
	assert.Equal(t, "fatal error in build", loaded.PauseReason)
}

func TestStore_SavePhaseExecution_UpsertsOnConflict(t *testing.T) {
	s := New(newTestPool(t), "engine-1")
	ctx := context.Background()

	run := newRun("tenant-1")
	require.NoError(t, s.CreateRun(ctx, run))

	exec := models.PhaseExecution{
		RunID: run.ID, PhaseName: "intake", Attempt: 1,
		Status: models.PhaseStatusRunning, ParallelismMode: models.ParallelismSequential,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SavePhaseExecution(ctx, exec))

	exec.Status = models.PhaseStatusCompleted
	exec.CostUSD = 1.25
	exec.Tokens = 500
	require.NoError(t, s.SavePhaseExecution(ctx, exec))

	var status string
	var costUSD float64
	err := s.pool.QueryRow(ctx, `SELECT status, cost_usd FROM phase_executions WHERE phase_execution_id = $1`, exec.ID()).Scan(&status, &costUSD)
	require.NoError(t, err)
	assert.Equal(t, "completed", status)
	assert.Equal(t, 1.25, costUSD)
}

func TestStore_LoadPhaseTasks_ReturnsTasksOrderedByEnqueueTime(t *testing.T) {
	s := New(newTestPool(t), "engine-1")
	ctx := context.Background()

	run := newRun("tenant-1")
	require.NoError(t, s.CreateRun(ctx, run))
	require.NoError(t, s.SavePhaseExecution(ctx, models.PhaseExecution{
		RunID: run.ID, PhaseName: "build", Attempt: 1,
		Status: models.PhaseStatusRunning, ParallelismMode: models.ParallelismParallel,
		StartedAt: time.Now().UTC(),
	}))

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (task_id, run_id, phase_execution_id, phase, type, target, input, priority_class, enqueued_at_nanos)
		 VALUES
			('task-2', $1, $2, 'build', 'agent', 'implementer', '{"k":"v"}', 'P1', 200),
			('task-1', $1, $2, 'build', 'tool', 'linter', '{}', 'P0', 100)`,
		run.ID, run.ID+"/build/1",
	)
	require.NoError(t, err)

	tasks, err := s.LoadPhaseTasks(ctx, run.ID, "build")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "task-1", tasks[0].ID)
	assert.Equal(t, "task-2", tasks[1].ID)
	assert.Equal(t, models.TaskTypeAgent, tasks[1].Type)
	assert.Equal(t, "v", tasks[1].Input["k"])
}
