// runcore is the orchestrator core's server binary: it wires the Phase
// Coordinator, Priority Scheduler, Gatekeeper, Budget Guard, Quota
// Enforcer, Self-Execution Mode, and the run ledger behind the Workflow
// Engine's poll loop and the HTTP/WebSocket API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/pipeforge/runcore/pkg/admission"
	"github.com/pipeforge/runcore/pkg/api"
	"github.com/pipeforge/runcore/pkg/budget"
	"github.com/pipeforge/runcore/pkg/config"
	"github.com/pipeforge/runcore/pkg/coordinator"
	"github.com/pipeforge/runcore/pkg/database"
	"github.com/pipeforge/runcore/pkg/dispatcher"
	"github.com/pipeforge/runcore/pkg/entitystore"
	"github.com/pipeforge/runcore/pkg/events"
	"github.com/pipeforge/runcore/pkg/gatekeeper"
	"github.com/pipeforge/runcore/pkg/ledger"
	"github.com/pipeforge/runcore/pkg/masking"
	"github.com/pipeforge/runcore/pkg/metrics"
	"github.com/pipeforge/runcore/pkg/notify"
	"github.com/pipeforge/runcore/pkg/quota"
	"github.com/pipeforge/runcore/pkg/runstore"
	"github.com/pipeforge/runcore/pkg/scheduler"
	"github.com/pipeforge/runcore/pkg/sem"
	"github.com/pipeforge/runcore/pkg/toolregistry"
	"github.com/pipeforge/runcore/pkg/workflow"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	pool := dbClient.Pool()
	slog.Info("connected to PostgreSQL", "database", dbConfig.Database)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	slog.Info("connected to Redis", "addr", cfg.Redis.Addr)

	recorder := metrics.New()

	engineID := fmt.Sprintf("runcore-%d", os.Getpid())
	runStore := runstore.New(pool, engineID)
	runLedger := ledger.New(pool)
	entityStore := entitystore.New(pool)
	artifactCache := entitystore.NewRedisArtifactCache(rdb)

	maskingSvc := masking.New(entityStore, "security", nil, nil)

	quotaEnforcer := quota.New(rdb, cfg.TenantTierRegistry, entityStore, entityStore)

	queue := scheduler.NewQueue()
	taskTracker := scheduler.NewTaskTracker()
	preemptor := scheduler.NewPreemptor(queue, taskTracker, entityStore)
	schedulerController := scheduler.NewController(queue, preemptor)

	budgetGuard := budget.New(cfg.Defaults.BudgetThresholds, entityStore, schedulerController, recorder)

	admitter := admission.New(runStore, queue, quotaEnforcer, cfg.Defaults.DefaultTenantTier)

	grpcExecutor, err := dispatcher.NewGRPCExecutor(getEnv("TOOL_RUNTIME_ADDR", "localhost:9090"), "/runcore.dispatch.v1.Executor/Execute")
	if err != nil {
		slog.Error("failed to dial dispatch executor", "error", err)
		os.Exit(1)
	}
	defer grpcExecutor.Close()

	schemaValidator := dispatcher.NewStructuralValidator(nil)

	stepGuard := &gatekeeper.ArtifactStepGuard{Reader: entityStore, Scanner: maskingSvc}

	toolInvokers := map[string]toolregistry.Invoker{}
	for toolName := range cfg.ToolAllowlistRegistry.GetAll() {
		provider, _, err := toolregistry.SplitToolName(toolName)
		if err != nil {
			slog.Warn("skipping malformed tool allow-list entry", "tool", toolName, "error", err)
			continue
		}
		if _, dialed := toolInvokers[provider]; dialed {
			continue
		}
		addr := getEnv(fmt.Sprintf("TOOL_PROVIDER_%s_ADDR", provider), "")
		if addr == "" {
			continue
		}
		invoker, err := toolregistry.NewGRPCInvoker(addr, "/runcore.tools.v1.Tool/Invoke")
		if err != nil {
			slog.Error("failed to dial tool provider", "provider", provider, "error", err)
			os.Exit(1)
		}
		defer invoker.Close()
		toolInvokers[provider] = invoker
	}
	toolRegistry := toolregistry.New(cfg.ToolAllowlistRegistry, toolInvokers)

	// dispatcher.SEMTrigger is left nil: it exists to flag a task for SEM on
	// a consecutive schema/tool failure streak at the transport layer, but
	// the Coordinator already escalates any doer-replaceable task to SEM
	// once its own retry policy is exhausted (coordinator.go's runTask),
	// which is the path this repo relies on.
	taskDispatcher := dispatcher.New(grpcExecutor, artifactCache, schemaValidator, nil, recorder)
	trackingDispatcher := scheduler.NewTrackingDispatcher(taskDispatcher, taskTracker)

	gatekeeperInstance := gatekeeper.New(cfg.GuardRegistry, 0, 0, recorder)

	semDriver := sem.New(cfg.ToolAllowlistRegistry, entityStore, toolRegistry, stepGuard, gatekeeperInstance, recorder)
	escalator := admission.NewEscalator(semDriver)

	guardRunner := gatekeeper.NewRunner(
		&gatekeeper.CompletenessGuard{},
		&gatekeeper.PrivacyGuard{Scanner: maskingSvc},
	)

	coord := coordinator.New(admitter, trackingDispatcher, escalator, guardRunner, gatekeeperInstance, recorder)

	var slackToken string
	if cfg.Slack != nil {
		slackToken = os.Getenv(cfg.Slack.TokenEnv)
	}
	notifier := notify.New(cfg.Slack, slackToken, cfg.DashboardURL)

	engine := workflow.New(engineID, runStore, cfg.PhaseRegistry, coord, budgetGuard, notifier, recorder)
	engine.Start(ctx)
	defer engine.Stop()

	publisher := events.NewPublisher(pool)
	catchupQuerier := events.NewPostgresCatchupQuerier(pool)
	connManager := events.NewConnectionManager(catchupQuerier, 10*time.Second)
	notifyListener := events.NewNotifyListener(dbConfig.DSN(), connManager)
	connManager.SetListener(notifyListener)
	if err := notifyListener.Start(ctx); err != nil {
		slog.Error("failed to start notify listener", "error", err)
		os.Exit(1)
	}
	defer notifyListener.Stop(ctx)

	server := api.NewServer(cfg, dbClient, runStore, engine, runLedger, publisher)
	server.SetConnectionManager(connManager)
	server.SetRecorder(recorder)
	if err := server.ValidateWiring(); err != nil {
		slog.Error("server wiring incomplete", "error", err)
		os.Exit(1)
	}

	quotaCron := cron.New()
	if _, err := quotaCron.AddFunc(cfg.QuotaRollover.Schedule, func() {
		reset, err := quotaEnforcer.RollDailyWindows(ctx)
		if err != nil {
			slog.Error("quota window rollover failed", "error", err)
			return
		}
		slog.Info("quota window rollover ran", "reset", reset)
	}); err != nil {
		slog.Error("failed to schedule quota window rollover job", "error", err)
		os.Exit(1)
	}
	quotaCron.Start()
	defer quotaCron.Stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", httpPort)
		if err := server.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		slog.Error("HTTP server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during server shutdown", "error", err)
	}
}
