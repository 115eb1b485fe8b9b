package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stewardship/cmd/stewardship/cli"
	"github.com/odyssey-erp/stewardship/internal/actor"
	"github.com/odyssey-erp/stewardship/internal/app"
	"github.com/odyssey-erp/stewardship/internal/audit"
	audithttp "github.com/odyssey-erp/stewardship/internal/audit/http"
	"github.com/odyssey-erp/stewardship/internal/ledger"
	ledgerhttp "github.com/odyssey-erp/stewardship/internal/ledger/http"
	"github.com/odyssey-erp/stewardship/internal/notify"
	"github.com/odyssey-erp/stewardship/internal/observability"
	"github.com/odyssey-erp/stewardship/internal/platform/cache"
	"github.com/odyssey-erp/stewardship/internal/platform/db"
	"github.com/odyssey-erp/stewardship/internal/policy"
	"github.com/odyssey-erp/stewardship/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobs(ctx, cfg, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	policyCfg, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		return err
	}
	roles, err := cfg.UnscopedRoles()
	if err != nil {
		return err
	}
	scope := ledger.NewScope(roles)

	pgSink := audit.NewPostgresSink(pool)
	var sinks []audit.Sink
	switch cfg.AuditSink {
	case app.AuditSinkPostgres:
		sinks = append(sinks, pgSink)
	case app.AuditSinkKafka, app.AuditSinkBoth:
		kafkaSink := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				logger.Warn("kafka writer close", slog.Any("error", err))
			}
		}()
		if cfg.AuditSink == app.AuditSinkBoth {
			sinks = append(sinks, pgSink)
		}
		sinks = append(sinks, kafkaSink)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer jobClient.Close()
	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()

	metrics := observability.NewMetrics()
	service := ledger.NewService(
		ledger.NewPGRepository(pool),
		ledger.NewPolicy(policyCfg),
		scope,
		audit.NewRecorder(sinks...),
		notify.NewDispatcher(jobClient.Asynq()),
		logger,
		ledger.ServiceConfig{EnforceFunds: cfg.LedgerEnforceFunds},
	)
	service.WithMetrics(metrics)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Sessions:      actor.NewSessionStore(redisClient, cfg.SessionTTL),
		LedgerHandler: ledgerhttp.NewHandler(logger, service, cfg.RateLimitPerMinute),
		AuditHandler:  audithttp.NewHandler(logger, audit.NewService(pgSink), scope),
		JobHandler:    jobs.NewHandler(inspector, logger),
		Metrics:       metrics,
		Readiness:     []app.Pinger{pool},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", slog.String("addr", cfg.AppAddr), slog.String("audit_sink", cfg.AuditSink))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// runJobs dispatches the `stewardship jobs` subcommands.
func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	jc, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer jc.Close()

	if len(args) == 0 {
		return errors.New("usage: stewardship jobs <trigger TASK|stats|retry|scheduled>")
	}
	switch args[0] {
	case "trigger":
		name := jobs.TaskLedgerIntegrity
		if len(args) > 1 {
			name = args[1]
		}
		info, err := jc.Trigger(ctx, name)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		for _, queue := range cli.Queues() {
			stats, err := jc.InspectQueue(ctx, queue)
			if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
				return err
			}
			fmt.Printf("%-14s pending=%d active=%d scheduled=%d retry=%d\n",
				queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		}
	case "retry":
		tasks, err := jc.ListRetry(ctx, 20)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Printf("%s %s retried=%d last_err=%q\n", t.ID, t.Type, t.Retried, t.LastErr)
		}
	case "scheduled":
		tasks, err := jc.ListScheduled(ctx, 20)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Printf("%s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
		}
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
	return nil
}
