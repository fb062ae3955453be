package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/accesscore/internal/app"
	"github.com/odyssey-erp/accesscore/internal/audit"
	jobmetrics "github.com/odyssey-erp/accesscore/internal/jobs"
	"github.com/odyssey-erp/accesscore/internal/platform/db"
	"github.com/odyssey-erp/accesscore/internal/sessions"
	"github.com/odyssey-erp/accesscore/internal/shared"
	"github.com/odyssey-erp/accesscore/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	auditEmitter := audit.NewEmitter(shared.NewAuditLogger(pool), cfg.AuditBuffer, nil, logger, nil)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := auditEmitter.Close(closeCtx); err != nil {
			logger.Warn("audit drain", slog.Any("error", err))
		}
	}()

	sessionManager := sessions.NewManager(sessions.NewRepository(pool), auditEmitter, nil, sessions.Config{
		DefaultLimit: cfg.DefaultMaxSessions,
		SessionTTL:   cfg.SessionTTL,
		Retention:    cfg.SessionRetention,
	}, logger)
	sweepJob := jobs.NewSessionSweepJob(sessionManager, logger, jobmetrics.NewMetrics(nil))

	sweepTask, err := jobs.NewSessionSweepTask("cron")
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSessionSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("sweep_cron", cfg.SweepCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
