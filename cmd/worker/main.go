package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/receivables-ledger/internal/app"
	jobmetrics "github.com/odyssey-erp/receivables-ledger/internal/jobs"
	"github.com/odyssey-erp/receivables-ledger/internal/observability"
	"github.com/odyssey-erp/receivables-ledger/jobs"
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

	location, err := cfg.Location()
	if err != nil {
		logger.Error("resolve timezone", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	ledger, err := app.BuildLedger(ctx, cfg, logger, app.LedgerOptions{
		Recorder: observability.NewLedgerMetrics(metrics.Registerer()),
	})
	if err != nil {
		logger.Error("build ledger", slog.Any("error", err))
		os.Exit(1)
	}
	defer ledger.Close()

	exportJob := jobs.NewReceivablesExportJob(jobs.ReceivablesExportConfig{
		Service:    ledger.Service,
		StorageDir: cfg.ExportDir,
		Location:   location,
		Logger:     logger,
		Metrics:    jobmetrics.NewMetrics(metrics.Registerer()),
	})

	var cron []jobs.CronRegistration
	if cfg.ExportCron != "" {
		task, err := jobs.NewReceivablesExportTask(jobs.ReceivablesExportPayload{Format: jobs.FormatXLSX})
		if err != nil {
			logger.Error("build export task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.ExportCron,
			Task:    task,
			Options: []asynq.Option{asynq.Queue(jobs.QueueExports), asynq.MaxRetry(2), asynq.Retention(24 * time.Hour)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.RedisClientOpt(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    location,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReceivablesExport, Handler: exportJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.WorkerMetricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
