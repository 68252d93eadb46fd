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

	"github.com/odyssey-erp/receivables-ledger/cmd/ledger/cli"
	"github.com/odyssey-erp/receivables-ledger/internal/app"
	"github.com/odyssey-erp/receivables-ledger/internal/observability"
	receivableshttp "github.com/odyssey-erp/receivables-ledger/internal/receivables/http"
	"github.com/odyssey-erp/receivables-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobsCLI(ctx, cfg, os.Args[2:]))
	}

	logger := app.NewLogger(cfg)

	location, err := cfg.Location()
	if err != nil {
		logger.Error("resolve timezone", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	ledgerMetrics := observability.NewLedgerMetrics(metrics.Registerer())

	ledger, err := app.BuildLedger(ctx, cfg, logger, app.LedgerOptions{
		Recorder:      ledgerMetrics,
		WithSequencer: true,
	})
	if err != nil {
		logger.Error("build ledger", slog.Any("error", err))
		os.Exit(1)
	}
	defer ledger.Close()

	jobClient := jobs.NewClient(cfg.RedisClientOpt())
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(cfg.RedisClientOpt())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	receivablesHandler := receivableshttp.NewHandler(receivableshttp.Config{
		Logger:    logger,
		Service:   ledger.Service,
		Sequencer: ledger.Sequencer,
		Queue:     jobClient,
		Location:  location,
		Timeout:   cfg.AppRequestTimeout,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:      logger,
		Config:      cfg,
		Receivables: receivablesHandler,
		JobHandler:  jobHandler,
		Metrics:     metrics,
		Readiness:   ledger.Readiness,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runJobsCLI(ctx context.Context, cfg *app.Config, args []string) int {
	jobsCLI := cli.NewJobsCLI(cfg.RedisClientOpt())
	defer func() { _ = jobsCLI.Close() }()
	return jobsCLI.Command(ctx, args, os.Stdout, os.Stderr)
}
