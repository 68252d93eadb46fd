package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/receivables-ledger/internal/jobs"
	"github.com/odyssey-erp/receivables-ledger/internal/receivables"
	"github.com/odyssey-erp/receivables-ledger/internal/receivables/export"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LedgerService is the part of receivables.Service the export job needs.
type LedgerService interface {
	Balances(ctx context.Context, cred receivables.Credential, scope receivables.Scope) receivables.Outcome
	PartyLedger(ctx context.Context, cred receivables.Credential, partyID string, scope receivables.Scope) (receivables.PartyLedger, error)
}

// ReceivablesExportConfig wires dependencies for ReceivablesExportJob.
type ReceivablesExportConfig struct {
	Service    LedgerService
	StorageDir string
	Location   *time.Location
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// ReceivablesExportJob renders receivables reports on the worker and stores them on disk.
type ReceivablesExportJob struct {
	service    LedgerService
	storageDir string
	location   *time.Location
	log        *slog.Logger
	metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewReceivablesExportJob constructs the export handler.
func NewReceivablesExportJob(cfg ReceivablesExportConfig) *ReceivablesExportJob {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &ReceivablesExportJob{
		service:    cfg.Service,
		storageDir: cfg.StorageDir,
		location:   loc,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		clock:      time.Now,
	}
}

// WithClock overrides the job clock for testing.
func (j *ReceivablesExportJob) WithClock(fn func() time.Time) {
	if fn != nil {
		j.clock = fn
	}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *ReceivablesExportJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.service == nil {
		return errors.New("receivables export: handler not configured")
	}
	var payload ReceivablesExportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("receivables export: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Format == "" {
		payload.Format = FormatXLSX
	}
	if payload.Format != FormatXLSX && payload.Format != FormatCSV {
		return fmt.Errorf("receivables export: unsupported format %q: %w", payload.Format, asynq.SkipRetry)
	}
	window, err := receivables.ParseWindow(payload.StartDate, payload.EndDate, j.location)
	if err != nil {
		return fmt.Errorf("receivables export: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.jobMetrics().Track(TaskReceivablesExport)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(
		slog.String("job_id", payload.JobID),
		slog.String("company_id", payload.CompanyID),
		slog.String("party_id", payload.PartyID),
	)
	scope := receivables.Scope{Window: window, CompanyID: payload.CompanyID}
	cred := receivables.Credential{Tenant: payload.Tenant}
	now := j.clock().In(j.location)

	data, name, parties, origin, err := j.render(ctx, cred, scope, payload, now)
	if err != nil {
		logger.Error("render receivables export", slog.Any("error", err))
		return err
	}
	path, err := j.save(name, data)
	if err != nil {
		logger.Error("store receivables export", slog.Any("error", err))
		return receivables.ExportFailure("store export", err)
	}
	if w := task.ResultWriter(); w != nil {
		if _, werr := w.Write([]byte(path)); werr != nil {
			logger.Warn("record export result", slog.Any("error", werr))
		}
	}
	j.jobMetrics().AddExportedParties(string(origin), parties)
	logger.Info("receivables export ready", slog.String("file", path), slog.Int("parties", parties))
	return nil
}

func (j *ReceivablesExportJob) render(ctx context.Context, cred receivables.Credential, scope receivables.Scope, payload ReceivablesExportPayload, now time.Time) ([]byte, string, int, receivables.Origin, error) {
	var buf bytes.Buffer
	if payload.PartyID != "" {
		ledger, err := j.service.PartyLedger(ctx, cred, payload.PartyID, scope)
		if err != nil {
			if errors.Is(err, receivables.ErrPartyNotFound) || errors.Is(err, receivables.ErrInvalidScope) {
				return nil, "", 0, "", fmt.Errorf("receivables export: %v: %w", err, asynq.SkipRetry)
			}
			return nil, "", 0, "", err
		}
		if ledger.Err != nil {
			return nil, "", 0, "", ledger.Err
		}
		report := export.LedgerReportFromParty(ledger, scope, now)
		if payload.Format == FormatCSV {
			err = export.WriteLedgerCSV(&buf, report)
		} else {
			err = export.WriteLedgerXLSX(&buf, report)
		}
		if err != nil {
			return nil, "", 0, "", err
		}
		name := ledger.Party.Name
		if name == "" {
			name = ledger.Party.ID
		}
		return buf.Bytes(), export.Filename(name, now, payload.Format), 1, ledger.Balance.Origin, nil
	}

	outcome := j.service.Balances(ctx, cred, scope)
	if outcome.Err != nil {
		return nil, "", 0, "", outcome.Err
	}
	report := export.BalanceReportFromOutcome(outcome, scope, now)
	var err error
	if payload.Format == FormatCSV {
		err = export.WriteBalancesCSV(&buf, report)
	} else {
		err = export.WriteBalancesXLSX(&buf, report)
	}
	if err != nil {
		return nil, "", 0, "", err
	}
	return buf.Bytes(), export.Filename("", now, payload.Format), len(outcome.Parties), outcome.Origin, nil
}

// save writes data next to its final name and renames it into place.
func (j *ReceivablesExportJob) save(name string, data []byte) (string, error) {
	dir := j.storageDir
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "receivables-exports")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

func (j *ReceivablesExportJob) logger() *slog.Logger {
	if j.log != nil {
		return j.log
	}
	return slog.Default()
}

func (j *ReceivablesExportJob) jobMetrics() *jobmetrics.Metrics {
	if j.metrics != nil {
		return j.metrics
	}
	return defaultJobMetrics
}
