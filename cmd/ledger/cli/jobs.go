package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/receivables-ledger/jobs"
)

// Exit codes returned by Command.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// ExportQueue submits receivables export jobs.
type ExportQueue interface {
	EnqueueReceivablesExport(ctx context.Context, payload jobs.ReceivablesExportPayload) (string, error)
	Close() error
}

// QueueInspector is the subset of *asynq.Inspector used by the CLI.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    ExportQueue
	inspector QueueInspector
}

// NewJobsCLI initialises the CLI helpers against the given Redis.
func NewJobsCLI(redisOpts asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{client: jobs.NewClient(redisOpts), inspector: asynq.NewInspector(redisOpts)}
}

// NewJobsCLIWith builds the CLI from existing collaborators.
func NewJobsCLIWith(client ExportQueue, inspector QueueInspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerExport enqueues a receivables export and returns its job id.
func (c *JobsCLI) TriggerExport(ctx context.Context, payload jobs.ReceivablesExportPayload) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("jobs cli: client not configured")
	}
	payload.Format = strings.ToLower(strings.TrimSpace(payload.Format))
	if payload.Format == "" {
		payload.Format = jobs.FormatXLSX
	}
	if payload.Format != jobs.FormatXLSX && payload.Format != jobs.FormatCSV {
		return "", fmt.Errorf("jobs cli: unsupported format %s", payload.Format)
	}
	return c.client.EnqueueReceivablesExport(ctx, payload)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Failed    int    `json:"failed"`
}

// InspectQueue reports the metrics of queue, defaulting to the exports queue.
func (c *JobsCLI) InspectQueue(ctx context.Context, queue string) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	if queue == "" {
		queue = jobs.QueueExports
	}
	info, err := c.inspector.GetQueueInfo(queue)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: queue}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Failed = info.Archived
	}
	return stats, nil
}

// ListScheduled returns scheduled export tasks.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueExports, asynq.PageSize(size), asynq.Page(1))
}

// Command runs one jobs subcommand: export, queue or scheduled.
func (c *JobsCLI) Command(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: ledger jobs <export|queue|scheduled> [flags]")
		return ExitUsage
	}
	switch args[0] {
	case "export":
		return c.exportCommand(ctx, args[1:], stdout, stderr)
	case "queue":
		return c.queueCommand(ctx, args[1:], stdout, stderr)
	case "scheduled":
		return c.scheduledCommand(ctx, args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "jobs cli: unknown command %q\n", args[0])
		return ExitUsage
	}
}

func (c *JobsCLI) exportCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var payload jobs.ReceivablesExportPayload
	fs.StringVar(&payload.Tenant, "tenant", "", "tenant id")
	fs.StringVar(&payload.CompanyID, "company", "", "company id, empty for all companies")
	fs.StringVar(&payload.PartyID, "party", "", "party id, empty for the bulk balances report")
	fs.StringVar(&payload.StartDate, "from", "", "window start (YYYY-MM-DD)")
	fs.StringVar(&payload.EndDate, "to", "", "window end (YYYY-MM-DD)")
	fs.StringVar(&payload.Format, "format", jobs.FormatXLSX, "xlsx or csv")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	jobID, err := c.TriggerExport(ctx, payload)
	if err != nil {
		fmt.Fprintf(stderr, "enqueue export: %v\n", err)
		return ExitError
	}
	if *asJSON {
		return writeJSON(stdout, stderr, map[string]string{"job_id": jobID, "status": "queued"})
	}
	fmt.Fprintf(stdout, "queued export %s\n", jobID)
	return ExitOK
}

func (c *JobsCLI) queueCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("queue", flag.ContinueOnError)
	fs.SetOutput(stderr)
	queue := fs.String("queue", jobs.QueueExports, "queue name")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	stats, err := c.InspectQueue(ctx, *queue)
	if err != nil {
		fmt.Fprintf(stderr, "inspect queue: %v\n", err)
		return ExitError
	}
	if *asJSON {
		return writeJSON(stdout, stderr, stats)
	}
	fmt.Fprintf(stdout, "%s: pending=%d active=%d scheduled=%d retry=%d failed=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Failed)
	return ExitOK
}

func (c *JobsCLI) scheduledCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("scheduled", flag.ContinueOnError)
	fs.SetOutput(stderr)
	size := fs.Int("size", 10, "page size")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	tasks, err := c.ListScheduled(ctx, *size)
	if err != nil {
		fmt.Fprintf(stderr, "list scheduled: %v\n", err)
		return ExitError
	}
	for _, task := range tasks {
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", task.ID, task.Type, task.NextProcessAt.Format("2006-01-02 15:04:05"))
	}
	return ExitOK
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "encode output: %v\n", err)
		return ExitError
	}
	return ExitOK
}
