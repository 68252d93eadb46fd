package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueExports holds report export jobs.
	QueueExports = "exports"
	// TaskReceivablesExport renders a receivables report into the export directory.
	TaskReceivablesExport = "receivables:export"
)

// Export formats accepted by TaskReceivablesExport.
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

// ReceivablesExportPayload describes one export request. An empty PartyID asks for the bulk
// balances report.
type ReceivablesExportPayload struct {
	JobID       string    `json:"job_id"`
	Tenant      string    `json:"tenant,omitempty"`
	CompanyID   string    `json:"company_id,omitempty"`
	PartyID     string    `json:"party_id,omitempty"`
	StartDate   string    `json:"start_date,omitempty"`
	EndDate     string    `json:"end_date,omitempty"`
	Format      string    `json:"format"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewReceivablesExportTask constructs an Asynq task.
func NewReceivablesExportTask(payload ReceivablesExportPayload) (*asynq.Task, error) {
	if payload.Format == "" {
		payload.Format = FormatXLSX
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReceivablesExport, data), nil
}
