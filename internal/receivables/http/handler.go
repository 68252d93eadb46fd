package receivableshttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/receivables-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/receivables-ledger/internal/receivables"
	"github.com/odyssey-erp/receivables-ledger/internal/receivables/export"
	"github.com/odyssey-erp/receivables-ledger/jobs"
)

// Request headers understood by the handler.
const (
	HeaderTenant           = "X-Tenant-ID"
	HeaderClient           = "X-Client-ID"
	HeaderRequestTimestamp = "X-Request-Timestamp"
)

// LedgerService defines the ledger contract used by the handler.
type LedgerService interface {
	Balances(ctx context.Context, cred receivables.Credential, scope receivables.Scope) receivables.Outcome
	PartyLedger(ctx context.Context, cred receivables.Credential, partyID string, scope receivables.Scope) (receivables.PartyLedger, error)
	EntryDetail(ctx context.Context, cred receivables.Credential, kind receivables.TransactionKind, id string) (receivables.EntryDetail, error)
}

// ExportQueue submits background export jobs.
type ExportQueue interface {
	EnqueueReceivablesExport(ctx context.Context, payload jobs.ReceivablesExportPayload) (string, error)
}

// Config collects the handler dependencies. Sequencer and Queue are optional.
type Config struct {
	Logger    *slog.Logger
	Service   LedgerService
	Sequencer receivables.Sequencer
	Queue     ExportQueue
	Location  *time.Location
	Timeout   time.Duration
}

// Handler serves receivables balances, ledgers, entry details and exports.
type Handler struct {
	logger    *slog.Logger
	service   LedgerService
	sequencer receivables.Sequencer
	queue     ExportQueue
	location  *time.Location
	timeout   time.Duration
	validate  *validator.Validate
	bufPool   sync.Pool
	now       func() time.Time
}

// NewHandler constructs the receivables HTTP handler.
func NewHandler(cfg Config) *Handler {
	h := &Handler{
		logger:    cfg.Logger,
		service:   cfg.Service,
		sequencer: cfg.Sequencer,
		queue:     cfg.Queue,
		location:  cfg.Location,
		timeout:   cfg.Timeout,
		validate:  validator.New(),
		now:       time.Now,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.location == nil {
		h.location = time.UTC
	}
	if h.timeout <= 0 {
		h.timeout = 30 * time.Second
	}
	h.bufPool.New = func() interface{} { return new(bytes.Buffer) }
	return h
}

// WithNow overrides the handler clock for testing.
func (h *Handler) WithNow(fn func() time.Time) {
	if fn != nil {
		h.now = fn
	}
}

type scopeQuery struct {
	StartDate string `validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `validate:"omitempty,datetime=2006-01-02"`
	CompanyID string `validate:"omitempty,max=128"`
}

type exportRequest struct {
	StartDate string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	CompanyID string `json:"company_id" validate:"omitempty,max=128"`
	PartyID   string `json:"party_id" validate:"omitempty,max=128"`
	Format    string `json:"format" validate:"omitempty,oneof=xlsx csv"`
}

type partyBalance struct {
	Party        receivables.Party   `json:"party"`
	Balance      receivables.Balance `json:"balance"`
	LastActivity *time.Time          `json:"lastActivity,omitempty"`
}

type balancesResponse struct {
	Origin    receivables.Origin  `json:"origin"`
	Period    string              `json:"period"`
	CompanyID string              `json:"companyId,omitempty"`
	Parties   []partyBalance      `json:"parties"`
	Totals    receivables.Totals  `json:"totals"`
	Trail     []receivables.State `json:"trail"`
	Fallback  string              `json:"fallback,omitempty"`
	Error     string              `json:"error,omitempty"`
}

type ledgerResponse struct {
	Party         receivables.Party         `json:"party"`
	Period        string                    `json:"period"`
	Entries       []receivables.LedgerEntry `json:"entries"`
	Balance       receivables.Balance       `json:"balance"`
	Authoritative *decimal.Decimal          `json:"authoritative,omitempty"`
	NetLabel      string                    `json:"netLabel"`
	Error         string                    `json:"error,omitempty"`
}

func (h *Handler) handleBalances(w http.ResponseWriter, r *http.Request) {
	scope, err := h.parseScope(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	ticket, ok := h.begin(w, r, "balances")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	outcome := h.service.Balances(ctx, credential(r), scope)
	if !h.latest(w, r, ticket) {
		return
	}

	resp := balancesResponse{
		Origin:    outcome.Origin,
		Period:    scope.Window.Label(),
		CompanyID: scope.CompanyID,
		Parties:   make([]partyBalance, 0, len(outcome.Parties)),
		Totals:    outcome.Totals,
		Trail:     outcome.Trail,
	}
	for _, party := range outcome.Parties {
		row := partyBalance{Party: party, Balance: outcome.Balances[party.ID]}
		if at, ok := outcome.LastActivity[party.ID]; ok {
			row.LastActivity = &at
		}
		resp.Parties = append(resp.Parties, row)
	}
	if outcome.Fallback != nil {
		resp.Fallback = outcome.Fallback.Error()
	}
	if outcome.Err != nil {
		resp.Error = "balances unavailable: transaction source could not be reached"
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePartyLedger(w http.ResponseWriter, r *http.Request) {
	scope, err := h.parseScope(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	ticket, ok := h.begin(w, r, "ledger")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ledger, err := h.service.PartyLedger(ctx, credential(r), chi.URLParam(r, "partyID"), scope)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !h.latest(w, r, ticket) {
		return
	}
	resp := ledgerResponse{
		Party:         ledger.Party,
		Period:        scope.Window.Label(),
		Entries:       ledger.Entries,
		Balance:       ledger.Balance,
		Authoritative: ledger.Authoritative,
		NetLabel:      export.NetLabel(ledger.Balance.Balance, false),
	}
	if resp.Entries == nil {
		resp.Entries = []receivables.LedgerEntry{}
	}
	if ledger.Err != nil {
		resp.Error = "ledger unavailable: transaction source could not be reached"
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleEntryDetail(w http.ResponseWriter, r *http.Request) {
	kind := receivables.TransactionKind(strings.ToLower(chi.URLParam(r, "kind")))
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	detail, err := h.service.EntryDetail(ctx, credential(r), kind, chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) handleBalancesExport(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := h.parseScope(r)
		if err != nil {
			h.respondError(w, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		outcome := h.service.Balances(ctx, credential(r), scope)
		if outcome.Err != nil {
			h.respondError(w, outcome.Err)
			return
		}
		now := h.now().In(h.location)
		report := export.BalanceReportFromOutcome(outcome, scope, now)
		h.stream(w, format, export.Filename("", now, format), func(buf *bytes.Buffer) error {
			if format == jobs.FormatCSV {
				return export.WriteBalancesCSV(buf, report)
			}
			return export.WriteBalancesXLSX(buf, report)
		})
	}
}

func (h *Handler) handleLedgerExport(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := h.parseScope(r)
		if err != nil {
			h.respondError(w, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		ledger, err := h.service.PartyLedger(ctx, credential(r), chi.URLParam(r, "partyID"), scope)
		if err == nil {
			// a ledger without entries because the source failed must not export as empty
			err = ledger.Err
		}
		if err != nil {
			h.respondError(w, err)
			return
		}
		now := h.now().In(h.location)
		report := export.LedgerReportFromParty(ledger, scope, now)
		name := ledger.Party.Name
		if name == "" {
			name = ledger.Party.ID
		}
		h.stream(w, format, export.Filename(name, now, format), func(buf *bytes.Buffer) error {
			if format == jobs.FormatCSV {
				return export.WriteLedgerCSV(buf, report)
			}
			return export.WriteLedgerXLSX(buf, report)
		})
	}
}

func (h *Handler) handleEnqueueExport(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Exports Unavailable", "background exports are not configured")
		return
	}
	var req exportRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, fmt.Errorf("%w: decode body: %v", receivables.ErrInvalidScope, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, validationError(err))
		return
	}
	if _, err := receivables.ParseWindow(req.StartDate, req.EndDate, h.location); err != nil {
		h.respondError(w, err)
		return
	}
	jobID, err := h.queue.EnqueueReceivablesExport(r.Context(), jobs.ReceivablesExportPayload{
		Tenant:      r.Header.Get(HeaderTenant),
		CompanyID:   req.CompanyID,
		PartyID:     req.PartyID,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Format:      req.Format,
		RequestedAt: h.now().UTC(),
	})
	if err != nil {
		h.logError(r, "enqueue export", err)
		httpx.Problem(w, http.StatusServiceUnavailable, "Exports Unavailable", "export could not be queued")
		return
	}
	w.Header().Set("Location", "/jobs/exports/"+jobID)
	httpx.JSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status_url": "/jobs/exports/" + jobID})
}

func (h *Handler) stream(w http.ResponseWriter, format, filename string, write func(*bytes.Buffer) error) {
	buf := h.bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		h.bufPool.Put(buf)
	}()

	if err := write(buf); err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn("stream export", slog.Any("error", err))
	}
}

func (h *Handler) parseScope(r *http.Request) (receivables.Scope, error) {
	q := r.URL.Query()
	query := scopeQuery{
		StartDate: strings.TrimSpace(q.Get("start_date")),
		EndDate:   strings.TrimSpace(q.Get("end_date")),
		CompanyID: strings.TrimSpace(q.Get("company_id")),
	}
	if err := h.validate.Struct(query); err != nil {
		return receivables.Scope{}, validationError(err)
	}
	window, err := receivables.ParseWindow(query.StartDate, query.EndDate, h.location)
	if err != nil {
		return receivables.Scope{}, err
	}
	return receivables.Scope{Window: window, CompanyID: query.CompanyID}, nil
}

// begin registers the request with the sequencer. Sequencer outages never block a request.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request, view string) (*receivables.Ticket, bool) {
	if h.sequencer == nil {
		return nil, true
	}
	at, err := h.requestTime(r)
	if err != nil {
		h.respondError(w, err)
		return nil, false
	}
	ticket, err := h.sequencer.Begin(r.Context(), sequenceKey(r, view), at)
	if err != nil {
		h.logError(r, "sequencer begin", err)
		return nil, true
	}
	return &ticket, true
}

func (h *Handler) latest(w http.ResponseWriter, r *http.Request, ticket *receivables.Ticket) bool {
	if ticket == nil {
		return true
	}
	ok, err := h.sequencer.Latest(r.Context(), *ticket)
	if err != nil {
		h.logError(r, "sequencer latest", err)
		return true
	}
	if !ok {
		h.respondError(w, receivables.ErrSuperseded)
		return false
	}
	return true
}

func (h *Handler) requestTime(r *http.Request) (time.Time, error) {
	raw := strings.TrimSpace(r.Header.Get(HeaderRequestTimestamp))
	if raw == "" {
		return h.now(), nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, fmt.Errorf("%w: %s must be unix milliseconds", receivables.ErrInvalidScope, HeaderRequestTimestamp)
	}
	return time.UnixMilli(ms), nil
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, receivables.ErrInvalidScope):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
	case errors.Is(err, receivables.ErrSuperseded):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrConflict, err))
	case errors.Is(err, receivables.ErrPartyNotFound), errors.Is(err, receivables.ErrEntryNotFound):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrNotFound, err))
	case errors.Is(err, receivables.ErrSourceUnavailable):
		h.logger.Warn("receivables source unavailable", slog.Any("error", err))
		httpx.RespondError(w, httpx.Wrap(httpx.ErrBadGateway, errors.New("transaction source unavailable")))
	case errors.Is(err, receivables.ErrExport):
		h.logger.Error("receivables export", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Export Failed", "the report could not be generated; the ledger itself is unaffected")
	default:
		h.logger.Error("receivables handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (h *Handler) logError(r *http.Request, op string, err error) {
	h.logger.Warn(op, slog.String("request_id", middleware.GetReqID(r.Context())), slog.Any("error", err))
}

func credential(r *http.Request) receivables.Credential {
	token := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	} else {
		token = ""
	}
	return receivables.Credential{Tenant: strings.TrimSpace(r.Header.Get(HeaderTenant)), Token: token}
}

// sequenceKey scopes last-write-wins per caller and view.
func sequenceKey(r *http.Request, view string) string {
	caller := strings.TrimSpace(r.Header.Get(HeaderClient))
	if caller == "" {
		caller = r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			caller = host
		}
	}
	return strings.TrimSpace(r.Header.Get(HeaderTenant)) + ":" + caller + ":" + view
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", receivables.ErrInvalidScope, err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", receivables.ErrInvalidScope, strings.Join(parts, "; "))
}
