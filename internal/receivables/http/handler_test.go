package receivableshttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/receivables-ledger/internal/receivables"
	"github.com/odyssey-erp/receivables-ledger/internal/receivables/upstream"
	"github.com/odyssey-erp/receivables-ledger/jobs"
)

type stubService struct {
	outcome   receivables.Outcome
	ledger    receivables.PartyLedger
	ledgerErr error
	detail    receivables.EntryDetail
	detailErr error
	onCompute func()
	lastCred  receivables.Credential
	lastScope receivables.Scope
}

func (s *stubService) Balances(ctx context.Context, cred receivables.Credential, scope receivables.Scope) receivables.Outcome {
	s.lastCred, s.lastScope = cred, scope
	if s.onCompute != nil {
		s.onCompute()
	}
	return s.outcome
}

func (s *stubService) PartyLedger(ctx context.Context, cred receivables.Credential, partyID string, scope receivables.Scope) (receivables.PartyLedger, error) {
	s.lastCred, s.lastScope = cred, scope
	if s.onCompute != nil {
		s.onCompute()
	}
	return s.ledger, s.ledgerErr
}

func (s *stubService) EntryDetail(ctx context.Context, cred receivables.Credential, kind receivables.TransactionKind, id string) (receivables.EntryDetail, error) {
	return s.detail, s.detailErr
}

type stubQueue struct {
	payload jobs.ReceivablesExportPayload
}

func (q *stubQueue) EnqueueReceivablesExport(ctx context.Context, payload jobs.ReceivablesExportPayload) (string, error) {
	q.payload = payload
	return "job-1", nil
}

func sampleOutcome() receivables.Outcome {
	balances := map[string]receivables.Balance{
		"p1": {PartyID: "p1", TotalCredit: decimal.NewFromInt(1000), TotalDebit: decimal.NewFromInt(400), Balance: decimal.NewFromInt(600), Origin: receivables.OriginRecomputed},
		"p2": {PartyID: "p2", TotalCredit: decimal.Zero, TotalDebit: decimal.Zero, Balance: decimal.Zero, Origin: receivables.OriginRecomputed},
	}
	return receivables.Outcome{
		Balances:     balances,
		Totals:       receivables.Overall(balances),
		Parties:      []receivables.Party{{ID: "p1", Name: "Acme"}, {ID: "p2", Name: "Bolt"}},
		LastActivity: map[string]time.Time{"p1": time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)},
		Origin:       receivables.OriginRecomputed,
		Trail:        []receivables.State{receivables.StateIdle, receivables.StateFallbackRecompute, receivables.StateSettled},
	}
}

func newTestRouter(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	h := NewHandler(cfg)
	h.WithNow(func() time.Time { return time.Date(2024, 3, 31, 9, 0, 0, 0, time.UTC) })
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func TestBalancesReturnsPartiesInOrder(t *testing.T) {
	svc := &stubService{outcome: sampleOutcome()}
	router := newTestRouter(t, Config{Service: svc})

	req := httptest.NewRequest(http.MethodGet, "/receivables/balances?start_date=2024-01-01&company_id=C1", nil)
	req.Header.Set("Authorization", "Bearer token-1")
	req.Header.Set(HeaderTenant, "t1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	type balanceBody struct {
		Balance string `json:"balance"`
	}
	type row struct {
		Party        receivables.Party `json:"party"`
		Balance      balanceBody       `json:"balance"`
		LastActivity *time.Time        `json:"lastActivity"`
	}
	var body struct {
		Origin  string `json:"origin"`
		Period  string `json:"period"`
		Parties []row  `json:"parties"`
		Totals  struct {
			Parties int    `json:"parties"`
			Balance string `json:"balance"`
		} `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "recomputed", body.Origin)
	require.Equal(t, "From 2024-01-01", body.Period)
	require.Len(t, body.Parties, 2)
	require.Equal(t, "p1", body.Parties[0].Party.ID)
	require.Equal(t, "600", body.Parties[0].Balance.Balance)
	require.NotNil(t, body.Parties[0].LastActivity)
	require.Nil(t, body.Parties[1].LastActivity)
	require.Equal(t, 2, body.Totals.Parties)

	require.Equal(t, receivables.Credential{Tenant: "t1", Token: "token-1"}, svc.lastCred)
	require.Equal(t, "C1", svc.lastScope.CompanyID)
	require.True(t, svc.lastScope.Window.End.IsZero())
}

func TestBalancesRejectsInvalidScope(t *testing.T) {
	router := newTestRouter(t, Config{Service: &stubService{outcome: sampleOutcome()}})

	for _, query := range []string{"start_date=2024-13-01", "start_date=2024-02-01&end_date=2024-01-01"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/receivables/balances?"+query, nil))
		require.Equal(t, http.StatusBadRequest, rr.Code, query)
		require.Contains(t, rr.Header().Get("Content-Type"), "application/problem+json")
	}
}

func TestBalancesReportsUnavailableSourceWithoutFailing(t *testing.T) {
	outcome := sampleOutcome()
	outcome.Origin = receivables.OriginNone
	outcome.Err = receivables.Unavailable("snapshot", "/sales", 503, nil)
	router := newTestRouter(t, Config{Service: &stubService{outcome: outcome}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/receivables/balances", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"error":"balances unavailable`)
}

func TestSupersededRequestIsDiscarded(t *testing.T) {
	seq := receivables.NewMemorySequencer(time.Minute)
	svc := &stubService{outcome: sampleOutcome()}
	svc.onCompute = func() {
		// a newer request for the same view begins while this one computes
		_, err := seq.Begin(context.Background(), "t1:c1:balances", time.UnixMilli(2000))
		require.NoError(t, err)
	}
	router := newTestRouter(t, Config{Service: svc, Sequencer: seq})

	req := httptest.NewRequest(http.MethodGet, "/receivables/balances", nil)
	req.Header.Set(HeaderTenant, "t1")
	req.Header.Set(HeaderClient, "c1")
	req.Header.Set(HeaderRequestTimestamp, "1000")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestOlderRequestArrivingLateIsDiscarded(t *testing.T) {
	seq := receivables.NewMemorySequencer(time.Minute)
	router := newTestRouter(t, Config{Service: &stubService{outcome: sampleOutcome()}, Sequencer: seq})

	send := func(stamp string) int {
		req := httptest.NewRequest(http.MethodGet, "/receivables/balances", nil)
		req.Header.Set(HeaderClient, "c1")
		req.Header.Set(HeaderRequestTimestamp, stamp)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}
	require.Equal(t, http.StatusOK, send("2000"))
	require.Equal(t, http.StatusConflict, send("1000"))
	require.Equal(t, http.StatusOK, send("3000"))
}

func TestSequenceKeyUsesHostWithoutClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/receivables/balances", nil)
	req.Header.Set(HeaderTenant, "t1")
	req.RemoteAddr = "10.0.0.1:51000"
	require.Equal(t, "t1:10.0.0.1:balances", sequenceKey(req, "balances"))

	req.RemoteAddr = "[2001:db8::1]:443"
	require.Equal(t, "t1:2001:db8::1:balances", sequenceKey(req, "balances"))

	req.RemoteAddr = "pipe"
	require.Equal(t, "t1:pipe:balances", sequenceKey(req, "balances"))

	req.Header.Set(HeaderClient, "c1")
	require.Equal(t, "t1:c1:balances", sequenceKey(req, "balances"))
}

func TestOlderRequestFromNewConnectionIsDiscarded(t *testing.T) {
	router := newTestRouter(t, Config{Service: &stubService{outcome: sampleOutcome()}, Sequencer: receivables.NewMemorySequencer(time.Minute)})

	send := func(addr, stamp string) int {
		req := httptest.NewRequest(http.MethodGet, "/receivables/balances", nil)
		req.RemoteAddr = addr
		req.Header.Set(HeaderRequestTimestamp, stamp)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}
	require.Equal(t, http.StatusOK, send("10.0.0.1:1000", "2000"))
	require.Equal(t, http.StatusConflict, send("10.0.0.1:1001", "1000"))
	require.Equal(t, http.StatusOK, send("10.0.0.2:1001", "1000"))
}

func TestInvalidRequestTimestamp(t *testing.T) {
	router := newTestRouter(t, Config{Service: &stubService{outcome: sampleOutcome()}, Sequencer: receivables.NewMemorySequencer(time.Minute)})

	req := httptest.NewRequest(http.MethodGet, "/receivables/balances", nil)
	req.Header.Set(HeaderRequestTimestamp, "yesterday")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPartyLedger(t *testing.T) {
	svc := &stubService{ledger: receivables.PartyLedger{
		Party: receivables.Party{ID: "p1", Name: "Acme"},
		Entries: []receivables.LedgerEntry{
			{SourceID: "s1", PartyID: "p1", Type: receivables.EntryCredit, TransactionType: receivables.LabelSale, Amount: decimal.NewFromInt(1000)},
		},
		Balance: receivables.Balance{PartyID: "p1", TotalCredit: decimal.NewFromInt(1000), TotalDebit: decimal.Zero, Balance: decimal.NewFromInt(1000)},
	}}
	router := newTestRouter(t, Config{Service: svc})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/receivables/parties/p1/ledger", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"netLabel":"Customer Owes"`)
	require.Contains(t, rr.Body.String(), `"transactionType":"Sale"`)
}

func TestPartyLedgerNotFound(t *testing.T) {
	router := newTestRouter(t, Config{Service: &stubService{ledgerErr: receivables.ErrPartyNotFound}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/receivables/parties/zz/ledger", nil))

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEntryDetailSourceUnavailable(t *testing.T) {
	svc := &stubService{detailErr: receivables.Unavailable("sale detail", "/sales/s1", 500, nil)}
	router := newTestRouter(t, Config{Service: svc})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/receivables/entries/sale/s1", nil))

	require.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestEntryDetailNotFound(t *testing.T) {
	svc := &stubService{detailErr: fmt.Errorf("%w: receipt r9", receivables.ErrEntryNotFound)}
	router := newTestRouter(t, Config{Service: svc})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/receivables/entries/receipt/r9", nil))

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBalancesExportXLSX(t *testing.T) {
	router := newTestRouter(t, Config{Service: &stubService{outcome: sampleOutcome()}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/receivables/balances/export.xlsx", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rr.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename="receivables-bulk-20240331-090000.xlsx"`, rr.Header().Get("Content-Disposition"))
	require.True(t, strings.HasPrefix(rr.Body.String(), "PK"))
}

func TestLedgerExportCSV(t *testing.T) {
	svc := &stubService{ledger: receivables.PartyLedger{Party: receivables.Party{ID: "p1", Name: "Acme Traders"}}}
	router := newTestRouter(t, Config{Service: svc})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/receivables/parties/p1/ledger/export.csv", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, `attachment; filename="receivables-acme-traders-20240331-090000.csv"`, rr.Header().Get("Content-Disposition"))
	require.True(t, strings.HasPrefix(rr.Body.String(), "Date,Type,Transaction"))
}

func TestExportsRefuseUnavailableSource(t *testing.T) {
	outcome := sampleOutcome()
	outcome.Origin = receivables.OriginNone
	outcome.Err = receivables.Unavailable("snapshot", "/sales", 503, nil)
	svc := &stubService{
		outcome: outcome,
		ledger: receivables.PartyLedger{
			Party: receivables.Party{ID: "p1", Name: "Acme"},
			Err:   receivables.Unavailable("snapshot", "/sales", 503, nil),
		},
	}
	router := newTestRouter(t, Config{Service: svc})

	for _, target := range []string{
		"/receivables/parties/p1/ledger/export.csv",
		"/receivables/parties/p1/ledger/export.xlsx",
		"/receivables/balances/export.csv",
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadGateway, rr.Code, target)
		require.Empty(t, rr.Header().Get("Content-Disposition"), target)
	}
}

func TestEnqueueExport(t *testing.T) {
	queue := &stubQueue{}
	router := newTestRouter(t, Config{Service: &stubService{}, Queue: queue})

	req := httptest.NewRequest(http.MethodPost, "/receivables/exports", strings.NewReader(`{"company_id":"C1","format":"csv"}`))
	req.Header.Set(HeaderTenant, "t1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, "/jobs/exports/job-1", rr.Header().Get("Location"))
	require.Equal(t, "t1", queue.payload.Tenant)
	require.Equal(t, "C1", queue.payload.CompanyID)
	require.Equal(t, jobs.FormatCSV, queue.payload.Format)
}

func TestEnqueueExportValidation(t *testing.T) {
	router := newTestRouter(t, Config{Service: &stubService{}, Queue: &stubQueue{}})

	for _, body := range []string{`{"format":"pdf"}`, `{"start_date":"2024-02-01","end_date":"2024-01-01"}`, `{"unknown":1}`} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/receivables/exports", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
}

func TestEnqueueExportWithoutQueue(t *testing.T) {
	router := newTestRouter(t, Config{Service: &stubService{}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/receivables/exports", strings.NewReader(`{}`)))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestBalancesRecomputeWhenStoredBalancesHang(t *testing.T) {
	release := make(chan struct{})
	r := chi.NewRouter()
	r.Get("/api/parties", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"_id":"p1","name":"Acme"}]`)
	})
	r.Get("/api/parties/balances", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	r.Get("/api/sales", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"_id":"s1","party":"p1","totalAmount":1000,"paymentMethod":"Credit","date":"2024-01-02"}]`)
	})
	r.Get("/api/receipts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"_id":"r1","party":"p1","amount":400,"date":"2024-01-03"}]`)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := upstream.NewClient(srv.URL+"/api", 300*time.Millisecond, nil, logger)
	svc := receivables.NewService(client, client, logger, nil)
	router := newTestRouter(t, Config{Service: svc, Logger: logger, Timeout: 300 * time.Millisecond})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/receivables/balances", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Origin   string `json:"origin"`
		Fallback string `json:"fallback"`
		Error    string `json:"error"`
		Parties  []struct {
			Balance struct {
				Balance string `json:"balance"`
			} `json:"balance"`
		} `json:"parties"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "recomputed", body.Origin)
	require.NotEmpty(t, body.Fallback)
	require.Empty(t, body.Error)
	require.Len(t, body.Parties, 1)
	require.Equal(t, "600", body.Parties[0].Balance.Balance)
}
