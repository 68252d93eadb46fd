// Package receivableshttp exposes the receivables ledger over HTTP.
package receivableshttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/receivables-ledger/jobs"
)

// MountRoutes registers receivables endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(10, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Route("/receivables", func(r chi.Router) {
		r.Get("/balances", h.handleBalances)
		r.Get("/parties/{partyID}/ledger", h.handlePartyLedger)
		r.Get("/entries/{kind}/{id}", h.handleEntryDetail)
		r.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Get("/balances/export.xlsx", h.handleBalancesExport(jobs.FormatXLSX))
			gr.Get("/balances/export.csv", h.handleBalancesExport(jobs.FormatCSV))
			gr.Get("/parties/{partyID}/ledger/export.xlsx", h.handleLedgerExport(jobs.FormatXLSX))
			gr.Get("/parties/{partyID}/ledger/export.csv", h.handleLedgerExport(jobs.FormatCSV))
			gr.Post("/exports", h.handleEnqueueExport)
		})
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if tenant := strings.TrimSpace(r.Header.Get(HeaderTenant)); tenant != "" {
		if client := strings.TrimSpace(r.Header.Get(HeaderClient)); client != "" {
			return "client:" + tenant + ":" + client, nil
		}
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
