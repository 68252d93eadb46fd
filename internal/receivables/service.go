package receivables

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Service exposes the ledger computations consumed by the HTTP layer and export jobs.
type Service struct {
	source       Source
	balances     BalanceSource
	orchestrator *Orchestrator
	logger       *slog.Logger
	now          func() time.Time
	authTimeout  time.Duration
}

// NewService wires a Source, an optional authoritative BalanceSource and a metrics Recorder.
func NewService(source Source, balances BalanceSource, logger *slog.Logger, metrics Recorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source:       source,
		balances:     balances,
		orchestrator: NewOrchestrator(source, balances, logger, metrics),
		logger:       logger,
		now:          time.Now,
	}
}

// WithNow overrides the service clock for testing.
func (s *Service) WithNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
		s.orchestrator.now = fn
	}
}

// WithAuthoritativeTimeout caps how long a stored-balance lookup may take before the
// recompute tier takes over. Zero leaves only the half-deadline bound.
func (s *Service) WithAuthoritativeTimeout(d time.Duration) {
	s.authTimeout = d
	s.orchestrator.authTimeout = d
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time {
	return s.now()
}

// Balances resolves every party's balance within scope.
func (s *Service) Balances(ctx context.Context, cred Credential, scope Scope) Outcome {
	return s.orchestrator.Run(ctx, cred, scope)
}

// PartyLedger is the chronological ledger of one party.
type PartyLedger struct {
	Party   Party         `json:"party"`
	Window  Window        `json:"-"`
	Entries []LedgerEntry `json:"entries"`
	Balance Balance       `json:"balance"`
	// Authoritative is the stored balance, when the source of record could be reached.
	// It may differ from Balance when the source applies adjustments the replay cannot see.
	Authoritative *decimal.Decimal `json:"authoritative,omitempty"`
	Err           error            `json:"-"`
}

// PartyLedger replays the transactions of one party within scope. A failing source yields an
// empty ledger with Err set rather than an error.
func (s *Service) PartyLedger(ctx context.Context, cred Credential, partyID string, scope Scope) (PartyLedger, error) {
	partyID = strings.TrimSpace(partyID)
	if partyID == "" {
		return PartyLedger{}, fmt.Errorf("%w: party id required", ErrInvalidScope)
	}
	ledger := PartyLedger{
		Party:   Party{ID: partyID},
		Window:  scope.Window,
		Entries: []LedgerEntry{},
		Balance: Balance{PartyID: partyID, TotalCredit: decimal.Zero, TotalDebit: decimal.Zero, Balance: decimal.Zero, Origin: OriginNone},
	}

	parties, err := s.source.Parties(ctx, cred)
	switch {
	case err != nil:
		s.logger.Warn("party ledger: list parties", slog.String("party_id", partyID), slog.Any("error", err))
	default:
		party, ok := findParty(parties, partyID)
		if !ok {
			return PartyLedger{}, fmt.Errorf("%w: %s", ErrPartyNotFound, partyID)
		}
		ledger.Party = party
	}

	snap, err := s.source.Snapshot(ctx, cred, scope.CompanyID)
	if err != nil {
		s.logger.Warn("party ledger: snapshot", slog.String("party_id", partyID), slog.Any("error", err))
		ledger.Err = err
		return ledger, nil
	}
	entries := ClassifyParty(scope.Apply(snap), partyID)
	SortLedger(entries)
	if entries != nil {
		ledger.Entries = entries
	}
	ledger.Balance = Aggregate(entries)
	ledger.Balance.PartyID = partyID

	if s.balances != nil && !scope.Window.Bounded() {
		authCtx, cancel := authoritativeContext(ctx, s.authTimeout)
		stored, err := s.balances.StoredBalances(authCtx, cred, scope.CompanyID)
		cancel()
		if err != nil {
			s.logger.Warn("party ledger: stored balance", slog.String("party_id", partyID), slog.Any("error", err))
		} else if v, ok := stored[partyID]; ok {
			ledger.Authoritative = &v
		}
	}
	return ledger, nil
}

// EntryDetail expands the sale or receipt behind a ledger entry.
func (s *Service) EntryDetail(ctx context.Context, cred Credential, kind TransactionKind, id string) (EntryDetail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return EntryDetail{}, fmt.Errorf("%w: transaction id required", ErrInvalidScope)
	}
	switch kind {
	case KindSale:
		sale, err := s.source.SaleDetail(ctx, cred, id)
		if err != nil {
			return EntryDetail{}, err
		}
		return SaleDetail(sale), nil
	case KindReceipt:
		receipt, err := s.source.ReceiptDetail(ctx, cred, id)
		if err != nil {
			return EntryDetail{}, err
		}
		return ReceiptDetail(receipt), nil
	default:
		return EntryDetail{}, fmt.Errorf("%w: unknown transaction kind %q", ErrInvalidScope, kind)
	}
}

// SaleDetail builds the line-item breakdown of a sale.
func SaleDetail(sale Sale) EntryDetail {
	subtotal := decimal.Zero
	tax := decimal.Zero
	items := make([]LineItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		if item.Amount.IsZero() && !item.Quantity.IsZero() {
			item.Amount = item.Quantity.Mul(item.Rate)
		}
		if item.TaxAmount.IsZero() && item.TaxRate.IsPositive() {
			item.TaxAmount = item.Amount.Mul(item.TaxRate).Div(hundred).Round(2)
		}
		subtotal = subtotal.Add(item.Amount)
		tax = tax.Add(item.TaxAmount)
		items = append(items, item)
	}
	total := sale.Total
	if total.IsZero() {
		total = subtotal.Add(tax)
	}
	return EntryDetail{
		Kind:          KindSale,
		ID:            sale.ID,
		Date:          sale.Date,
		PartyID:       sale.Party.ID,
		PartyName:     sale.Party.Name,
		Reference:     sale.Reference,
		PaymentMethod: sale.PaymentMethod,
		Description:   sale.Description,
		Items:         items,
		Subtotal:      subtotal,
		Tax:           SplitGST(tax, sale.InterState),
		Total:         total,
	}
}

// ReceiptDetail describes a receipt. Receipts carry no line items.
func ReceiptDetail(receipt Receipt) EntryDetail {
	return EntryDetail{
		Kind:          KindReceipt,
		ID:            receipt.ID,
		Date:          receipt.Date,
		PartyID:       receipt.Party.ID,
		PartyName:     receipt.Party.Name,
		Reference:     receipt.Reference,
		PaymentMethod: receipt.PaymentMethod,
		Description:   receipt.Description,
		Items:         []LineItem{},
		Subtotal:      receipt.Amount,
		Tax:           SplitGST(decimal.Zero, false),
		Total:         receipt.Amount,
	}
}

// SplitGST divides a tax amount into CGST and SGST halves for intra-state supply,
// or assigns it wholly to IGST for inter-state supply.
func SplitGST(tax decimal.Decimal, interState bool) TaxSplit {
	if interState {
		return TaxSplit{CGST: decimal.Zero, SGST: decimal.Zero, IGST: tax}
	}
	cgst := tax.Div(two).Round(2)
	return TaxSplit{CGST: cgst, SGST: tax.Sub(cgst), IGST: decimal.Zero}
}

func findParty(parties []Party, id string) (Party, bool) {
	for _, party := range parties {
		if party.ID == id {
			return party, true
		}
	}
	return Party{}, false
}
