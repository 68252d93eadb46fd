// Package export renders balance views and party ledgers into spreadsheets and CSV files.
// Rendering is read-only: reports are built from values already computed upstream.
package export

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/receivables-ledger/internal/receivables"
)

// TimestampLayout formats the generation time in report bodies.
const TimestampLayout = "2006-01-02 15:04:05 MST"

// BalanceReport is the input of a bulk balances export.
type BalanceReport struct {
	GeneratedAt time.Time
	Window      receivables.Window
	Company     string
	Origin      receivables.Origin
	Parties     []receivables.Party
	Balances    map[string]receivables.Balance
	Totals      receivables.Totals
}

// LedgerReport is the input of a single party ledger export.
type LedgerReport struct {
	GeneratedAt   time.Time
	Window        receivables.Window
	Company       string
	Party         receivables.Party
	Entries       []receivables.LedgerEntry
	Balance       receivables.Balance
	Authoritative *decimal.Decimal
}

// BalanceReportFromOutcome assembles a bulk report from a resolved balance view.
func BalanceReportFromOutcome(out receivables.Outcome, scope receivables.Scope, at time.Time) BalanceReport {
	return BalanceReport{
		GeneratedAt: at,
		Window:      scope.Window,
		Company:     scope.CompanyID,
		Origin:      out.Origin,
		Parties:     out.Parties,
		Balances:    out.Balances,
		Totals:      out.Totals,
	}
}

// LedgerReportFromParty assembles a party report from a resolved party ledger.
func LedgerReportFromParty(ledger receivables.PartyLedger, scope receivables.Scope, at time.Time) LedgerReport {
	return LedgerReport{
		GeneratedAt:   at,
		Window:        scope.Window,
		Company:       scope.CompanyID,
		Party:         ledger.Party,
		Entries:       ledger.Entries,
		Balance:       ledger.Balance,
		Authoritative: ledger.Authoritative,
	}
}

// NetLabel says who owes whom for a net balance. Bulk reports speak of customers in the plural.
func NetLabel(net decimal.Decimal, bulk bool) string {
	switch {
	case net.IsPositive() && bulk:
		return "Customers Owe"
	case net.IsPositive():
		return "Customer Owes"
	case net.IsNegative() && bulk:
		return "Customers In Credit"
	case net.IsNegative():
		return "Customer In Credit"
	default:
		return "Settled"
	}
}

// Filename returns receivables-<slug|bulk>-<YYYYMMDD-HHMMSS>.<ext>. An empty party name
// marks a bulk export.
func Filename(partyName string, at time.Time, ext string) string {
	subject := "bulk"
	if strings.TrimSpace(partyName) != "" {
		subject = Slug(partyName)
	}
	return "receivables-" + subject + "-" + at.Format("20060102-150405") + "." + strings.TrimPrefix(ext, ".")
}

// Slug folds s to lowercase ASCII words joined by dashes.
func Slug(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "party"
	}
	return slug
}

func companyLabel(company string) string {
	if company == "" {
		return "All companies"
	}
	return company
}

func partyName(p receivables.Party) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

func balanceFor(r BalanceReport, partyID string) receivables.Balance {
	if bal, ok := r.Balances[partyID]; ok {
		return bal
	}
	return receivables.Balance{PartyID: partyID, Origin: receivables.OriginNone}
}

func entryColumns(e receivables.LedgerEntry) (credit, debit decimal.Decimal) {
	if e.Type == receivables.EntryCredit {
		return e.Amount, decimal.Zero
	}
	return decimal.Zero, e.Amount
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(receivables.DateLayout)
}
