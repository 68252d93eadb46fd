package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/receivables-ledger/internal/receivables"
)

// WriteBalancesCSV serialises a bulk balances report to CSV.
func WriteBalancesCSV(w io.Writer, r BalanceReport) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"Party ID", "Party", "Contact", "Total Credit", "Total Debit", "Balance", "Origin"}); err != nil {
		return receivables.ExportFailure("write balances csv", err)
	}
	for _, party := range r.Parties {
		bal := balanceFor(r, party.ID)
		if err := writer.Write([]string{
			party.ID,
			party.Name,
			party.ContactNumber,
			formatAmount(bal.TotalCredit),
			formatAmount(bal.TotalDebit),
			formatAmount(bal.Balance),
			string(bal.Origin),
		}); err != nil {
			return receivables.ExportFailure("write balances csv", err)
		}
	}
	if err := writer.Write([]string{
		"", "Total (" + strconv.Itoa(r.Totals.Parties) + " parties)", "",
		formatAmount(r.Totals.TotalCredit),
		formatAmount(r.Totals.TotalDebit),
		formatAmount(r.Totals.Balance),
		NetLabel(r.Totals.Balance, true),
	}); err != nil {
		return receivables.ExportFailure("write balances csv", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return receivables.ExportFailure("write balances csv", err)
	}
	return nil
}

// WriteLedgerCSV emits one party's ledger as CSV.
func WriteLedgerCSV(w io.Writer, r LedgerReport) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Date", "Type", "Transaction", "Payment Method", "Reference", "Description", "Credit", "Debit"}); err != nil {
		return receivables.ExportFailure("write ledger csv", err)
	}
	for _, entry := range r.Entries {
		credit, debit := entryColumns(entry)
		if err := writer.Write([]string{
			formatDate(entry.Date),
			string(entry.Type),
			entry.TransactionType,
			entry.PaymentMethod,
			entry.Reference,
			entry.Description,
			formatAmount(credit),
			formatAmount(debit),
		}); err != nil {
			return receivables.ExportFailure("write ledger csv", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return receivables.ExportFailure("write ledger csv", err)
	}
	return nil
}

func formatAmount(v decimal.Decimal) string {
	return v.StringFixed(2)
}
