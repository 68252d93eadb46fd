package export

import (
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/receivables-ledger/internal/receivables"
)

// Sheet names used by the XLSX exports.
const (
	BalancesSheet = "Balances"
	LedgerSheet   = "Ledger"
)

const amountFormat = 4 // #,##0.00

type styles struct {
	title, meta, header, even, odd, amountEven, amountOdd, summary, summaryAmount int
}

// sheet writes rows top to bottom and keeps the first error it meets.
type sheet struct {
	f      *excelize.File
	name   string
	row    int
	width  int
	styles styles
	err    error
}

func newSheet(name string, width int) (*sheet, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", name); err != nil {
		_ = f.Close()
		return nil, err
	}
	s := &sheet{f: f, name: name, row: 1, width: width}
	if err := s.buildStyles(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (s *sheet) buildStyles() error {
	border := []excelize.Border{{Type: "bottom", Color: "#BFBFBF", Style: 1}}
	defs := []struct {
		target *int
		style  *excelize.Style
	}{
		{&s.styles.title, &excelize.Style{Font: &excelize.Font{Bold: true, Size: 14, Color: "#1F3864"}}},
		{&s.styles.meta, &excelize.Style{Font: &excelize.Font{Italic: true, Color: "#595959"}}},
		{&s.styles.header, &excelize.Style{
			Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
			Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#1F3864"}},
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		}},
		{&s.styles.even, &excelize.Style{Border: border}},
		{&s.styles.odd, &excelize.Style{Border: border, Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#F2F2F2"}}}},
		{&s.styles.amountEven, &excelize.Style{Border: border, NumFmt: amountFormat}},
		{&s.styles.amountOdd, &excelize.Style{Border: border, NumFmt: amountFormat, Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#F2F2F2"}}}},
		{&s.styles.summary, &excelize.Style{
			Font: &excelize.Font{Bold: true},
			Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
		}},
		{&s.styles.summaryAmount, &excelize.Style{
			Font:   &excelize.Font{Bold: true},
			Fill:   excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
			NumFmt: amountFormat,
		}},
	}
	for _, def := range defs {
		id, err := s.f.NewStyle(def.style)
		if err != nil {
			return err
		}
		*def.target = id
	}
	return nil
}

func (s *sheet) cell(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil && s.err == nil {
		s.err = err
	}
	return name
}

func (s *sheet) set(col int, value any, style int) {
	if s.err != nil {
		return
	}
	ref := s.cell(col, s.row)
	if s.err != nil {
		return
	}
	if err := s.f.SetCellValue(s.name, ref, value); err != nil {
		s.err = err
		return
	}
	if style != 0 {
		if err := s.f.SetCellStyle(s.name, ref, ref, style); err != nil {
			s.err = err
		}
	}
}

func (s *sheet) title(text string) {
	s.set(1, text, s.styles.title)
	if s.err == nil {
		s.err = s.f.MergeCell(s.name, s.cell(1, s.row), s.cell(s.width, s.row))
	}
	s.row++
}

func (s *sheet) meta(label, value string) {
	s.set(1, label, s.styles.meta)
	s.set(2, value, s.styles.meta)
	s.row++
}

func (s *sheet) header(columns ...string) {
	for i, column := range columns {
		s.set(i+1, column, s.styles.header)
	}
	s.row++
}

// dataRow writes values with alternating fills; decimals are written as numbers.
func (s *sheet) dataRow(index int, values ...any) {
	text, amount := s.styles.even, s.styles.amountEven
	if index%2 == 1 {
		text, amount = s.styles.odd, s.styles.amountOdd
	}
	for i, v := range values {
		if d, ok := v.(decimal.Decimal); ok {
			s.set(i+1, d.InexactFloat64(), amount)
			continue
		}
		s.set(i+1, v, text)
	}
	s.row++
}

func (s *sheet) summary(label string, value any, note string) {
	s.set(1, label, s.styles.summary)
	if d, ok := value.(decimal.Decimal); ok {
		s.set(2, d.InexactFloat64(), s.styles.summaryAmount)
	} else {
		s.set(2, value, s.styles.summary)
	}
	if note != "" {
		s.set(3, note, s.styles.summary)
	}
	s.row++
}

func (s *sheet) blank() { s.row++ }

func (s *sheet) columns(widths ...float64) {
	for i, width := range widths {
		if s.err != nil {
			return
		}
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			s.err = err
			return
		}
		s.err = s.f.SetColWidth(s.name, col, col, width)
	}
}

func (s *sheet) freezeBelow(row int) {
	if s.err != nil {
		return
	}
	s.err = s.f.SetPanes(s.name, &excelize.Panes{
		Freeze:      true,
		YSplit:      row,
		TopLeftCell: s.cell(1, row+1),
		ActivePane:  "bottomLeft",
	})
}

func (s *sheet) flush(w io.Writer) error {
	defer func() { _ = s.f.Close() }()
	if s.err != nil {
		return s.err
	}
	return s.f.Write(w)
}

// WriteBalancesXLSX renders the bulk balances report.
func WriteBalancesXLSX(w io.Writer, r BalanceReport) error {
	s, err := newSheet(BalancesSheet, 6)
	if err != nil {
		return receivables.ExportFailure("init balances workbook", err)
	}
	s.title("Receivables Balances")
	s.meta("Generated at", r.GeneratedAt.Format(TimestampLayout))
	s.meta("Period", r.Window.Label())
	s.meta("Company", companyLabel(r.Company))
	s.meta("Source", originLabel(r.Origin))
	s.blank()
	headerRow := s.row
	s.header("#", "Party", "Contact", "Total Credit", "Total Debit", "Balance")
	for i, party := range r.Parties {
		bal := balanceFor(r, party.ID)
		s.dataRow(i, i+1, partyName(party), party.ContactNumber, bal.TotalCredit, bal.TotalDebit, bal.Balance)
	}
	s.blank()
	s.summary("Parties", r.Totals.Parties, "")
	s.summary("Total Credit", r.Totals.TotalCredit, "")
	s.summary("Total Debit", r.Totals.TotalDebit, "")
	s.summary("Net Balance", r.Totals.Balance, NetLabel(r.Totals.Balance, true))
	s.columns(6, 32, 18, 16, 16, 16)
	s.freezeBelow(headerRow)
	if err := s.flush(w); err != nil {
		return receivables.ExportFailure("write balances workbook", err)
	}
	return nil
}

// WriteLedgerXLSX renders one party's ledger.
func WriteLedgerXLSX(w io.Writer, r LedgerReport) error {
	s, err := newSheet(LedgerSheet, 8)
	if err != nil {
		return receivables.ExportFailure("init ledger workbook", err)
	}
	s.title("Ledger: " + partyName(r.Party))
	s.meta("Generated at", r.GeneratedAt.Format(TimestampLayout))
	s.meta("Period", r.Window.Label())
	s.meta("Company", companyLabel(r.Company))
	if r.Party.ContactNumber != "" {
		s.meta("Contact", r.Party.ContactNumber)
	}
	s.blank()
	headerRow := s.row
	s.header("Date", "Type", "Transaction", "Payment Method", "Reference", "Description", "Credit", "Debit")
	credits, debits := 0, 0
	for i, entry := range r.Entries {
		credit, debit := entryColumns(entry)
		if entry.Type == receivables.EntryCredit {
			credits++
		} else {
			debits++
		}
		s.dataRow(i, formatDate(entry.Date), string(entry.Type), entry.TransactionType,
			entry.PaymentMethod, entry.Reference, entry.Description, credit, debit)
	}
	s.blank()
	s.summary("Entries", len(r.Entries), strconv.Itoa(credits)+" credit / "+strconv.Itoa(debits)+" debit")
	s.summary("Total Credit", r.Balance.TotalCredit, "")
	s.summary("Total Debit", r.Balance.TotalDebit, "")
	s.summary("Net Balance", r.Balance.Balance, NetLabel(r.Balance.Balance, false))
	if r.Authoritative != nil {
		note := ""
		if !r.Authoritative.Equal(r.Balance.Balance) {
			note = fmt.Sprintf("differs by %s", r.Authoritative.Sub(r.Balance.Balance).StringFixed(2))
		}
		s.summary("Stored Balance", *r.Authoritative, note)
	}
	s.columns(12, 10, 16, 16, 18, 36, 14, 14)
	s.freezeBelow(headerRow)
	if err := s.flush(w); err != nil {
		return receivables.ExportFailure("write ledger workbook", err)
	}
	return nil
}

func originLabel(origin receivables.Origin) string {
	switch origin {
	case receivables.OriginAuthoritative:
		return "Stored balances"
	case receivables.OriginRecomputed:
		return "Recomputed from transactions"
	default:
		return "Unavailable"
	}
}
