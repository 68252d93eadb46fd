package receivables

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType distinguishes the two ledger columns.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// Transaction type labels shown on ledger rows.
const (
	LabelSale         = "Sale"
	LabelSalesPayment = "Sales Payment"
	LabelReceipt      = "Receipt"
)

// PaymentMethodCredit marks a sale that stays outstanding until a receipt settles it.
const PaymentMethodCredit = "Credit"

// Origin records where a Balance came from.
type Origin string

const (
	OriginAuthoritative Origin = "authoritative"
	OriginRecomputed    Origin = "recomputed"
	OriginNone          Origin = "none"
)

// TransactionKind identifies the raw record a ledger entry came from.
type TransactionKind string

const (
	KindSale    TransactionKind = "sale"
	KindReceipt TransactionKind = "receipt"
)

// Ref points at a party or company. Upstream payloads carry either a bare id or an embedded object.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// IsZero reports whether the reference carries no identifier.
func (r Ref) IsZero() bool {
	return r.ID == ""
}

// Party is a customer tracked by the ledger.
type Party struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContactNumber string `json:"contactNumber,omitempty"`
	Company       Ref    `json:"company"`
}

// LineItem is one product or service row on a sale.
type LineItem struct {
	Name      string          `json:"name"`
	Code      string          `json:"code,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
	Rate      decimal.Decimal `json:"rate"`
	TaxRate   decimal.Decimal `json:"taxRate"`
	Amount    decimal.Decimal `json:"amount"`
	TaxAmount decimal.Decimal `json:"taxAmount"`
}

// Sale is an invoice raised against a party.
type Sale struct {
	ID            string
	Date          time.Time
	Party         Ref
	Company       Ref
	Total         decimal.Decimal
	PaymentMethod string
	Reference     string
	Description   string
	InterState    bool
	Items         []LineItem
}

// Receipt is money received from a party.
type Receipt struct {
	ID            string
	Date          time.Time
	Party         Ref
	Company       Ref
	Amount        decimal.Decimal
	PaymentMethod string
	Reference     string
	Description   string
}

// Snapshot groups the raw records fetched for one computation.
type Snapshot struct {
	Sales    []Sale
	Receipts []Receipt
}

// LedgerEntry is a single derived posting. Entries are recomputed on every query.
type LedgerEntry struct {
	SourceID        string          `json:"sourceId"`
	SourceKind      TransactionKind `json:"sourceKind"`
	PartyID         string          `json:"partyId"`
	Date            time.Time       `json:"date"`
	Type            EntryType       `json:"type"`
	TransactionType string          `json:"transactionType"`
	PaymentMethod   string          `json:"paymentMethod,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Reference       string          `json:"reference,omitempty"`
	Description     string          `json:"description,omitempty"`
}

// Balance is the running position of one party.
type Balance struct {
	PartyID     string          `json:"partyId"`
	TotalCredit decimal.Decimal `json:"totalCredit"`
	TotalDebit  decimal.Decimal `json:"totalDebit"`
	Balance     decimal.Decimal `json:"balance"`
	Origin      Origin          `json:"origin"`
}

// Totals aggregates balances across every party in scope.
type Totals struct {
	Parties     int             `json:"parties"`
	TotalCredit decimal.Decimal `json:"totalCredit"`
	TotalDebit  decimal.Decimal `json:"totalDebit"`
	Balance     decimal.Decimal `json:"balance"`
}

// TaxSplit is the generic GST breakdown of a tax amount.
type TaxSplit struct {
	CGST decimal.Decimal `json:"cgst"`
	SGST decimal.Decimal `json:"sgst"`
	IGST decimal.Decimal `json:"igst"`
}

// EntryDetail expands a ledger entry with the line items of its source transaction.
type EntryDetail struct {
	Kind          TransactionKind `json:"kind"`
	ID            string          `json:"id"`
	Date          time.Time       `json:"date"`
	PartyID       string          `json:"partyId"`
	PartyName     string          `json:"partyName,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
	Description   string          `json:"description,omitempty"`
	Items         []LineItem      `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           TaxSplit        `json:"tax"`
	Total         decimal.Decimal `json:"total"`
}
