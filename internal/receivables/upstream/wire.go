package upstream

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/receivables-ledger/internal/receivables"
)

// The upstream backend is not under our control: ids arrive as strings or numbers, references
// as ids or embedded documents, amounts as numbers, strings or null. Decoders below never fail
// on a single malformed field; they leave it unset instead.

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	receivables.DateLayout,
}

type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	*f = flexID(scalarString(data))
	return nil
}

type flexRef receivables.Ref

func (f *flexRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		*f = flexRef{ID: scalarString(data)}
		return nil
	}
	var doc struct {
		MongoID flexID `json:"_id"`
		ID      flexID `json:"id"`
		Name    string `json:"name"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		*f = flexRef{}
		return nil
	}
	*f = flexRef{ID: firstString(string(doc.MongoID), string(doc.ID)), Name: doc.Name}
	return nil
}

func (f flexRef) ref() receivables.Ref { return receivables.Ref(f) }

// flexTime keeps the raw value; zone-less forms are resolved against the ledger location.
type flexTime []byte

func (f *flexTime) UnmarshalJSON(data []byte) error {
	*f = append((*f)[:0], data...)
	return nil
}

func (f flexTime) in(loc *time.Location) time.Time {
	return parseTime(f, loc)
}

// parseTime reads unix milliseconds or one of timeLayouts. Text without a zone is read in loc.
func parseTime(data []byte, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return time.Time{}
	}
	if data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil || ms <= 0 {
			return time.Time{}
		}
		return time.UnixMilli(ms).UTC()
	}
	s := strings.TrimSpace(scalarString(data))
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

type flexAmount struct {
	value decimal.Decimal
	valid bool
}

func (f *flexAmount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(scalarString(data))
	if s == "" {
		*f = flexAmount{}
		return nil
	}
	v, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		*f = flexAmount{}
		return nil
	}
	*f = flexAmount{value: v, valid: true}
	return nil
}

type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	b, err := strconv.ParseBool(strings.TrimSpace(scalarString(data)))
	*f = flexBool(err == nil && b)
	return nil
}

// scalarString renders a JSON scalar as a plain string; null and non-scalars become "".
func scalarString(data []byte) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ""
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ""
		}
		return s
	case '{', '[', 'n':
		return ""
	default:
		return string(data)
	}
}

func firstString(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstRef(refs ...flexRef) receivables.Ref {
	for _, r := range refs {
		if r.ID != "" {
			return r.ref()
		}
	}
	return receivables.Ref{}
}

func firstTime(loc *time.Location, times ...flexTime) time.Time {
	for _, raw := range times {
		if t := raw.in(loc); !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

// firstAmount returns the first present amount, defaulting to zero.
func firstAmount(amounts ...flexAmount) decimal.Decimal {
	for _, a := range amounts {
		if a.valid {
			return a.value
		}
	}
	return decimal.Zero
}

type partyWire struct {
	MongoID       flexID  `json:"_id"`
	ID            flexID  `json:"id"`
	Name          string  `json:"name"`
	ContactNumber string  `json:"contactNumber"`
	Phone         string  `json:"phone"`
	Company       flexRef `json:"company"`
	CompanyID     flexRef `json:"companyId"`
}

func (w partyWire) party() receivables.Party {
	return receivables.Party{
		ID:            firstString(string(w.MongoID), string(w.ID)),
		Name:          w.Name,
		ContactNumber: firstString(w.ContactNumber, w.Phone),
		Company:       firstRef(w.Company, w.CompanyID),
	}
}

type itemWire struct {
	Name          string     `json:"name"`
	Product       flexRef    `json:"product"`
	Service       flexRef    `json:"service"`
	Description   string     `json:"description"`
	Quantity      flexAmount `json:"quantity"`
	Qty           flexAmount `json:"qty"`
	Rate          flexAmount `json:"rate"`
	Price         flexAmount `json:"price"`
	PricePerUnit  flexAmount `json:"pricePerUnit"`
	UnitPrice     flexAmount `json:"unitPrice"`
	GSTPercentage flexAmount `json:"gstPercentage"`
	TaxRate       flexAmount `json:"taxRate"`
	Amount        flexAmount `json:"amount"`
	LineTotal     flexAmount `json:"lineTotal"`
	LineTax       flexAmount `json:"lineTax"`
	TaxAmount     flexAmount `json:"taxAmount"`
	HSN           string     `json:"hsn"`
	HSNCode       string     `json:"hsnCode"`
	SAC           string     `json:"sac"`
	SACCode       string     `json:"sacCode"`
}

func (w itemWire) item(kind string) receivables.LineItem {
	return receivables.LineItem{
		Name:      firstString(w.Name, w.Product.Name, w.Service.Name, w.Description),
		Code:      firstString(w.HSN, w.HSNCode, w.SAC, w.SACCode),
		Kind:      kind,
		Quantity:  firstAmount(w.Quantity, w.Qty),
		Rate:      firstAmount(w.Rate, w.PricePerUnit, w.UnitPrice, w.Price),
		TaxRate:   firstAmount(w.GSTPercentage, w.TaxRate),
		Amount:    firstAmount(w.Amount, w.LineTotal),
		TaxAmount: firstAmount(w.TaxAmount, w.LineTax),
	}
}

type saleWire struct {
	MongoID         flexID     `json:"_id"`
	ID              flexID     `json:"id"`
	Date            flexTime   `json:"date"`
	InvoiceDate     flexTime   `json:"invoiceDate"`
	CreatedAt       flexTime   `json:"createdAt"`
	Party           flexRef    `json:"party"`
	PartyID         flexRef    `json:"partyId"`
	Company         flexRef    `json:"company"`
	CompanyID       flexRef    `json:"companyId"`
	TotalAmount     flexAmount `json:"totalAmount"`
	Amount          flexAmount `json:"amount"`
	InvoiceTotal    flexAmount `json:"invoiceTotal"`
	PaymentMethod   string     `json:"paymentMethod"`
	InvoiceNumber   string     `json:"invoiceNumber"`
	ReferenceNumber string     `json:"referenceNumber"`
	Reference       string     `json:"reference"`
	Description     string     `json:"description"`
	InterState      flexBool   `json:"interState"`
	GSTType         string     `json:"gstType"`
	Items           []itemWire `json:"items"`
	Products        []itemWire `json:"products"`
	Services        []itemWire `json:"services"`
}

func (w saleWire) sale(loc *time.Location) receivables.Sale {
	items := make([]receivables.LineItem, 0, len(w.Items)+len(w.Products)+len(w.Services))
	for _, it := range w.Items {
		items = append(items, it.item(""))
	}
	for _, it := range w.Products {
		items = append(items, it.item("product"))
	}
	for _, it := range w.Services {
		items = append(items, it.item("service"))
	}
	return receivables.Sale{
		ID:            firstString(string(w.MongoID), string(w.ID)),
		Date:          firstTime(loc, w.Date, w.InvoiceDate, w.CreatedAt),
		Party:         firstRef(w.Party, w.PartyID),
		Company:       firstRef(w.Company, w.CompanyID),
		Total:         firstAmount(w.TotalAmount, w.Amount, w.InvoiceTotal),
		PaymentMethod: w.PaymentMethod,
		Reference:     firstString(w.InvoiceNumber, w.ReferenceNumber, w.Reference),
		Description:   w.Description,
		InterState:    bool(w.InterState) || strings.EqualFold(w.GSTType, "IGST"),
		Items:         items,
	}
}

type receiptWire struct {
	MongoID         flexID     `json:"_id"`
	ID              flexID     `json:"id"`
	Date            flexTime   `json:"date"`
	CreatedAt       flexTime   `json:"createdAt"`
	Party           flexRef    `json:"party"`
	PartyID         flexRef    `json:"partyId"`
	Company         flexRef    `json:"company"`
	CompanyID       flexRef    `json:"companyId"`
	Amount          flexAmount `json:"amount"`
	PaymentMethod   string     `json:"paymentMethod"`
	ReferenceNumber string     `json:"referenceNumber"`
	Reference       string     `json:"reference"`
	Description     string     `json:"description"`
}

func (w receiptWire) receipt(loc *time.Location) receivables.Receipt {
	return receivables.Receipt{
		ID:            firstString(string(w.MongoID), string(w.ID)),
		Date:          firstTime(loc, w.Date, w.CreatedAt),
		Party:         firstRef(w.Party, w.PartyID),
		Company:       firstRef(w.Company, w.CompanyID),
		Amount:        firstAmount(w.Amount),
		PaymentMethod: w.PaymentMethod,
		Reference:     firstString(w.ReferenceNumber, w.Reference),
		Description:   w.Description,
	}
}
