package upstream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/receivables-ledger/internal/receivables"
)

func TestUnwrapListEnvelopes(t *testing.T) {
	cases := map[string]string{
		"bare":         `[{"_id":"a"},{"_id":"b"}]`,
		"data":         `{"data":[{"_id":"a"},{"_id":"b"}]}`,
		"keyed":        `{"sales":[{"_id":"a"},{"_id":"b"}]}`,
		"entries":      `{"entries":[{"_id":"a"},{"_id":"b"}]}`,
		"data keyed":   `{"data":{"sales":[{"_id":"a"},{"_id":"b"}]}}`,
		"data data":    `{"success":true,"data":{"data":[{"_id":"a"},{"_id":"b"}]}}`,
		"data entries": `{"data":{"entries":[{"_id":"a"},{"_id":"b"}],"total":2}}`,
	}
	for name, body := range cases {
		items, found, err := unwrapList([]byte(body), "sales")
		require.NoError(t, err, name)
		require.True(t, found, name)
		require.Len(t, items, 2, name)
	}
}

func TestUnwrapListWithoutArray(t *testing.T) {
	items, found, err := unwrapList([]byte(`{"message":"ok"}`), "sales")
	require.NoError(t, err)
	require.False(t, found)
	require.Empty(t, items)

	_, _, err = unwrapList([]byte(`<html>`), "sales")
	require.ErrorIs(t, err, errNotJSON)
}

func TestUnwrapObject(t *testing.T) {
	for _, body := range []string{
		`{"_id":"s1","totalAmount":10}`,
		`{"data":{"_id":"s1"}}`,
		`{"data":{"sale":{"_id":"s1"}}}`,
		`{"sale":{"id":"s1"}}`,
	} {
		raw, found, err := unwrapObject([]byte(body), "sale")
		require.NoError(t, err, body)
		require.True(t, found, body)
		var w saleWire
		require.NoError(t, json.Unmarshal(raw, &w))
		require.Equal(t, "s1", w.sale(time.UTC).ID, body)
	}

	_, found, err := unwrapObject([]byte(`{"data":{}}`), "sale")
	require.NoError(t, err)
	require.False(t, found)
}

func TestUnwrapBalances(t *testing.T) {
	for _, body := range []string{
		`{"balances":{"p1":600,"p2":"-40.5"}}`,
		`{"data":{"balances":{"p1":600,"p2":"-40.5"}}}`,
		`{"data":{"p1":600,"p2":"-40.5"}}`,
		`{"p1":600,"p2":"-40.5"}`,
	} {
		got, found, err := unwrapBalances([]byte(body))
		require.NoError(t, err, body)
		require.True(t, found, body)
		require.True(t, got["p1"].value.Equal(decimal.NewFromInt(600)), body)
		require.True(t, got["p2"].value.Equal(decimal.RequireFromString("-40.5")), body)
	}

	for _, body := range []string{
		`{"status":"ok","balances":"n/a"}`,
		`{}`,
		`{"error":null}`,
		`{"data":{}}`,
		`{"data":{"p1":null}}`,
	} {
		_, found, err := unwrapBalances([]byte(body))
		require.NoError(t, err, body)
		require.False(t, found, body)
	}

	// an explicit balances key may legitimately be empty
	got, found, err := unwrapBalances([]byte(`{"balances":{}}`))
	require.NoError(t, err)
	require.True(t, found)
	require.Empty(t, got)
}

func TestSaleWireTolerance(t *testing.T) {
	body := `{
		"_id": 42,
		"invoiceDate": "2024-01-05T10:00:00.000Z",
		"party": {"_id": "p1", "name": "Acme"},
		"companyId": "C1",
		"amount": "1,250.50",
		"paymentMethod": "Credit",
		"invoiceNumber": "INV-7",
		"gstType": "igst",
		"products": [{"product": {"_id": "x", "name": "Widget"}, "qty": 2, "pricePerUnit": "500", "gstPercentage": 18, "hsn": "8471"}],
		"services": [{"service": {"name": "Setup"}, "amount": 250.5, "lineTax": null}]
	}`
	var w saleWire
	require.NoError(t, json.Unmarshal([]byte(body), &w))
	sale := w.sale(time.UTC)

	require.Equal(t, "42", sale.ID)
	require.Equal(t, time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC), sale.Date.UTC())
	require.Equal(t, "p1", sale.Party.ID)
	require.Equal(t, "Acme", sale.Party.Name)
	require.Equal(t, "C1", sale.Company.ID)
	require.True(t, sale.Total.Equal(decimal.RequireFromString("1250.5")))
	require.Equal(t, "INV-7", sale.Reference)
	require.True(t, sale.InterState)
	require.Len(t, sale.Items, 2)
	require.Equal(t, "Widget", sale.Items[0].Name)
	require.Equal(t, "product", sale.Items[0].Kind)
	require.Equal(t, "8471", sale.Items[0].Code)
	require.True(t, sale.Items[0].Rate.Equal(decimal.NewFromInt(500)))
	require.Equal(t, "Setup", sale.Items[1].Name)
	require.True(t, sale.Items[1].TaxAmount.IsZero())
}

func TestReceiptWireTolerance(t *testing.T) {
	var w receiptWire
	require.NoError(t, json.Unmarshal([]byte(`{"id":"r1","date":1704448800000,"partyId":{"id":7},"amount":null,"referenceNumber":"TX-1"}`), &w))
	receipt := w.receipt(time.UTC)

	require.Equal(t, "r1", receipt.ID)
	require.Equal(t, time.UnixMilli(1704448800000).UTC(), receipt.Date)
	require.Equal(t, "7", receipt.Party.ID)
	require.True(t, receipt.Amount.IsZero())
	require.Equal(t, "TX-1", receipt.Reference)
}

func TestParseTimeFallsBackToZero(t *testing.T) {
	require.True(t, parseTime([]byte(`"yesterday"`), time.UTC).IsZero())
	require.True(t, parseTime([]byte(`null`), time.UTC).IsZero())
	require.True(t, parseTime(nil, time.UTC).IsZero())
	require.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), parseTime([]byte(`"2024-02-01"`), nil))
}

func TestParseTimeReadsZonelessValuesInLedgerLocation(t *testing.T) {
	west := time.FixedZone("UTC-5", -5*3600)

	cases := map[string]time.Time{
		`"2024-02-01"`:          time.Date(2024, 2, 1, 0, 0, 0, 0, west),
		`"2024-02-01 18:30:00"`: time.Date(2024, 2, 1, 18, 30, 0, 0, west),
		`"2024-02-01T18:30:00"`: time.Date(2024, 2, 1, 18, 30, 0, 0, west),
	}
	for raw, want := range cases {
		got := parseTime([]byte(raw), west)
		require.True(t, want.Equal(got), raw)
		require.Equal(t, west, got.Location(), raw)
	}

	// an explicit zone wins over the ledger location
	zoned := parseTime([]byte(`"2024-02-01T00:00:00Z"`), west)
	require.True(t, zoned.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))

	// a sale dated the first of February stays out of a January window
	window, err := receivables.ParseWindow("2024-01-01", "2024-01-31", west)
	require.NoError(t, err)
	var w saleWire
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"s1","party":"p1","date":"2024-02-01","totalAmount":10}`), &w))
	require.False(t, window.Contains(w.sale(west).Date))
	require.True(t, window.Contains(w.sale(time.UTC).Date))
}
