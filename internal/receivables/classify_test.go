package receivables

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestClassifySaleOnCredit(t *testing.T) {
	entries := ClassifySale(Sale{ID: "s1", Party: Ref{ID: "p1"}, Total: decimal.NewFromInt(1000), PaymentMethod: "Credit"})
	require.Len(t, entries, 1)
	require.Equal(t, EntryCredit, entries[0].Type)
	require.Equal(t, LabelSale, entries[0].TransactionType)
	require.Equal(t, "p1", entries[0].PartyID)
	require.True(t, entries[0].Amount.Equal(decimal.NewFromInt(1000)))
}

func TestClassifySalePaidImmediately(t *testing.T) {
	for _, method := range []string{"Cash", "UPI", "credit", "Credit Card", ""} {
		entries := ClassifySale(Sale{ID: "s1", Party: Ref{ID: "p1"}, Total: decimal.NewFromInt(500), PaymentMethod: method})
		require.Len(t, entries, 2, method)
		require.Equal(t, EntryCredit, entries[0].Type)
		require.Equal(t, EntryDebit, entries[1].Type)
		require.Equal(t, LabelSalesPayment, entries[1].TransactionType)
		require.True(t, entries[1].Amount.Equal(entries[0].Amount))
		require.Equal(t, "s1", entries[1].SourceID)
	}
}

func TestClassifyReceipt(t *testing.T) {
	entry := ClassifyReceipt(Receipt{ID: "r1", Party: Ref{ID: "p1"}, Amount: decimal.NewFromInt(400), PaymentMethod: "Bank"})
	require.Equal(t, EntryDebit, entry.Type)
	require.Equal(t, LabelReceipt, entry.TransactionType)
	require.Equal(t, KindReceipt, entry.SourceKind)
	require.Equal(t, "Bank", entry.PaymentMethod)
}

func TestClassifyPartyAndSortLedger(t *testing.T) {
	jan := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	snap := Snapshot{
		Sales: []Sale{
			{ID: "s1", Date: jan(1), Party: Ref{ID: "p1"}, Total: decimal.NewFromInt(100), PaymentMethod: "Cash"},
			{ID: "s2", Date: jan(3), Party: Ref{ID: "p2"}, Total: decimal.NewFromInt(50), PaymentMethod: "Credit"},
		},
		Receipts: []Receipt{
			{ID: "r1", Date: jan(2), Party: Ref{ID: "p1"}, Amount: decimal.NewFromInt(10)},
		},
	}
	entries := ClassifyParty(snap, "p1")
	require.Len(t, entries, 3)
	SortLedger(entries)

	require.Equal(t, "r1", entries[0].SourceID)
	// same-day sale entries keep credit before debit
	require.Equal(t, EntryCredit, entries[1].Type)
	require.Equal(t, EntryDebit, entries[2].Type)

	require.Len(t, Classify(snap), 4)
	require.Empty(t, ClassifyParty(snap, "nobody"))
}
