package receivables

import (
	"sort"
)

// ClassifySale posts a sale as a credit entry. Any payment method other than the exact
// literal "Credit" is deemed paid at the moment of sale and adds a matching debit.
func ClassifySale(sale Sale) []LedgerEntry {
	credit := LedgerEntry{
		SourceID:        sale.ID,
		SourceKind:      KindSale,
		PartyID:         sale.Party.ID,
		Date:            sale.Date,
		Type:            EntryCredit,
		TransactionType: LabelSale,
		PaymentMethod:   sale.PaymentMethod,
		Amount:          sale.Total,
		Reference:       sale.Reference,
		Description:     sale.Description,
	}
	if sale.PaymentMethod == PaymentMethodCredit {
		return []LedgerEntry{credit}
	}
	debit := credit
	debit.Type = EntryDebit
	debit.TransactionType = LabelSalesPayment
	return []LedgerEntry{credit, debit}
}

// ClassifyReceipt posts a receipt as a single debit entry.
func ClassifyReceipt(receipt Receipt) LedgerEntry {
	return LedgerEntry{
		SourceID:        receipt.ID,
		SourceKind:      KindReceipt,
		PartyID:         receipt.Party.ID,
		Date:            receipt.Date,
		Type:            EntryDebit,
		TransactionType: LabelReceipt,
		PaymentMethod:   receipt.PaymentMethod,
		Amount:          receipt.Amount,
		Reference:       receipt.Reference,
		Description:     receipt.Description,
	}
}

// Classify converts a snapshot into ledger entries, sales first, in encounter order.
func Classify(snap Snapshot) []LedgerEntry {
	entries := make([]LedgerEntry, 0, 2*len(snap.Sales)+len(snap.Receipts))
	for _, sale := range snap.Sales {
		entries = append(entries, ClassifySale(sale)...)
	}
	for _, receipt := range snap.Receipts {
		entries = append(entries, ClassifyReceipt(receipt))
	}
	return entries
}

// ClassifyParty returns the entries of a single party.
func ClassifyParty(snap Snapshot, partyID string) []LedgerEntry {
	var entries []LedgerEntry
	for _, sale := range snap.Sales {
		if sale.Party.ID == partyID {
			entries = append(entries, ClassifySale(sale)...)
		}
	}
	for _, receipt := range snap.Receipts {
		if receipt.Party.ID == partyID {
			entries = append(entries, ClassifyReceipt(receipt))
		}
	}
	return entries
}

// SortLedger orders entries newest first. Entries sharing a date keep their encounter order.
func SortLedger(entries []LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date.After(entries[j].Date)
	})
}
