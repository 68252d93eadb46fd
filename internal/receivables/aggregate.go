package receivables

import (
	"runtime"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Aggregate reduces entries into a single credit/debit/balance triple.
func Aggregate(entries []LedgerEntry) Balance {
	credit := decimal.Zero
	debit := decimal.Zero
	for _, entry := range entries {
		switch entry.Type {
		case EntryCredit:
			credit = credit.Add(entry.Amount)
		case EntryDebit:
			debit = debit.Add(entry.Amount)
		}
	}
	return Balance{
		TotalCredit: credit,
		TotalDebit:  debit,
		Balance:     credit.Sub(debit),
		Origin:      OriginRecomputed,
	}
}

// AggregateAll computes a Balance for every party. Parties without entries get a zero
// Balance; entries of parties outside the list are ignored.
func AggregateAll(entries []LedgerEntry, parties []Party) map[string]Balance {
	index := make(map[string]int, len(parties))
	for i, party := range parties {
		if _, dup := index[party.ID]; !dup {
			index[party.ID] = i
		}
	}
	grouped := make([][]LedgerEntry, len(parties))
	for _, entry := range entries {
		if i, ok := index[entry.PartyID]; ok {
			grouped[i] = append(grouped[i], entry)
		}
	}

	results := make([]Balance, len(parties))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range parties {
		g.Go(func() error {
			bal := Aggregate(grouped[i])
			bal.PartyID = parties[i].ID
			results[i] = bal
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]Balance, len(parties))
	for i, party := range parties {
		if _, seen := out[party.ID]; seen {
			continue
		}
		out[party.ID] = results[i]
	}
	return out
}

// FromStored materialises authoritative net balances. The net figure is split into the
// credit or debit column so that balance == totalCredit - totalDebit still holds.
func FromStored(stored map[string]decimal.Decimal, parties []Party) map[string]Balance {
	out := make(map[string]Balance, len(parties))
	for _, party := range parties {
		net := stored[party.ID]
		bal := Balance{
			PartyID:     party.ID,
			TotalCredit: decimal.Zero,
			TotalDebit:  decimal.Zero,
			Balance:     net,
			Origin:      OriginAuthoritative,
		}
		if net.IsPositive() {
			bal.TotalCredit = net
		} else if net.IsNegative() {
			bal.TotalDebit = net.Neg()
		}
		out[party.ID] = bal
	}
	return out
}

// ZeroBalances returns a zeroed Balance for every party.
func ZeroBalances(parties []Party) map[string]Balance {
	out := make(map[string]Balance, len(parties))
	for _, party := range parties {
		out[party.ID] = Balance{
			PartyID:     party.ID,
			TotalCredit: decimal.Zero,
			TotalDebit:  decimal.Zero,
			Balance:     decimal.Zero,
			Origin:      OriginNone,
		}
	}
	return out
}

// Overall sums per-party balances.
func Overall(balances map[string]Balance) Totals {
	totals := Totals{
		Parties:     len(balances),
		TotalCredit: decimal.Zero,
		TotalDebit:  decimal.Zero,
		Balance:     decimal.Zero,
	}
	for _, bal := range balances {
		totals.TotalCredit = totals.TotalCredit.Add(bal.TotalCredit)
		totals.TotalDebit = totals.TotalDebit.Add(bal.TotalDebit)
		totals.Balance = totals.Balance.Add(bal.Balance)
	}
	return totals
}

// LastActivity returns the most recent dated transaction per party.
func LastActivity(snap Snapshot) map[string]time.Time {
	out := make(map[string]time.Time)
	touch := func(partyID string, at time.Time) {
		if partyID == "" || at.IsZero() {
			return
		}
		if current, ok := out[partyID]; !ok || at.After(current) {
			out[partyID] = at
		}
	}
	for _, sale := range snap.Sales {
		touch(sale.Party.ID, sale.Date)
	}
	for _, receipt := range snap.Receipts {
		touch(receipt.Party.ID, receipt.Date)
	}
	return out
}

// SortByRecency orders parties by last activity, most recent first, then by name.
func SortByRecency(parties []Party, last map[string]time.Time) {
	sort.SliceStable(parties, func(i, j int) bool {
		a, b := last[parties[i].ID], last[parties[j].ID]
		if !a.Equal(b) {
			return a.After(b)
		}
		return parties[i].Name < parties[j].Name
	})
}

// PartiesFromIDs builds placeholder parties for identifiers seen without a party record.
func PartiesFromIDs(known []Party, ids ...[]string) []Party {
	seen := make(map[string]struct{}, len(known))
	out := make([]Party, 0, len(known))
	for _, party := range known {
		if _, ok := seen[party.ID]; ok || party.ID == "" {
			continue
		}
		seen[party.ID] = struct{}{}
		out = append(out, party)
	}
	for _, group := range ids {
		for _, id := range group {
			if _, ok := seen[id]; ok || id == "" {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, Party{ID: id})
		}
	}
	return out
}
