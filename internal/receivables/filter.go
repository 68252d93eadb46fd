package receivables

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format accepted for window bounds.
const DateLayout = "2006-01-02"

// endOfDay is the last instant included by an end bound.
const endOfDay = 23*time.Hour + 59*time.Minute + 59*time.Second

// Window is an inclusive date window. A zero bound is unbounded on that side.
type Window struct {
	Start time.Time
	End   time.Time
}

// ParseWindow builds a Window from YYYY-MM-DD bounds interpreted in loc.
// Start opens at 00:00:00 and end closes at 23:59:59 of the given day.
func ParseWindow(start, end string, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	var w Window
	if s := strings.TrimSpace(start); s != "" {
		t, err := time.ParseInLocation(DateLayout, s, loc)
		if err != nil {
			return Window{}, fmt.Errorf("%w: start date %q", ErrInvalidScope, s)
		}
		w.Start = t
	}
	if s := strings.TrimSpace(end); s != "" {
		t, err := time.ParseInLocation(DateLayout, s, loc)
		if err != nil {
			return Window{}, fmt.Errorf("%w: end date %q", ErrInvalidScope, s)
		}
		w.End = t.Add(endOfDay)
	}
	if !w.Start.IsZero() && !w.End.IsZero() && w.End.Before(w.Start) {
		return Window{}, fmt.Errorf("%w: end date before start date", ErrInvalidScope)
	}
	return w, nil
}

// Bounded reports whether either side of the window is set.
func (w Window) Bounded() bool {
	return !w.Start.IsZero() || !w.End.IsZero()
}

// Contains reports whether t falls inside the window. Unknown dates only match an unbounded window.
func (w Window) Contains(t time.Time) bool {
	if t.IsZero() {
		return !w.Bounded()
	}
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End) {
		return false
	}
	return true
}

// Label renders the window for report metadata.
func (w Window) Label() string {
	switch {
	case !w.Bounded():
		return "All dates"
	case w.Start.IsZero():
		return "Up to " + w.End.Format(DateLayout)
	case w.End.IsZero():
		return "From " + w.Start.Format(DateLayout)
	default:
		return w.Start.Format(DateLayout) + " to " + w.End.Format(DateLayout)
	}
}

// Scope narrows a computation to a date window and an optional company.
type Scope struct {
	Window    Window
	CompanyID string
}

// Matches tests a transaction date and company reference against the scope.
func (s Scope) Matches(date time.Time, company Ref) bool {
	if !s.Window.Contains(date) {
		return false
	}
	if s.CompanyID == "" {
		return true
	}
	return company.ID == s.CompanyID
}

// MatchSale applies the scope to a sale.
func (s Scope) MatchSale(sale Sale) bool {
	return s.Matches(sale.Date, sale.Company)
}

// MatchReceipt applies the scope to a receipt.
func (s Scope) MatchReceipt(receipt Receipt) bool {
	return s.Matches(receipt.Date, receipt.Company)
}

// Apply returns the subset of the snapshot that matches the scope, preserving order.
func (s Scope) Apply(snap Snapshot) Snapshot {
	out := Snapshot{
		Sales:    make([]Sale, 0, len(snap.Sales)),
		Receipts: make([]Receipt, 0, len(snap.Receipts)),
	}
	for _, sale := range snap.Sales {
		if s.MatchSale(sale) {
			out.Sales = append(out.Sales, sale)
		}
	}
	for _, receipt := range snap.Receipts {
		if s.MatchReceipt(receipt) {
			out.Receipts = append(out.Receipts, receipt)
		}
	}
	return out
}
