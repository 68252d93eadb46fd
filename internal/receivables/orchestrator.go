package receivables

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// State is a step of the balance resolution machine.
type State string

const (
	StateIdle                  State = "idle"
	StateFetchingAuthoritative State = "fetching_authoritative"
	StateSuccess               State = "success"
	StateFallbackRecompute     State = "fallback_recompute"
	StateSettled               State = "settled"
)

// Event drives a transition of the balance resolution machine.
type Event string

const (
	EventStart                  Event = "start"
	EventAuthoritativeBypassed  Event = "authoritative_bypassed"
	EventAuthoritativeSucceeded Event = "authoritative_succeeded"
	EventAuthoritativeFailed    Event = "authoritative_failed"
	EventApplied                Event = "applied"
	EventRecomputed             Event = "recomputed"
	EventRecomputeFailed        Event = "recompute_failed"
)

var transitions = map[State]map[Event]State{
	StateIdle: {
		EventStart:                 StateFetchingAuthoritative,
		EventAuthoritativeBypassed: StateFallbackRecompute,
	},
	StateFetchingAuthoritative: {
		EventAuthoritativeSucceeded: StateSuccess,
		EventAuthoritativeFailed:    StateFallbackRecompute,
	},
	StateSuccess: {
		EventApplied: StateSettled,
	},
	StateFallbackRecompute: {
		EventRecomputed:      StateSettled,
		EventRecomputeFailed: StateSettled,
	},
}

// ErrIllegalTransition is returned by NextState for events the current state does not accept.
var ErrIllegalTransition = errors.New("receivables: illegal state transition")

// NextState returns the state reached from `from` on event `ev`.
func NextState(from State, ev Event) (State, error) {
	if next, ok := transitions[from][ev]; ok {
		return next, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, from, ev)
}

// Credential is the tenant credential forwarded to the transaction source.
type Credential struct {
	Tenant string
	Token  string
}

// Source supplies raw parties and transactions.
type Source interface {
	Parties(ctx context.Context, cred Credential) ([]Party, error)
	Snapshot(ctx context.Context, cred Credential, companyID string) (Snapshot, error)
	SaleDetail(ctx context.Context, cred Credential, id string) (Sale, error)
	ReceiptDetail(ctx context.Context, cred Credential, id string) (Receipt, error)
}

// BalanceSource supplies authoritative net balances keyed by party id.
type BalanceSource interface {
	StoredBalances(ctx context.Context, cred Credential, companyID string) (map[string]decimal.Decimal, error)
}

// Recorder receives resolution metrics.
type Recorder interface {
	ObserveResolution(origin Origin, elapsed time.Duration)
	SourceFailure(op string, kind ErrorKind)
}

type noopRecorder struct{}

func (noopRecorder) ObserveResolution(Origin, time.Duration) {}
func (noopRecorder) SourceFailure(string, ErrorKind) {}

// Outcome is the settled result of one balance resolution.
type Outcome struct {
	Balances     map[string]Balance
	Totals       Totals
	Parties      []Party
	LastActivity map[string]time.Time
	Origin       Origin
	Trail        []State
	// Fallback holds the authoritative failure that engaged the recompute tier.
	Fallback error
	// Err is set when no tier produced balances.
	Err error
}

// Orchestrator resolves balances from the authoritative source, recomputing locally when
// that source fails. There is exactly one fallback step and no retry.
type Orchestrator struct {
	source      Source
	balances    BalanceSource
	logger      *slog.Logger
	metrics     Recorder
	now         func() time.Time
	authTimeout time.Duration
}

// NewOrchestrator wires the resolution machine. balances may be nil, in which case every run recomputes.
func NewOrchestrator(source Source, balances BalanceSource, logger *slog.Logger, metrics Recorder) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Orchestrator{source: source, balances: balances, logger: logger, metrics: metrics, now: time.Now}
}

type machine struct {
	state State
	trail []State
}

func (m *machine) fire(ev Event) {
	next, err := NextState(m.state, ev)
	if err != nil {
		// the table is closed over the events fired below
		panic(err)
	}
	m.state = next
	m.trail = append(m.trail, next)
}

// Run resolves balances for every party within scope.
func (o *Orchestrator) Run(ctx context.Context, cred Credential, scope Scope) Outcome {
	start := o.now()
	m := &machine{state: StateIdle, trail: []State{StateIdle}}
	out := Outcome{Origin: OriginNone}

	parties, err := o.source.Parties(ctx, cred)
	if err != nil {
		o.warn("list parties", err)
		parties = nil
	}

	// stored balances carry no date dimension, so a bounded window goes straight to replay
	if o.balances == nil || scope.Window.Bounded() {
		m.fire(EventAuthoritativeBypassed)
	} else {
		m.fire(EventStart)
		authCtx, cancel := authoritativeContext(ctx, o.authTimeout)
		stored, err := o.balances.StoredBalances(authCtx, cred, scope.CompanyID)
		cancel()
		if err == nil {
			m.fire(EventAuthoritativeSucceeded)
			if parties == nil {
				parties = PartiesFromIDs(nil, storedKeys(stored))
			}
			out.Balances = FromStored(stored, parties)
			out.Origin = OriginAuthoritative
			m.fire(EventApplied)
		} else {
			o.warn("stored balances", err)
			out.Fallback = err
			m.fire(EventAuthoritativeFailed)
		}
	}

	var snap *Snapshot
	if m.state == StateFallbackRecompute {
		raw, err := o.source.Snapshot(ctx, cred, scope.CompanyID)
		if err != nil {
			o.warn("recompute snapshot", err)
			out.Err = err
			out.Balances = ZeroBalances(parties)
			m.fire(EventRecomputeFailed)
		} else {
			scoped := scope.Apply(raw)
			snap = &scoped
			entries := Classify(scoped)
			if parties == nil {
				parties = PartiesFromIDs(nil, entryPartyIDs(entries))
			}
			out.Balances = AggregateAll(entries, parties)
			out.Origin = OriginRecomputed
			m.fire(EventRecomputed)
		}
	}

	out.Totals = Overall(out.Balances)
	out.Trail = m.trail
	if out.Err != nil {
		out.LastActivity = map[string]time.Time{}
	} else {
		out.LastActivity = o.lastActivity(ctx, cred, scope, snap)
	}
	SortByRecency(parties, out.LastActivity)
	out.Parties = parties

	o.metrics.ObserveResolution(out.Origin, o.now().Sub(start))
	o.logger.Debug("balances settled",
		slog.String("origin", string(out.Origin)),
		slog.Int("parties", len(parties)),
		slog.String("company_id", scope.CompanyID),
	)
	return out
}

// authoritativeContext bounds the stored-balance call by limit and by half of the time left
// on ctx, so the recompute tier always starts with a live context.
func authoritativeContext(ctx context.Context, limit time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok {
		if half := time.Until(deadline) / 2; limit <= 0 || half < limit {
			limit = half
		}
	}
	if limit <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, limit)
}

// lastActivity is best effort: a failure leaves recency ordering empty and nothing else.
func (o *Orchestrator) lastActivity(ctx context.Context, cred Credential, scope Scope, snap *Snapshot) map[string]time.Time {
	if snap != nil {
		return LastActivity(*snap)
	}
	raw, err := o.source.Snapshot(ctx, cred, scope.CompanyID)
	if err != nil {
		o.warn("last activity", err)
		return map[string]time.Time{}
	}
	return LastActivity(scope.Apply(raw))
}

func (o *Orchestrator) warn(op string, err error) {
	kind := KindOf(err)
	o.metrics.SourceFailure(op, kind)
	attrs := []any{slog.String("op", op), slog.Any("error", err)}
	var e *Error
	if errors.As(err, &e) {
		attrs = append(attrs, slog.String("endpoint", e.Endpoint), slog.Int("status", e.Status))
	}
	o.logger.Warn("receivables source failure", attrs...)
}

func storedKeys(stored map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(stored))
	for id := range stored {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}

func entryPartyIDs(entries []LedgerEntry) []string {
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.PartyID)
	}
	return ids
}
