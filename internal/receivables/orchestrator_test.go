package receivables

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func ledgerFixture() *stubSource {
	jan := func(d int) time.Time { return time.Date(2024, 1, d, 9, 0, 0, 0, time.UTC) }
	return &stubSource{
		parties: []Party{{ID: "p1", Name: "Acme"}, {ID: "p2", Name: "Bolt"}, {ID: "p3", Name: "Crest"}},
		snap: Snapshot{
			Sales: []Sale{
				{ID: "s1", Date: jan(2), Party: Ref{ID: "p1"}, Company: Ref{ID: "C1"}, Total: dec(1000), PaymentMethod: "Credit"},
				{ID: "s2", Date: jan(5), Party: Ref{ID: "p2"}, Company: Ref{ID: "C1"}, Total: dec(500), PaymentMethod: "Cash"},
			},
			Receipts: []Receipt{
				{ID: "r1", Date: jan(3), Party: Ref{ID: "p1"}, Company: Ref{ID: "C1"}, Amount: dec(400)},
			},
		},
		stored: map[string]decimal.Decimal{"p1": dec(600), "p2": dec(0), "p3": dec(75)},
	}
}

func TestNextState(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
		want State
	}{
		{StateIdle, EventStart, StateFetchingAuthoritative},
		{StateIdle, EventAuthoritativeBypassed, StateFallbackRecompute},
		{StateFetchingAuthoritative, EventAuthoritativeSucceeded, StateSuccess},
		{StateFetchingAuthoritative, EventAuthoritativeFailed, StateFallbackRecompute},
		{StateSuccess, EventApplied, StateSettled},
		{StateFallbackRecompute, EventRecomputed, StateSettled},
		{StateFallbackRecompute, EventRecomputeFailed, StateSettled},
	}
	for _, tc := range cases {
		got, err := NextState(tc.from, tc.ev)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	got, err := NextState(StateFallbackRecompute, EventAuthoritativeFailed)
	require.ErrorIs(t, err, ErrIllegalTransition)
	require.Equal(t, StateFallbackRecompute, got)

	_, err = NextState(StateSettled, EventStart)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRunAuthoritativeSuccess(t *testing.T) {
	src := ledgerFixture()
	rec := &recordingRecorder{}
	out := NewOrchestrator(src, src, quietLogger(), rec).Run(context.Background(), Credential{}, Scope{})

	require.NoError(t, out.Err)
	require.NoError(t, out.Fallback)
	require.Equal(t, OriginAuthoritative, out.Origin)
	require.Equal(t, []State{StateIdle, StateFetchingAuthoritative, StateSuccess, StateSettled}, out.Trail)
	require.Len(t, out.Balances, 3)
	require.True(t, out.Balances["p3"].Balance.Equal(dec(75)))
	require.True(t, out.Totals.Balance.Equal(dec(675)))
	require.Equal(t, []Origin{OriginAuthoritative}, rec.origins)
	require.Equal(t, 1, src.storedCalls)

	// recency ordering comes from the transaction history
	require.Equal(t, "p2", out.Parties[0].ID)
	require.Equal(t, "p1", out.Parties[1].ID)
	require.Equal(t, "p3", out.Parties[2].ID)
}

func TestRunFallsBackOnce(t *testing.T) {
	src := ledgerFixture()
	src.storedErr = Unavailable("stored balances", "/balances", 503, errBoom)
	rec := &recordingRecorder{}
	out := NewOrchestrator(src, src, quietLogger(), rec).Run(context.Background(), Credential{}, Scope{})

	require.NoError(t, out.Err)
	require.ErrorIs(t, out.Fallback, ErrSourceUnavailable)
	require.Equal(t, OriginRecomputed, out.Origin)
	require.Equal(t, []State{StateIdle, StateFetchingAuthoritative, StateFallbackRecompute, StateSettled}, out.Trail)
	require.Equal(t, 1, src.storedCalls)
	require.Equal(t, 1, src.snapCalls)
	require.True(t, out.Balances["p1"].Balance.Equal(dec(600)))
	require.True(t, out.Balances["p2"].Balance.IsZero())
	require.True(t, out.Balances["p3"].Balance.IsZero())
	require.Equal(t, []ErrorKind{KindSourceUnavailable}, rec.failures)
}

func TestRunDoubleFailureSettlesWithZeroes(t *testing.T) {
	src := ledgerFixture()
	src.storedErr = Malformed("stored balances", "/balances", errBoom)
	src.snapErr = Unavailable("list sales", "/sales", 500, errBoom)
	out := NewOrchestrator(src, src, quietLogger(), nil).Run(context.Background(), Credential{}, Scope{})

	require.Error(t, out.Err)
	require.Equal(t, OriginNone, out.Origin)
	require.Equal(t, StateSettled, out.Trail[len(out.Trail)-1])
	require.Equal(t, 1, src.storedCalls)
	require.Equal(t, 1, src.snapCalls)
	require.Len(t, out.Balances, 3)
	for _, bal := range out.Balances {
		require.True(t, bal.Balance.IsZero())
		require.Equal(t, OriginNone, bal.Origin)
	}
	require.Empty(t, out.LastActivity)
}

func TestRunBoundedWindowBypassesStoredBalances(t *testing.T) {
	src := ledgerFixture()
	w, err := ParseWindow("2024-01-03", "", time.UTC)
	require.NoError(t, err)
	out := NewOrchestrator(src, src, quietLogger(), nil).Run(context.Background(), Credential{}, Scope{Window: w})

	require.Equal(t, []State{StateIdle, StateFallbackRecompute, StateSettled}, out.Trail)
	require.Zero(t, src.storedCalls)
	require.Equal(t, OriginRecomputed, out.Origin)
	require.True(t, out.Balances["p1"].Balance.Equal(dec(-400)))
}

func TestRunWithoutBalanceTierRecomputes(t *testing.T) {
	src := ledgerFixture()
	out := NewOrchestrator(src, nil, quietLogger(), nil).Run(context.Background(), Credential{}, Scope{})
	require.Equal(t, OriginRecomputed, out.Origin)
	require.Equal(t, []State{StateIdle, StateFallbackRecompute, StateSettled}, out.Trail)
}

func TestRunTiersAgreeOnConsistentData(t *testing.T) {
	src := ledgerFixture()
	src.stored = map[string]decimal.Decimal{"p1": dec(600), "p2": dec(0), "p3": dec(0)}
	stored := NewOrchestrator(src, src, quietLogger(), nil).Run(context.Background(), Credential{}, Scope{})

	src.storedErr = errBoom
	recomputed := NewOrchestrator(src, src, quietLogger(), nil).Run(context.Background(), Credential{}, Scope{})

	for id, bal := range stored.Balances {
		require.True(t, bal.Balance.Equal(recomputed.Balances[id].Balance), id)
	}
	require.True(t, stored.Totals.Balance.Equal(recomputed.Totals.Balance))
}

func TestRunDerivesPartiesWhenListingFails(t *testing.T) {
	src := ledgerFixture()
	src.partiesErr = errors.New("parties down")
	src.storedErr = errBoom
	out := NewOrchestrator(src, src, quietLogger(), nil).Run(context.Background(), Credential{}, Scope{})

	require.Equal(t, OriginRecomputed, out.Origin)
	require.Len(t, out.Balances, 2)
	require.Contains(t, out.Balances, "p1")
	require.Contains(t, out.Balances, "p2")
}

func TestRunHangingStoredBalancesLeavesTimeToRecompute(t *testing.T) {
	src := ledgerFixture()
	src.storedHangs = true
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	out := NewOrchestrator(src, src, quietLogger(), nil).Run(ctx, Credential{}, Scope{})

	require.NoError(t, out.Err)
	require.ErrorIs(t, out.Fallback, ErrSourceUnavailable)
	require.Equal(t, OriginRecomputed, out.Origin)
	require.Equal(t, []State{StateIdle, StateFetchingAuthoritative, StateFallbackRecompute, StateSettled}, out.Trail)
	require.True(t, out.Balances["p1"].Balance.Equal(dec(600)))
}

func TestRunAuthoritativeTimeoutWithoutDeadline(t *testing.T) {
	src := ledgerFixture()
	src.storedHangs = true
	svc := NewService(src, src, quietLogger(), nil)
	svc.WithAuthoritativeTimeout(50 * time.Millisecond)

	out := svc.Balances(context.Background(), Credential{}, Scope{})

	require.NoError(t, out.Err)
	require.Equal(t, OriginRecomputed, out.Origin)
	require.Equal(t, 1, src.storedCalls)
	require.Equal(t, 1, src.snapCalls)
}

func TestAuthoritativeContext(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ctx, stop := authoritativeContext(parent, time.Minute)
	deadline, ok := ctx.Deadline()
	stop()
	require.True(t, ok)
	require.LessOrEqual(t, time.Until(deadline), 500*time.Millisecond)

	ctx, stop = authoritativeContext(context.Background(), 0)
	_, ok = ctx.Deadline()
	stop()
	require.False(t, ok)
}
