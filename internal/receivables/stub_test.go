package receivables

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var errBoom = errors.New("boom")

type stubSource struct {
	mu          sync.Mutex
	parties     []Party
	partiesErr  error
	snap        Snapshot
	snapErr     error
	stored      map[string]decimal.Decimal
	storedErr   error
	storedHangs bool
	sales       map[string]Sale
	receipts    map[string]Receipt
	snapCalls   int
	storedCalls int
}

func (s *stubSource) Parties(context.Context, Credential) ([]Party, error) {
	if s.partiesErr != nil {
		return nil, s.partiesErr
	}
	out := make([]Party, len(s.parties))
	copy(out, s.parties)
	return out, nil
}

func (s *stubSource) Snapshot(ctx context.Context, _ Credential, _ string) (Snapshot, error) {
	s.mu.Lock()
	s.snapCalls++
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Snapshot{}, Unavailable("snapshot", "/sales", 0, err)
	}
	if s.snapErr != nil {
		return Snapshot{}, s.snapErr
	}
	return s.snap, nil
}

func (s *stubSource) SaleDetail(_ context.Context, _ Credential, id string) (Sale, error) {
	sale, ok := s.sales[id]
	if !ok {
		return Sale{}, Unavailable("get sale", "/sales/"+id, 404, errBoom)
	}
	return sale, nil
}

func (s *stubSource) ReceiptDetail(_ context.Context, _ Credential, id string) (Receipt, error) {
	receipt, ok := s.receipts[id]
	if !ok {
		return Receipt{}, Unavailable("get receipt", "/receipts/"+id, 404, errBoom)
	}
	return receipt, nil
}

func (s *stubSource) StoredBalances(ctx context.Context, _ Credential, _ string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	s.storedCalls++
	s.mu.Unlock()
	if s.storedHangs {
		<-ctx.Done()
		return nil, Unavailable("stored balances", "/parties/balances", 0, ctx.Err())
	}
	if s.storedErr != nil {
		return nil, s.storedErr
	}
	return s.stored, nil
}

type recordingRecorder struct {
	origins  []Origin
	failures []ErrorKind
}

func (r *recordingRecorder) ObserveResolution(origin Origin, _ time.Duration) {
	r.origins = append(r.origins, origin)
}

func (r *recordingRecorder) SourceFailure(_ string, kind ErrorKind) {
	r.failures = append(r.failures, kind)
}
