// Package upstream reads parties, sales, receipts and stored balances from the accounting
// backend over HTTPS.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/receivables-ledger/internal/receivables"
)

const maxBodyBytes = 32 << 20

// TokenSource supplies the bearer credential used when a request carries none of its own.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer credential.
type StaticToken string

// Token returns the static credential.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// Client implements receivables.Source and receivables.BalanceSource.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
	location   *time.Location
}

// NewClient constructs a client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		logger:     logger,
		location:   time.UTC,
	}
}

// WithLocation sets the zone used for timestamps that arrive without one.
func (c *Client) WithLocation(loc *time.Location) *Client {
	if loc != nil {
		c.location = loc
	}
	return c
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// Parties lists every party visible to the credential.
func (c *Client) Parties(ctx context.Context, cred receivables.Credential) ([]receivables.Party, error) {
	items, err := c.list(ctx, cred, "list parties", "/parties", "parties", nil)
	if err != nil {
		return nil, err
	}
	parties := make([]receivables.Party, 0, len(items))
	for _, raw := range items {
		var w partyWire
		if err := json.Unmarshal(raw, &w); err != nil {
			c.skip("/parties", err)
			continue
		}
		if p := w.party(); p.ID != "" {
			parties = append(parties, p)
		}
	}
	return parties, nil
}

// Sales lists sales, scoped to a company when companyID is set.
func (c *Client) Sales(ctx context.Context, cred receivables.Credential, companyID string) ([]receivables.Sale, error) {
	items, err := c.list(ctx, cred, "list sales", "/sales", "sales", companyQuery(companyID))
	if err != nil {
		return nil, err
	}
	sales := make([]receivables.Sale, 0, len(items))
	for _, raw := range items {
		var w saleWire
		if err := json.Unmarshal(raw, &w); err != nil {
			c.skip("/sales", err)
			continue
		}
		sales = append(sales, w.sale(c.location))
	}
	return sales, nil
}

// Receipts lists receipts, scoped to a company when companyID is set.
func (c *Client) Receipts(ctx context.Context, cred receivables.Credential, companyID string) ([]receivables.Receipt, error) {
	items, err := c.list(ctx, cred, "list receipts", "/receipts", "receipts", companyQuery(companyID))
	if err != nil {
		return nil, err
	}
	receipts := make([]receivables.Receipt, 0, len(items))
	for _, raw := range items {
		var w receiptWire
		if err := json.Unmarshal(raw, &w); err != nil {
			c.skip("/receipts", err)
			continue
		}
		receipts = append(receipts, w.receipt(c.location))
	}
	return receipts, nil
}

// Snapshot fetches sales and receipts concurrently. Both must succeed.
func (c *Client) Snapshot(ctx context.Context, cred receivables.Credential, companyID string) (receivables.Snapshot, error) {
	var snap receivables.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sales, err := c.Sales(gctx, cred, companyID)
		if err != nil {
			return err
		}
		snap.Sales = sales
		return nil
	})
	g.Go(func() error {
		receipts, err := c.Receipts(gctx, cred, companyID)
		if err != nil {
			return err
		}
		snap.Receipts = receipts
		return nil
	})
	if err := g.Wait(); err != nil {
		return receivables.Snapshot{}, err
	}
	return snap, nil
}

// SaleDetail loads one sale including its line items.
func (c *Client) SaleDetail(ctx context.Context, cred receivables.Credential, id string) (receivables.Sale, error) {
	endpoint := "/sales/" + url.PathEscape(id)
	raw, err := c.object(ctx, cred, "sale detail", endpoint, "sale")
	if err != nil {
		return receivables.Sale{}, err
	}
	var w saleWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return receivables.Sale{}, receivables.Malformed("sale detail", endpoint, err)
	}
	return w.sale(c.location), nil
}

// ReceiptDetail loads one receipt.
func (c *Client) ReceiptDetail(ctx context.Context, cred receivables.Credential, id string) (receivables.Receipt, error) {
	endpoint := "/receipts/" + url.PathEscape(id)
	raw, err := c.object(ctx, cred, "receipt detail", endpoint, "receipt")
	if err != nil {
		return receivables.Receipt{}, err
	}
	var w receiptWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return receivables.Receipt{}, receivables.Malformed("receipt detail", endpoint, err)
	}
	return w.receipt(c.location), nil
}

// StoredBalances reads the authoritative net balance of every party.
func (c *Client) StoredBalances(ctx context.Context, cred receivables.Credential, companyID string) (map[string]decimal.Decimal, error) {
	const endpoint = "/parties/balances"
	body, err := c.get(ctx, cred, "stored balances", endpoint, companyQuery(companyID))
	if err != nil {
		return nil, err
	}
	amounts, found, err := unwrapBalances(body)
	if err != nil {
		return nil, receivables.Malformed("stored balances", endpoint, err)
	}
	if !found {
		return nil, receivables.Malformed("stored balances", endpoint, errors.New("no balances object in response"))
	}
	out := make(map[string]decimal.Decimal, len(amounts))
	for id, amount := range amounts {
		out[id] = amount.value
	}
	return out, nil
}

func (c *Client) list(ctx context.Context, cred receivables.Credential, op, endpoint, key string, query url.Values) ([]json.RawMessage, error) {
	body, err := c.get(ctx, cred, op, endpoint, query)
	if err != nil {
		return nil, err
	}
	items, found, err := unwrapList(body, key)
	if err != nil {
		return nil, receivables.Malformed(op, endpoint, err)
	}
	if !found {
		c.logger.Warn("upstream response has no recognisable list",
			slog.String("endpoint", endpoint),
			slog.String("kind", string(receivables.KindMalformedResponse)),
		)
	}
	return items, nil
}

func (c *Client) object(ctx context.Context, cred receivables.Credential, op, endpoint, key string) (json.RawMessage, error) {
	body, err := c.get(ctx, cred, op, endpoint, nil)
	var e *receivables.Error
	if errors.As(err, &e) && e.Status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", receivables.ErrEntryNotFound, endpoint)
	}
	if err != nil {
		return nil, err
	}
	raw, found, err := unwrapObject(body, key)
	if err != nil {
		return nil, receivables.Malformed(op, endpoint, err)
	}
	if !found {
		return nil, receivables.Malformed(op, endpoint, errors.New("no document in response"))
	}
	return raw, nil
}

func (c *Client) get(ctx context.Context, cred receivables.Credential, op, endpoint string, query url.Values) ([]byte, error) {
	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, receivables.Unavailable(op, endpoint, 0, err)
	}
	token, err := c.token(ctx, cred)
	if err != nil {
		return nil, receivables.Unavailable(op, endpoint, 0, fmt.Errorf("resolve credential: %w", err))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if cred.Tenant != "" {
		req.Header.Set("X-Tenant-ID", cred.Tenant)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, receivables.Unavailable(op, endpoint, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, receivables.Unavailable(op, endpoint, resp.StatusCode, fmt.Errorf("upstream response %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, receivables.Unavailable(op, endpoint, resp.StatusCode, err)
	}
	return body, nil
}

func (c *Client) token(ctx context.Context, cred receivables.Credential) (string, error) {
	if cred.Token != "" {
		return cred.Token, nil
	}
	if c.tokens == nil {
		return "", nil
	}
	return c.tokens.Token(ctx)
}

func (c *Client) skip(endpoint string, err error) {
	c.logger.Warn("skip undecodable record",
		slog.String("endpoint", endpoint),
		slog.String("kind", string(receivables.KindValidationGap)),
		slog.Any("error", err),
	)
}

func companyQuery(companyID string) url.Values {
	if companyID == "" {
		return nil
	}
	return url.Values{"companyId": []string{companyID}}
}
