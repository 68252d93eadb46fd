// Package receivablesdb reads ledger inputs straight from the accounting database.
package receivablesdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/receivables-ledger/internal/platform/db"
	"github.com/odyssey-erp/receivables-ledger/internal/receivables"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements receivables.Source and receivables.BalanceSource over PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Parties lists the tenant's parties.
func (s *Store) Parties(ctx context.Context, cred receivables.Credential) ([]receivables.Party, error) {
	rows, err := s.pool.Query(ctx, listPartiesSQL, cred.Tenant)
	if err != nil {
		return nil, unavailable("list parties", "parties", err)
	}
	defer rows.Close()
	var out []receivables.Party
	for rows.Next() {
		var (
			p       receivables.Party
			contact *string
			company *string
		)
		if err := rows.Scan(&p.ID, &p.Name, &contact, &company); err != nil {
			return nil, unavailable("list parties", "parties", err)
		}
		p.ContactNumber = deref(contact)
		p.Company = receivables.Ref{ID: deref(company)}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list parties", "parties", err)
	}
	return out, nil
}

// Snapshot reads sales and receipts inside one repeatable-read transaction so both lists
// reflect the same database state.
func (s *Store) Snapshot(ctx context.Context, cred receivables.Credential, companyID string) (receivables.Snapshot, error) {
	var snap receivables.Snapshot
	err := db.WithReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		sales, err := listSales(ctx, tx, cred.Tenant, companyID)
		if err != nil {
			return err
		}
		receipts, err := listReceipts(ctx, tx, cred.Tenant, companyID)
		if err != nil {
			return err
		}
		snap = receivables.Snapshot{Sales: sales, Receipts: receipts}
		return nil
	})
	if err != nil {
		return receivables.Snapshot{}, unavailable("snapshot", "sales,receipts", err)
	}
	return snap, nil
}

// SaleDetail loads one sale with its items.
func (s *Store) SaleDetail(ctx context.Context, cred receivables.Credential, id string) (receivables.Sale, error) {
	row := s.pool.QueryRow(ctx, saleByIDSQL, cred.Tenant, id)
	sale, err := scanSale(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return receivables.Sale{}, fmt.Errorf("%w: sale %s", receivables.ErrEntryNotFound, id)
	}
	if err != nil {
		return receivables.Sale{}, unavailable("sale detail", "sales", err)
	}
	items, err := listSaleItems(ctx, s.pool, id)
	if err != nil {
		return receivables.Sale{}, unavailable("sale detail", "sale_items", err)
	}
	sale.Items = items
	return sale, nil
}

// ReceiptDetail loads one receipt.
func (s *Store) ReceiptDetail(ctx context.Context, cred receivables.Credential, id string) (receivables.Receipt, error) {
	row := s.pool.QueryRow(ctx, receiptByIDSQL, cred.Tenant, id)
	receipt, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return receivables.Receipt{}, fmt.Errorf("%w: receipt %s", receivables.ErrEntryNotFound, id)
	}
	if err != nil {
		return receivables.Receipt{}, unavailable("receipt detail", "receipts", err)
	}
	return receipt, nil
}

// StoredBalances reads the maintained party balances.
func (s *Store) StoredBalances(ctx context.Context, cred receivables.Credential, companyID string) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx, storedBalancesSQL, cred.Tenant, companyID)
	if err != nil {
		return nil, unavailable("stored balances", "party_balances", err)
	}
	defer rows.Close()
	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			partyID string
			balance decimal.NullDecimal
		)
		if err := rows.Scan(&partyID, &balance); err != nil {
			return nil, unavailable("stored balances", "party_balances", err)
		}
		out[partyID] = balance.Decimal
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("stored balances", "party_balances", err)
	}
	return out, nil
}

func listSales(ctx context.Context, q querier, tenant, companyID string) ([]receivables.Sale, error) {
	rows, err := q.Query(ctx, listSalesSQL, tenant, companyID)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()
	var out []receivables.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		out = append(out, sale)
	}
	return out, rows.Err()
}

func listReceipts(ctx context.Context, q querier, tenant, companyID string) ([]receivables.Receipt, error) {
	rows, err := q.Query(ctx, listReceiptsSQL, tenant, companyID)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()
	var out []receivables.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		out = append(out, receipt)
	}
	return out, rows.Err()
}

func listSaleItems(ctx context.Context, q querier, saleID string) ([]receivables.LineItem, error) {
	rows, err := q.Query(ctx, saleItemsSQL, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []receivables.LineItem
	for rows.Next() {
		var (
			item                                       receivables.LineItem
			code, kind                                 *string
			quantity, rate, taxRate, amount, taxAmount decimal.NullDecimal
		)
		if err := rows.Scan(&item.Name, &code, &kind, &quantity, &rate, &taxRate, &amount, &taxAmount); err != nil {
			return nil, err
		}
		item.Code = deref(code)
		item.Kind = deref(kind)
		item.Quantity = quantity.Decimal
		item.Rate = rate.Decimal
		item.TaxRate = taxRate.Decimal
		item.Amount = amount.Decimal
		item.TaxAmount = taxAmount.Decimal
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanSale(row pgx.Row) (receivables.Sale, error) {
	var (
		sale                              receivables.Sale
		date                              *time.Time
		company, method, ref, desc        *string
		totalAmount, amount, invoiceTotal decimal.NullDecimal
		interState                        *bool
	)
	if err := row.Scan(&sale.ID, &date, &sale.Party.ID, &sale.Party.Name, &company,
		&totalAmount, &amount, &invoiceTotal, &method, &ref, &desc, &interState); err != nil {
		return receivables.Sale{}, err
	}
	if date != nil {
		sale.Date = *date
	}
	sale.Company = receivables.Ref{ID: deref(company)}
	sale.Total = firstDecimal(totalAmount, amount, invoiceTotal)
	sale.PaymentMethod = deref(method)
	sale.Reference = deref(ref)
	sale.Description = deref(desc)
	sale.InterState = interState != nil && *interState
	return sale, nil
}

func scanReceipt(row pgx.Row) (receivables.Receipt, error) {
	var (
		receipt                    receivables.Receipt
		date                       *time.Time
		company, method, ref, desc *string
		amount                     decimal.NullDecimal
	)
	if err := row.Scan(&receipt.ID, &date, &receipt.Party.ID, &receipt.Party.Name, &company,
		&amount, &method, &ref, &desc); err != nil {
		return receivables.Receipt{}, err
	}
	if date != nil {
		receipt.Date = *date
	}
	receipt.Company = receivables.Ref{ID: deref(company)}
	receipt.Amount = amount.Decimal
	receipt.PaymentMethod = deref(method)
	receipt.Reference = deref(ref)
	receipt.Description = deref(desc)
	return receipt, nil
}

func firstDecimal(values ...decimal.NullDecimal) decimal.Decimal {
	for _, v := range values {
		if v.Valid {
			return v.Decimal
		}
	}
	return decimal.Zero
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func unavailable(op, table string, err error) error {
	return receivables.Unavailable(op, "postgres:"+table, 0, err)
}
