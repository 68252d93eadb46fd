package receivablesdb

// An empty tenant matches every row, for single-tenant deployments.
// An empty company id disables company scoping.

const listPartiesSQL = `
SELECT p.id, p.name, p.contact_number, p.company_id
FROM parties p
WHERE ($1 = '' OR p.tenant_id = $1)
ORDER BY p.name, p.id`

const saleColumns = `
s.id, s.sale_date, s.party_id, COALESCE(p.name, ''), s.company_id,
s.total_amount, s.amount, s.invoice_total, s.payment_method, s.invoice_number,
s.description, s.inter_state`

const listSalesSQL = `
SELECT` + saleColumns + `
FROM sales s
LEFT JOIN parties p ON p.id = s.party_id
WHERE ($1 = '' OR s.tenant_id = $1)
  AND ($2 = '' OR s.company_id = $2)
ORDER BY s.id`

const saleByIDSQL = `
SELECT` + saleColumns + `
FROM sales s
LEFT JOIN parties p ON p.id = s.party_id
WHERE ($1 = '' OR s.tenant_id = $1)
  AND s.id = $2`

const saleItemsSQL = `
SELECT i.name, i.code, i.kind, i.quantity, i.rate, i.tax_rate, i.amount, i.tax_amount
FROM sale_items i
WHERE i.sale_id = $1
ORDER BY i.line_no`

const receiptColumns = `
r.id, r.receipt_date, r.party_id, COALESCE(p.name, ''), r.company_id,
r.amount, r.payment_method, r.reference_number, r.description`

const listReceiptsSQL = `
SELECT` + receiptColumns + `
FROM receipts r
LEFT JOIN parties p ON p.id = r.party_id
WHERE ($1 = '' OR r.tenant_id = $1)
  AND ($2 = '' OR r.company_id = $2)
ORDER BY r.id`

const receiptByIDSQL = `
SELECT` + receiptColumns + `
FROM receipts r
LEFT JOIN parties p ON p.id = r.party_id
WHERE ($1 = '' OR r.tenant_id = $1)
  AND r.id = $2`

const storedBalancesSQL = `
SELECT b.party_id, SUM(b.balance)
FROM party_balances b
WHERE ($1 = '' OR b.tenant_id = $1)
  AND ($2 = '' OR b.company_id = $2)
GROUP BY b.party_id`
