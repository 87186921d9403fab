package repos

import (
	"context"

	"github.com/jmoiron/sqlx"

	"cropledger/internal/domain"
)

// OrderRepo reads the append-only trade history: invoices and purchases.
type OrderRepo struct{ db *sqlx.DB }

func NewOrderRepo(db *sqlx.DB) *OrderRepo { return &OrderRepo{db: db} }

type InvoiceFilter struct {
	PartnerID string
	Status    domain.PaymentStatus
	Side      domain.TradeSide
	Limit     int
}

func (r *OrderRepo) Invoices(ctx context.Context, owner string, f InvoiceFilter) ([]domain.Invoice, error) {
	q := tables[domain.KindInvoice].selectSQL() + ` WHERE owner_id = ? AND deleted = 0`
	args := []any{owner}
	if f.PartnerID != "" {
		q += ` AND partner_id = ?`
		args = append(args, f.PartnerID)
	}
	if f.Status != "" {
		q += ` AND payment_status = ?`
		args = append(args, f.Status)
	}
	if f.Side != "" {
		q += ` AND side = ?`
		args = append(args, f.Side)
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	q += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, f.Limit)

	out := []domain.Invoice{}
	err := r.db.SelectContext(ctx, &out, q, args...)
	return out, err
}

// Purchases lists the owner's purchases, newest first; partnerID may be empty.
func (r *OrderRepo) Purchases(ctx context.Context, owner, partnerID string, limit int) ([]domain.Purchase, error) {
	q := tables[domain.KindPurchase].selectSQL() + ` WHERE owner_id = ? AND deleted = 0`
	args := []any{owner}
	if partnerID != "" {
		q += ` AND partner_id = ?`
		args = append(args, partnerID)
	}
	if limit <= 0 {
		limit = 100
	}
	q += ` ORDER BY purchase_date DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	out := []domain.Purchase{}
	err := r.db.SelectContext(ctx, &out, q, args...)
	return out, err
}

// Outstanding lists the unpaid and partial invoices of a partner.
func (r *OrderRepo) Outstanding(ctx context.Context, owner, partnerID string) ([]domain.Invoice, error) {
	out := []domain.Invoice{}
	err := r.db.SelectContext(ctx, &out, tables[domain.KindInvoice].selectSQL()+`
		WHERE owner_id = ? AND partner_id = ? AND deleted = 0 AND payment_status != 'paid'
		ORDER BY rowid`, owner, partnerID)
	return out, err
}
