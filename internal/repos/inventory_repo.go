package repos

import (
	"context"

	"github.com/jmoiron/sqlx"

	"cropledger/internal/domain"
)

type InventoryRepo struct{ db *sqlx.DB }

func NewInventoryRepo(db *sqlx.DB) *InventoryRepo { return &InventoryRepo{db: db} }

// InventoryRow is the listing shape for stock screens.
type InventoryRow struct {
	ID            string  `db:"id" json:"id"`
	ItemName      string  `db:"item_name" json:"item_name"`
	CategoryID    string  `db:"category_id" json:"category_id"`
	TotalQuantity float64 `db:"total_quantity" json:"total_quantity"`
	TotalBags     int     `db:"total_bags" json:"total_bags"`
	TotalValue    string  `db:"total_value" json:"total_value"`
	SyncState     string  `db:"sync_state" json:"sync_state"`
}

// ListAll returns the owner's live stock items, optionally narrowed to a category.
func (r *InventoryRepo) ListAll(ctx context.Context, owner, categoryID string) ([]InventoryRow, error) {
	rows := []InventoryRow{}
	q := `
		SELECT id, item_name, category_id, total_quantity, total_bags, total_value, sync_state
		FROM stock_items
		WHERE owner_id = ? AND deleted = 0`
	args := []any{owner}
	if categoryID != "" {
		q += ` AND category_id = ?`
		args = append(args, categoryID)
	}
	q += ` ORDER BY LOWER(item_name), rowid`
	err := r.db.SelectContext(ctx, &rows, q, args...)
	return rows, err
}

// Qty returns the current item-level quantity of a stock item.
func (r *InventoryRepo) Qty(ctx context.Context, owner, id string) (float64, error) {
	var qty float64
	err := r.db.GetContext(ctx, &qty, `
		SELECT total_quantity FROM stock_items
		WHERE id = ? AND owner_id = ? AND deleted = 0
	`, id, owner)
	return qty, err
}

// Items returns full stock records for the owner.
func (r *InventoryRepo) Items(ctx context.Context, owner string) ([]domain.StockItem, error) {
	out := []domain.StockItem{}
	err := r.db.SelectContext(ctx, &out, tables[domain.KindStockItem].selectSQL()+`
		WHERE owner_id = ? AND deleted = 0 ORDER BY rowid`, owner)
	return out, err
}
