package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"cropledger/internal/domain"
	applog "cropledger/internal/log"
	"cropledger/internal/repos"
	"cropledger/internal/stock"
)

type StockService struct {
	W   Writer
	Inv *repos.InventoryRepo
}

func NewStockService(w Writer, inv *repos.InventoryRepo) *StockService {
	return &StockService{W: w, Inv: inv}
}

// CreateStockItem stores a new item with totals computed from variants.
// Identical calls create distinct items.
func (s *StockService) CreateStockItem(ctx context.Context, owner, name, categoryID string, variants []domain.Variant) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: item name required", domain.ErrValidation)
	}
	item := &domain.StockItem{ID: uuid.NewString(), ItemName: name, CategoryID: categoryID, OwnerID: owner}
	stock.Apply(item, withIDs(variants))
	if _, err := s.W.Write(ctx, owner, func(tx *repos.Tx) error { return tx.Create(item) }); err != nil {
		return "", classify("create stock item", err)
	}
	applog.Audit(nil, "stock.create", map[string]any{"owner": owner, "id": item.ID, "variants": len(item.Variants)})
	return item.ID, nil
}

// UpdateStockItem replaces the item's name, category, and variants, and
// recomputes all totals from the new variants.
func (s *StockService) UpdateStockItem(ctx context.Context, owner, id, name, categoryID string, variants []domain.Variant) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: item name required", domain.ErrValidation)
	}
	_, err := s.W.Write(ctx, owner, func(tx *repos.Tx) error {
		item, err := tx.StockItem(id)
		if err != nil {
			return err
		}
		item.ItemName = name
		item.CategoryID = categoryID
		stock.Apply(item, withIDs(variants))
		return tx.Update(item)
	})
	if err != nil {
		return classify("update stock item", err)
	}
	applog.Audit(nil, "stock.update", map[string]any{"owner": owner, "id": id})
	return nil
}

func (s *StockService) DeleteStockItem(ctx context.Context, owner, id string) error {
	_, err := s.W.Write(ctx, owner, func(tx *repos.Tx) error {
		return tx.Delete(domain.KindStockItem, id)
	})
	if err != nil {
		return classify("delete stock item", err)
	}
	applog.Audit(nil, "stock.delete", map[string]any{"owner": owner, "id": id})
	return nil
}

func (s *StockService) List(ctx context.Context, owner, categoryID string) ([]repos.InventoryRow, error) {
	return s.Inv.ListAll(ctx, owner, categoryID)
}

func withIDs(vs []domain.Variant) []domain.Variant {
	out := make([]domain.Variant, len(vs))
	copy(out, vs)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
	}
	return out
}
