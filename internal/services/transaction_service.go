package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cropledger/internal/domain"
	applog "cropledger/internal/log"
	"cropledger/internal/metrics"
	"cropledger/internal/repos"
)

// TradeItem is one line of a buy or sell. CropName and Rate are only
// recorded for buys.
type TradeItem struct {
	StockItemID string
	CropName    string
	Quantity    float64
	Rate        decimal.Decimal
	Total       decimal.Decimal
}

type Payment struct {
	TotalValue decimal.Decimal
	PaidAmount decimal.Decimal
	Status     domain.PaymentStatus
}

type TradeRequest struct {
	PartnerID string
	Items     []TradeItem
	Payment   Payment
}

// Receipt lists what a committed transaction wrote. Skipped holds stock
// item ids that did not resolve and so were not adjusted.
type Receipt struct {
	InvoiceID   string   `json:"invoice_id"`
	PurchaseIDs []string `json:"purchase_ids,omitempty"`
	Skipped     []string `json:"skipped,omitempty"`
}

type TransactionService struct {
	W Writer
}

func NewTransactionService(w Writer) *TransactionService {
	return &TransactionService{W: w}
}

// CreateBuy records one invoice, one purchase per item, and increments
// each referenced stock item, all in one batch.
func (s *TransactionService) CreateBuy(ctx context.Context, owner string, req TradeRequest) (Receipt, error) {
	return s.submit(ctx, owner, domain.SideBuy, req)
}

// CreateSell records one invoice and decrements each referenced stock
// item, floored at zero.
func (s *TransactionService) CreateSell(ctx context.Context, owner string, req TradeRequest) (Receipt, error) {
	return s.submit(ctx, owner, domain.SideSell, req)
}

func (s *TransactionService) submit(ctx context.Context, owner string, side domain.TradeSide, req TradeRequest) (Receipt, error) {
	start := time.Now()
	var rc Receipt
	applog.Info(nil, "txn.submit", map[string]any{"owner": owner, "side": string(side), "items": len(req.Items)})

	_, err := s.W.Write(ctx, owner, func(tx *repos.Tx) error {
		rc = Receipt{InvoiceID: uuid.NewString()}

		for _, it := range req.Items {
			if side == domain.SideBuy {
				p := &domain.Purchase{
					ID:           uuid.NewString(),
					PartnerID:    req.PartnerID,
					CropName:     it.CropName,
					Quantity:     it.Quantity,
					Rate:         it.Rate,
					TotalAmount:  it.Total,
					PurchaseDate: tx.Now(),
					OwnerID:      owner,
				}
				if err := tx.Create(p); err != nil {
					return err
				}
				rc.PurchaseIDs = append(rc.PurchaseIDs, p.ID)
			}

			item, err := tx.StockItem(it.StockItemID)
			if errors.Is(err, domain.ErrNotFound) {
				applog.Warn(nil, "txn.stock.missing", err, map[string]any{"owner": owner, "stock_item_id": it.StockItemID})
				rc.Skipped = append(rc.Skipped, it.StockItemID)
				continue
			}
			if err != nil {
				return err
			}
			if side == domain.SideBuy {
				item.TotalQuantity += it.Quantity
			} else {
				next := item.TotalQuantity - it.Quantity
				if next < 0 {
					applog.Warn(nil, "txn.sell.clamp", nil, map[string]any{
						"owner": owner, "stock_item_id": item.ID, "have": item.TotalQuantity, "sold": it.Quantity,
					})
					next = 0
				}
				item.TotalQuantity = next
			}
			if err := tx.Update(item); err != nil {
				return err
			}
		}

		// staged last so a rejected invoice also discards the stock updates
		return tx.Create(&domain.Invoice{
			ID:              rc.InvoiceID,
			PartnerID:       req.PartnerID,
			Side:            side,
			TotalValue:      req.Payment.TotalValue,
			PaidAmount:      req.Payment.PaidAmount,
			RemainingAmount: req.Payment.TotalValue.Sub(req.Payment.PaidAmount),
			PaymentStatus:   req.Payment.Status,
			OwnerID:         owner,
		})
	})

	metrics.TxnDuration.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())
	if err != nil {
		err = classify("txn "+string(side), err)
		metrics.TxnTotal.WithLabelValues(string(side), "failed").Inc()
		applog.Error(nil, "txn.fail", err, map[string]any{"owner": owner, "side": string(side)})
		return Receipt{}, err
	}
	metrics.TxnTotal.WithLabelValues(string(side), "committed").Inc()
	applog.Audit(nil, "txn.commit", map[string]any{
		"owner": owner, "side": string(side), "invoice_id": rc.InvoiceID,
		"purchases": len(rc.PurchaseIDs), "skipped": len(rc.Skipped),
	})
	return rc, nil
}

// classify keeps the typed errors callers branch on and wraps anything
// else as a storage failure.
func classify(op string, err error) error {
	var se *domain.StorageError
	var ce *domain.SyncConflictError
	switch {
	case errors.As(err, &se), errors.As(err, &ce),
		errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound):
		return err
	default:
		return &domain.StorageError{Op: op, Err: err}
	}
}
