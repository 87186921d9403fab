package handlers

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"cropledger/internal/domain"
	"cropledger/internal/repos"
	"cropledger/internal/services"
	"cropledger/internal/validate"
)

type TradeHandler struct {
	Trades *services.TransactionService
	Orders *repos.OrderRepo
}

type tradeItemReq struct {
	StockItemID string          `json:"stock_item_id" validate:"omitempty,rid"`
	CropName    string          `json:"crop_name" validate:"max=80"`
	Quantity    float64         `json:"quantity" validate:"gt=0"`
	Rate        decimal.Decimal `json:"rate" validate:"gte=0"`
	Total       decimal.Decimal `json:"total" validate:"gte=0"`
}

type paymentReq struct {
	TotalValue decimal.Decimal `json:"total_value" validate:"gte=0"`
	PaidAmount decimal.Decimal `json:"paid_amount" validate:"gte=0"`
	Status     string          `json:"payment_status" validate:"required,oneof=paid unpaid partial"`
}

type tradeReq struct {
	PartnerID string         `json:"partner_id" validate:"required,rid"`
	Items     []tradeItemReq `json:"items" validate:"required,min=1,max=100,dive"`
	Payment   paymentReq     `json:"payment"`
}

func (r tradeReq) check(side domain.TradeSide) error {
	if r.Payment.PaidAmount.GreaterThan(r.Payment.TotalValue) {
		return fmt.Errorf("%w: paid_amount exceeds total_value", domain.ErrValidation)
	}
	if side == domain.SideBuy {
		for i, it := range r.Items {
			if it.CropName == "" {
				return fmt.Errorf("%w: items[%d].crop_name required", domain.ErrValidation, i)
			}
		}
	}
	return nil
}

func (r tradeReq) request() services.TradeRequest {
	out := services.TradeRequest{
		PartnerID: r.PartnerID,
		Payment: services.Payment{
			TotalValue: r.Payment.TotalValue,
			PaidAmount: r.Payment.PaidAmount,
			Status:     domain.PaymentStatus(r.Payment.Status),
		},
	}
	for _, it := range r.Items {
		out.Items = append(out.Items, services.TradeItem{
			StockItemID: it.StockItemID, CropName: it.CropName, Quantity: it.Quantity, Rate: it.Rate, Total: it.Total,
		})
	}
	return out
}

func (h *TradeHandler) Buy(c *fiber.Ctx) error  { return h.trade(c, domain.SideBuy) }
func (h *TradeHandler) Sell(c *fiber.Ctx) error { return h.trade(c, domain.SideSell) }

func (h *TradeHandler) trade(c *fiber.Ctx, side domain.TradeSide) error {
	action := "txn." + string(side)
	var req tradeReq
	if err := bind(c, &req); err != nil {
		return fail(c, action, err)
	}
	if err := req.check(side); err != nil {
		return fail(c, action, err)
	}

	var (
		rc  services.Receipt
		err error
	)
	if side == domain.SideBuy {
		rc, err = h.Trades.CreateBuy(c.UserContext(), owner(c), req.request())
	} else {
		rc, err = h.Trades.CreateSell(c.UserContext(), owner(c), req.request())
	}
	if err != nil {
		return fail(c, action, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rc)
}

func limit(c *fiber.Ctx) int {
	n := c.QueryInt("limit", 50)
	if n < 1 || n > 500 {
		n = 50
	}
	return n
}

func (h *TradeHandler) Invoices(c *fiber.Ctx) error {
	f := repos.InvoiceFilter{
		Status: domain.PaymentStatus(c.Query("status")),
		Side:   domain.TradeSide(c.Query("side")),
		Limit:  limit(c),
	}
	if p := c.Query("partner"); p != "" {
		id, ok := validate.ID(p)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid partner"})
		}
		f.PartnerID = id
	}
	switch f.Status {
	case "", domain.PaymentPaid, domain.PaymentUnpaid, domain.PaymentPartial:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid status"})
	}
	switch f.Side {
	case "", domain.SideBuy, domain.SideSell:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid side"})
	}
	start := time.Now()
	inv, err := h.Orders.Invoices(c.UserContext(), owner(c), f)
	if err != nil {
		return fail(c, "invoice.list", err)
	}
	c.Set("Server-Timing", fmt.Sprintf("db;dur=%d", time.Since(start).Milliseconds()))
	return c.JSON(inv)
}

func (h *TradeHandler) Purchases(c *fiber.Ctx) error {
	partner := c.Query("partner")
	if partner != "" {
		if _, ok := validate.ID(partner); !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid partner"})
		}
	}
	ps, err := h.Orders.Purchases(c.UserContext(), owner(c), partner, limit(c))
	if err != nil {
		return fail(c, "purchase.list", err)
	}
	return c.JSON(ps)
}
