package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"cropledger/internal/domain"
	"cropledger/internal/services"
	"cropledger/internal/validate"
)

type StockHandler struct {
	Stock *services.StockService
}

type variantReq struct {
	WeightKg   float64         `json:"weight_kg" validate:"gt=0"`
	RatePerBag decimal.Decimal `json:"rate_per_bag" validate:"gte=0"`
	Quantity   int             `json:"quantity" validate:"gte=0"`
	TotalValue decimal.Decimal `json:"total_value" validate:"gte=0"`
}

type stockReq struct {
	ItemName   string       `json:"item_name" validate:"required,max=80"`
	CategoryID string       `json:"category_id" validate:"omitempty,rid"`
	Variants   []variantReq `json:"variants" validate:"max=50,dive"`
}

func (r stockReq) variants() []domain.Variant {
	out := make([]domain.Variant, 0, len(r.Variants))
	for _, v := range r.Variants {
		out = append(out, domain.Variant{WeightKg: v.WeightKg, RatePerBag: v.RatePerBag, Quantity: v.Quantity, TotalValue: v.TotalValue})
	}
	return out
}

func (h *StockHandler) List(c *fiber.Ctx) error {
	cat := c.Query("category")
	if cat != "" {
		if _, ok := validate.ID(cat); !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid category"})
		}
	}
	rows, err := h.Stock.List(c.UserContext(), owner(c), cat)
	if err != nil {
		return fail(c, "stock.list", err)
	}
	return c.JSON(rows)
}

func (h *StockHandler) Create(c *fiber.Ctx) error {
	var req stockReq
	if err := bind(c, &req); err != nil {
		return fail(c, "stock.create", err)
	}
	id, err := h.Stock.CreateStockItem(c.UserContext(), owner(c), req.ItemName, req.CategoryID, req.variants())
	if err != nil {
		return fail(c, "stock.create", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
}

func (h *StockHandler) Update(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}
	var req stockReq
	if err := bind(c, &req); err != nil {
		return fail(c, "stock.update", err)
	}
	if err := h.Stock.UpdateStockItem(c.UserContext(), owner(c), id, req.ItemName, req.CategoryID, req.variants()); err != nil {
		return fail(c, "stock.update", err)
	}
	return c.JSON(fiber.Map{"id": id})
}

func (h *StockHandler) Delete(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}
	if err := h.Stock.DeleteStockItem(c.UserContext(), owner(c), id); err != nil {
		return fail(c, "stock.delete", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
