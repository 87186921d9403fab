package handlers

import (
	"github.com/gofiber/fiber/v2"

	"cropledger/internal/domain"
	"cropledger/internal/services"
	"cropledger/internal/validate"
)

type PartnerHandler struct {
	Partners *services.PartnerService
}

type partnerReq struct {
	Name    string `json:"name" validate:"required,max=80"`
	Role    string `json:"role" validate:"required,oneof=farmer buyer"`
	Phone   string `json:"phone" validate:"omitempty,max=20,numeric"`
	Address string `json:"address" validate:"max=200"`
}

type contactReq struct {
	Name    string `json:"name" validate:"omitempty,max=80"`
	Phone   string `json:"phone" validate:"omitempty,max=20,numeric"`
	Address string `json:"address" validate:"max=200"`
}

// partnerView is the listing shape; the phone number is masked.
type partnerView struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Role      string           `json:"role"`
	Phone     string           `json:"phone"`
	Address   string           `json:"address"`
	SyncState domain.SyncState `json:"sync_state"`
}

func viewOf(p domain.Partner) partnerView {
	return partnerView{ID: p.ID, Name: p.Name, Role: string(p.Role), Phone: p.MaskedPhone(), Address: p.Address, SyncState: p.SyncState}
}

func (h *PartnerHandler) List(c *fiber.Ctx) error {
	q := ""
	if raw := c.Query("q"); raw != "" {
		var ok bool
		if q, ok = validate.Q(raw); !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid search"})
		}
	}
	role := domain.PartnerRole(c.Query("role"))
	if role != "" && role != domain.RoleFarmer && role != domain.RoleBuyer {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid role"})
	}
	ps, err := h.Partners.List(c.UserContext(), owner(c), role, q)
	if err != nil {
		return fail(c, "partner.list", err)
	}
	out := make([]partnerView, 0, len(ps))
	for _, p := range ps {
		out = append(out, viewOf(p))
	}
	return c.JSON(out)
}

func (h *PartnerHandler) Create(c *fiber.Ctx) error {
	var req partnerReq
	if err := bind(c, &req); err != nil {
		return fail(c, "partner.create", err)
	}
	p, err := h.Partners.CreatePartner(c.UserContext(), owner(c), domain.Partner{
		Name: req.Name, Role: domain.PartnerRole(req.Role), Phone: req.Phone, Address: req.Address,
	})
	if err != nil {
		return fail(c, "partner.create", err)
	}
	return c.Status(fiber.StatusCreated).JSON(viewOf(*p))
}

func (h *PartnerHandler) UpdateContact(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}
	var req contactReq
	if err := bind(c, &req); err != nil {
		return fail(c, "partner.update", err)
	}
	p, err := h.Partners.UpdatePartnerContact(c.UserContext(), owner(c), id, req.Name, req.Phone, req.Address)
	if err != nil {
		return fail(c, "partner.update", err)
	}
	return c.JSON(viewOf(*p))
}

func (h *PartnerHandler) Outstanding(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}
	inv, err := h.Partners.Outstanding(c.UserContext(), owner(c), id)
	if err != nil {
		return fail(c, "partner.outstanding", err)
	}
	return c.JSON(inv)
}
