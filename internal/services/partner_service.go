package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"cropledger/internal/domain"
	applog "cropledger/internal/log"
	"cropledger/internal/repos"
)

type PartnerService struct {
	W     Writer
	Repo  *repos.PartnerRepo
	Order *repos.OrderRepo
}

func NewPartnerService(w Writer, repo *repos.PartnerRepo, orders *repos.OrderRepo) *PartnerService {
	return &PartnerService{W: w, Repo: repo, Order: orders}
}

func (s *PartnerService) CreatePartner(ctx context.Context, owner string, p domain.Partner) (*domain.Partner, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("%w: partner name required", domain.ErrValidation)
	}
	if p.Role != domain.RoleFarmer && p.Role != domain.RoleBuyer {
		return nil, fmt.Errorf("%w: role must be farmer or buyer", domain.ErrValidation)
	}
	p.ID = uuid.NewString()
	p.OwnerID = owner
	if _, err := s.W.Write(ctx, owner, func(tx *repos.Tx) error { return tx.Create(&p) }); err != nil {
		return nil, classify("create partner", err)
	}
	applog.Audit(nil, "partner.create", map[string]any{"owner": owner, "id": p.ID, "phone": p.MaskedPhone()})
	return &p, nil
}

// UpdatePartnerContact changes name, phone, and address. Role is fixed at creation.
func (s *PartnerService) UpdatePartnerContact(ctx context.Context, owner, id, name, phone, address string) (*domain.Partner, error) {
	var out *domain.Partner
	_, err := s.W.Write(ctx, owner, func(tx *repos.Tx) error {
		rec, err := tx.Get(domain.KindPartner, id)
		if err != nil {
			return err
		}
		p := rec.(*domain.Partner)
		if name != "" {
			p.Name = name
		}
		p.Phone = phone
		p.Address = address
		out = p
		return tx.Update(p)
	})
	if err != nil {
		return nil, classify("update partner", err)
	}
	applog.Audit(nil, "partner.update", map[string]any{"owner": owner, "id": id, "phone": out.MaskedPhone()})
	return out, nil
}

func (s *PartnerService) List(ctx context.Context, owner string, role domain.PartnerRole, q string) ([]domain.Partner, error) {
	if q != "" {
		return s.Repo.Search(ctx, owner, q)
	}
	return s.Repo.List(ctx, owner, role)
}

// Outstanding lists the partner's invoices that are not fully paid.
func (s *PartnerService) Outstanding(ctx context.Context, owner, id string) ([]domain.Invoice, error) {
	return s.Order.Outstanding(ctx, owner, id)
}
