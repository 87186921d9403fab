package repos

import (
	"context"

	"github.com/jmoiron/sqlx"

	"cropledger/internal/domain"
)

type PartnerRepo struct{ db *sqlx.DB }

func NewPartnerRepo(db *sqlx.DB) *PartnerRepo { return &PartnerRepo{db: db} }

// List returns the owner's partners, optionally of one role, by name.
func (r *PartnerRepo) List(ctx context.Context, owner string, role domain.PartnerRole) ([]domain.Partner, error) {
	q := tables[domain.KindPartner].selectSQL() + ` WHERE owner_id = ? AND deleted = 0`
	args := []any{owner}
	if role != "" {
		q += ` AND role = ?`
		args = append(args, role)
	}
	q += ` ORDER BY LOWER(name), rowid`
	out := []domain.Partner{}
	err := r.db.SelectContext(ctx, &out, q, args...)
	return out, err
}

func (r *PartnerRepo) Search(ctx context.Context, owner, q string) ([]domain.Partner, error) {
	out := []domain.Partner{}
	err := r.db.SelectContext(ctx, &out, tables[domain.KindPartner].selectSQL()+`
		WHERE owner_id = ? AND deleted = 0 AND (LOWER(name) LIKE ? OR phone LIKE ?)
		ORDER BY LOWER(name) LIMIT 50`, owner, "%"+q+"%", "%"+q+"%")
	return out, err
}
