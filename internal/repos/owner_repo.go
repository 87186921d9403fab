package repos

import (
	"github.com/jmoiron/sqlx"

	"cropledger/internal/domain"
)

// OwnerRepo stores device owners and the sessions bound to them.
type OwnerRepo struct{ DB *sqlx.DB }

func NewOwnerRepo(db *sqlx.DB) *OwnerRepo { return &OwnerRepo{DB: db} }

func (r *OwnerRepo) ByID(id string) (*domain.Owner, error) {
	var o domain.Owner
	err := r.DB.Get(&o, `SELECT id,name,pin_hash FROM owners WHERE id=?`, id)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OwnerRepo) BindSession(sid, ownerID string) error {
	_, err := r.DB.Exec(`INSERT INTO sessions(id,owner_id,last_seen)
                          VALUES(?,?,CURRENT_TIMESTAMP)
                          ON CONFLICT(id) DO UPDATE SET owner_id=excluded.owner_id,last_seen=CURRENT_TIMESTAMP`, sid, ownerID)
	return err
}

func (r *OwnerRepo) SessionOwner(sid string) (*domain.Owner, error) {
	var o domain.Owner
	err := r.DB.Get(&o, `
      SELECT o.id,o.name,o.pin_hash
      FROM sessions s
      JOIN owners o ON o.id=s.owner_id
      WHERE s.id=?`, sid)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OwnerRepo) UnbindSession(sid string) error {
	_, err := r.DB.Exec(`UPDATE sessions SET owner_id=NULL,last_seen=CURRENT_TIMESTAMP WHERE id=?`, sid)
	return err
}
