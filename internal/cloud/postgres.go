package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"cropledger/internal/domain"
)

// LedgerRecord is the cloud row for any synced entity. Bodies are kept as
// the client serialized them; the cloud only versions and routes them.
type LedgerRecord struct {
	ID        uint        `gorm:"primaryKey"`
	CloudID   string      `gorm:"type:uuid;uniqueIndex;not null"`
	OwnerID   string      `gorm:"index:idx_ledger_owner_kind;not null"`
	Kind      domain.Kind `gorm:"index:idx_ledger_owner_kind;uniqueIndex:idx_ledger_kind_client;not null"`
	ClientID  string      `gorm:"uniqueIndex:idx_ledger_kind_client;not null"`
	Rev       int64       `gorm:"not null;default:1"`
	Deleted   bool        `gorm:"not null;default:false"`
	Data      []byte      `gorm:"type:jsonb;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (LedgerRecord) TableName() string { return "ledger_records" }

func (r LedgerRecord) remote() domain.RemoteRecord {
	return domain.RemoteRecord{
		Kind:    r.Kind,
		ID:      r.ClientID,
		CloudID: r.CloudID,
		Owner:   r.OwnerID,
		Rev:     r.Rev,
		Deleted: r.Deleted,
		Data:    json.RawMessage(r.Data),
	}
}

// Postgres is the Store backed by a shared PostgreSQL database. Committed
// batches are announced through pub when one is configured.
type Postgres struct {
	db  *gorm.DB
	pub Publisher
}

func OpenPostgres(dsn string, pub Publisher) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := db.AutoMigrate(&LedgerRecord{}); err != nil {
		return nil, fmt.Errorf("migrate ledger_records: %w", err)
	}
	return &Postgres{db: db, pub: pub}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return classify(err)
	}
	return classify(sqlDB.PingContext(ctx))
}

func (p *Postgres) Snapshot(ctx context.Context, owner string, kind domain.Kind) ([]domain.RemoteRecord, error) {
	var rows []LedgerRecord
	err := p.db.WithContext(ctx).
		Where("owner_id = ? AND kind = ?", owner, kind).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	out := make([]domain.RemoteRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.remote())
	}
	return out, nil
}

func (p *Postgres) Apply(ctx context.Context, owner string, muts []domain.Mutation) ([]domain.Ack, error) {
	acks := make([]domain.Ack, 0, len(muts))
	changes := make([]domain.Change, 0, len(muts))

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range muts {
			if m.Owner != owner {
				return fmt.Errorf("%w: %s %s owned by %q", ErrConflict, m.Kind, m.ID, m.Owner)
			}
			var cur LedgerRecord
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("kind = ? AND client_id = ?", m.Kind, m.ID).
				Take(&cur).Error
			found := err == nil
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if found && cur.OwnerID != owner {
				return fmt.Errorf("%w: %s %s belongs to another owner", ErrConflict, m.Kind, m.ID)
			}

			switch m.Op {
			case domain.OpCreate:
				if found {
					acks = append(acks, domain.Ack{Kind: m.Kind, ID: m.ID, CloudID: cur.CloudID, Rev: cur.Rev})
					continue
				}
				row := LedgerRecord{CloudID: uuid.NewString(), OwnerID: owner, Kind: m.Kind, ClientID: m.ID, Rev: 1, Data: m.Data}
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
				acks = append(acks, domain.Ack{Kind: m.Kind, ID: m.ID, CloudID: row.CloudID, Rev: row.Rev})
				changes = append(changes, domain.Change{Type: domain.ChangeInsert, Record: row.remote()})
			case domain.OpUpdate, domain.OpDelete:
				if !found || cur.Deleted || cur.Rev != m.BaseRev {
					return fmt.Errorf("%w: %s %s at base rev %d", ErrConflict, m.Kind, m.ID, m.BaseRev)
				}
				cur.Rev++
				cur.Data = m.Data
				typ := domain.ChangeUpdate
				if m.Op == domain.OpDelete {
					cur.Deleted = true
					typ = domain.ChangeDelete
				}
				if err := tx.Save(&cur).Error; err != nil {
					return err
				}
				acks = append(acks, domain.Ack{Kind: m.Kind, ID: m.ID, CloudID: cur.CloudID, Rev: cur.Rev})
				changes = append(changes, domain.Change{Type: typ, Record: cur.remote()})
			default:
				return fmt.Errorf("%w: unknown op %q", ErrConflict, m.Op)
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	if p.pub != nil && len(changes) > 0 {
		// the batch is committed; a lost announcement is repaired by the next full sync
		_ = p.pub.Publish(ctx, owner, changes)
	}
	return acks, nil
}

// classify maps driver errors onto the two outcomes callers act on.
// Constraint violations (SQLSTATE class 23) are permanent; anything else
// is treated as the cloud being unreachable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
