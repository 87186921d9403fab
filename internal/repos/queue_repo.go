package repos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"cropledger/internal/domain"
)

// QueuedBatch is one deferred write: the mutations of one committed batch.
type QueuedBatch struct {
	Seq       int64             `db:"seq"`
	OwnerID   string            `db:"owner_id"`
	Payload   string            `db:"payload"`
	Attempts  int               `db:"attempts"`
	LastError string            `db:"last_error"`
	CreatedAt string            `db:"created_at"`
	Mutations []domain.Mutation `db:"-"`
}

// QueueRepo is the durable offline mutation log.
type QueueRepo struct{ db *sqlx.DB }

func NewQueueRepo(db *sqlx.DB) *QueueRepo { return &QueueRepo{db: db} }

// Enqueue appends a batch and returns its sequence number.
func (r *QueueRepo) Enqueue(ctx context.Context, owner string, muts []domain.Mutation) (int64, error) {
	b, err := json.Marshal(muts)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO offline_mutations(owner_id, payload, created_at)
		VALUES (?, ?, ?)
	`, owner, string(b), time.Now().UTC().Format(tsLayout))
	if err != nil {
		return 0, &domain.StorageError{Op: "enqueue", Err: err}
	}
	return res.LastInsertId()
}

// Pending returns the owner's queued batches in submission order.
func (r *QueueRepo) Pending(ctx context.Context, owner string) ([]QueuedBatch, error) {
	var rows []QueuedBatch
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT seq, owner_id, payload, attempts, last_error, created_at
		FROM offline_mutations
		WHERE owner_id = ?
		ORDER BY seq
	`, owner); err != nil {
		return nil, err
	}
	for i := range rows {
		if err := json.Unmarshal([]byte(rows[i].Payload), &rows[i].Mutations); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (r *QueueRepo) Delete(ctx context.Context, seq int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM offline_mutations WHERE seq = ?`, seq)
	return err
}

// MarkAttempt records a failed replay without removing the entry.
func (r *QueueRepo) MarkAttempt(ctx context.Context, seq int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE offline_mutations SET attempts = attempts + 1, last_error = ? WHERE seq = ?
	`, msg, seq)
	return err
}

func (r *QueueRepo) Depth(ctx context.Context, owner string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM offline_mutations WHERE owner_id = ?`, owner)
	return n, err
}
