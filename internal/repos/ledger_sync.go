package repos

import (
	"context"
	"errors"
	"fmt"

	"cropledger/internal/domain"
	applog "cropledger/internal/log"
)

// MergeResult counts what a MergeRemote call did.
type MergeResult struct {
	Applied     int `json:"applied"`
	Stale       int `json:"stale"`        // revision already known
	Pending     int `json:"pending"`      // local write awaiting acknowledgement
	ForeignSkip int `json:"foreign_skip"` // another owner's record
}

// MergeRemote applies cloud records to the ledger as one batch. A row with
// unacknowledged local writes is never overwritten, and a revision at or
// below the one already held is a no-op.
func (l *Ledger) MergeRemote(ctx context.Context, owner string, recs []domain.RemoteRecord) (MergeResult, error) {
	var res MergeResult
	_, err := l.Write(ctx, owner, func(t *Tx) error {
		for _, rr := range recs {
			if rr.Owner != owner {
				res.ForeignSkip++
				continue
			}
			tbl, err := tableFor(rr.Kind)
			if err != nil {
				return err
			}
			cur, err := loadRecord(t.ctx, t.tx, rr.Kind, owner, rr.ID, true)
			switch {
			case err == nil:
				cm := cur.Meta()
				if cm.PendingOps > 0 {
					res.Pending++
					continue
				}
				if rr.Rev <= cm.RemoteRev {
					res.Stale++
					continue
				}
			case errors.Is(err, domain.ErrNotFound):
				if rr.Deleted {
					res.Stale++
					continue
				}
			default:
				return err
			}

			rec, err := domain.DecodeRecord(rr.Kind, rr.Data)
			if err != nil {
				return err
			}
			if rec.RecordID() != rr.ID || rec.Owner() != owner {
				applog.Warn(nil, "ledger.merge.mismatch", nil, map[string]any{
					"owner": owner, "kind": string(rr.Kind), "id": rr.ID, "body_id": rec.RecordID(),
				})
				res.ForeignSkip++
				continue
			}
			m := rec.Meta()
			created, updated := m.CreatedAt, m.UpdatedAt
			if created == "" {
				created = t.now
			}
			if updated == "" {
				updated = t.now
			}
			*m = domain.SyncMeta{
				CloudID:   rr.CloudID,
				SyncState: domain.SyncSynced,
				RemoteRev: rr.Rev,
				Deleted:   rr.Deleted,
				CreatedAt: created,
				UpdatedAt: updated,
			}
			if _, err := t.tx.NamedExecContext(t.ctx, tbl.upsertSQL(), rec); err != nil {
				return &domain.StorageError{Op: "merge " + tbl.name, Err: err}
			}
			t.touched[rr.Kind] = true
			res.Applied++
		}
		return nil
	})
	return res, err
}

// MarkSynced records cloud acknowledgements: the cloud id mapping, the new
// revision, and one fewer outstanding local write per ack.
func (l *Ledger) MarkSynced(ctx context.Context, owner string, acks []domain.Ack) error {
	if len(acks) == 0 {
		return nil
	}
	_, err := l.Write(ctx, owner, func(t *Tx) error {
		for _, a := range acks {
			tbl, err := tableFor(a.Kind)
			if err != nil {
				return err
			}
			_, err = t.tx.ExecContext(t.ctx, `UPDATE `+tbl.name+` SET
				cloud_id    = ?,
				remote_rev  = MAX(remote_rev, ?),
				sync_state  = CASE WHEN pending_ops <= 1 THEN 'synced' ELSE 'pending' END,
				pending_ops = MAX(pending_ops - 1, 0)
				WHERE id = ? AND owner_id = ?`, a.CloudID, a.Rev, a.ID, owner)
			if err != nil {
				return &domain.StorageError{Op: "mark synced " + tbl.name, Err: err}
			}
			t.touched[a.Kind] = true
		}
		return nil
	})
	return err
}

// Revert undoes mutations the cloud rejected, newest first: a created row is
// tombstoned, an updated or deleted row gets its pre-image back.
func (l *Ledger) Revert(ctx context.Context, owner string, muts []domain.Mutation) error {
	_, err := l.Write(ctx, owner, func(t *Tx) error {
		for i := len(muts) - 1; i >= 0; i-- {
			m := muts[i]
			tbl, err := tableFor(m.Kind)
			if err != nil {
				return err
			}
			if m.Op == domain.OpCreate || len(m.Before) == 0 {
				_, err := t.tx.ExecContext(t.ctx, `UPDATE `+tbl.name+` SET
					deleted     = 1,
					sync_state  = CASE WHEN pending_ops <= 1 THEN 'error' ELSE 'pending' END,
					pending_ops = MAX(pending_ops - 1, 0),
					updated_at  = ?
					WHERE id = ? AND owner_id = ?`, t.now, m.ID, owner)
				if err != nil {
					return &domain.StorageError{Op: "revert " + tbl.name, Err: err}
				}
				t.touched[m.Kind] = true
				continue
			}

			cur, err := loadRecord(t.ctx, t.tx, m.Kind, owner, m.ID, true)
			if err != nil {
				return err
			}
			prev, err := domain.DecodeRecord(m.Kind, m.Before)
			if err != nil {
				return err
			}
			pm := prev.Meta()
			*pm = *cur.Meta()
			pm.Deleted = false
			pm.UpdatedAt = t.now
			if pm.PendingOps > 0 {
				pm.PendingOps--
			}
			pm.SyncState = domain.SyncError
			if pm.PendingOps > 0 {
				pm.SyncState = domain.SyncPending
			}
			if _, err := t.tx.NamedExecContext(t.ctx, tbl.updateSQL(), prev); err != nil {
				return &domain.StorageError{Op: "revert " + tbl.name, Err: err}
			}
			t.touched[m.Kind] = true
		}
		return nil
	})
	return err
}

// Rebase lifts each update/delete base revision to the revision the row now
// holds. While a row has outstanding local writes only this device's own
// acknowledgements can move its revision, so the lift never hides a remote
// change.
func (l *Ledger) Rebase(ctx context.Context, owner string, muts []domain.Mutation) ([]domain.Mutation, error) {
	out := make([]domain.Mutation, len(muts))
	copy(out, muts)
	for i, m := range out {
		if m.Op == domain.OpCreate {
			continue
		}
		tbl, err := tableFor(m.Kind)
		if err != nil {
			return nil, err
		}
		var rev int64
		if err := l.db.GetContext(ctx, &rev, `SELECT remote_rev FROM `+tbl.name+` WHERE id = ? AND owner_id = ?`, m.ID, owner); err != nil {
			return nil, fmt.Errorf("rebase %s %s: %w", m.Kind, m.ID, err)
		}
		if rev > m.BaseRev {
			out[i].BaseRev = rev
		}
	}
	return out, nil
}

// PendingRows counts the owner's rows with unacknowledged local writes.
func (l *Ledger) PendingRows(ctx context.Context, owner string) (int, error) {
	total := 0
	for _, k := range domain.Kinds {
		tbl := tables[k]
		var n int
		if err := l.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM `+tbl.name+` WHERE owner_id = ? AND pending_ops > 0`, owner); err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
