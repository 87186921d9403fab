package syncer

import (
	"context"
	"errors"

	"cropledger/internal/cloud"
	"cropledger/internal/domain"
	"cropledger/internal/license"
	applog "cropledger/internal/log"
	"cropledger/internal/metrics"
	"cropledger/internal/repos"
)

// FlushResult reports one pass over the offline queue.
type FlushResult struct {
	Pushed    int `json:"pushed"`
	Reverted  int `json:"reverted"`
	Remaining int `json:"remaining"`
}

// ProcessOfflineMessages replays the owner's queued batches in the order
// they were committed. It stops at the first batch the cloud cannot take
// yet, leaving it and everything after it queued. A batch the cloud
// rejects is reverted locally and dropped, together with every later
// batch that wrote to the same rows.
func (e *Engine) ProcessOfflineMessages(ctx context.Context, owner string) (FlushResult, error) {
	var res FlushResult
	if err := e.lic.Allow(owner, license.FeatureCloudSync); err != nil {
		return res, err
	}

	e.pushMu.Lock()
	defer e.pushMu.Unlock()

	batches, err := e.queue.Pending(ctx, owner)
	if err != nil {
		return res, err
	}
	defer func() {
		if depth, err := e.queue.Depth(ctx, owner); err == nil {
			metrics.QueueDepth.Set(float64(depth))
		}
	}()

	dropped := map[int64]bool{}
	for i, b := range batches {
		if dropped[b.Seq] {
			continue
		}
		err := e.push(ctx, owner, b.Mutations)
		switch {
		case err == nil:
			metrics.PushTotal.WithLabelValues("ok").Inc()
			res.Pushed++
			if err := e.queue.Delete(ctx, b.Seq); err != nil {
				return res, err
			}
		case errors.Is(err, cloud.ErrConflict):
			metrics.PushTotal.WithLabelValues("conflict").Inc()
			chain := dependents(batches[i:], dropped)
			applog.Warn(nil, "sync.flush.conflict", err, map[string]any{"owner": owner, "seq": b.Seq, "batches": len(chain)})
			var muts []domain.Mutation
			for _, d := range chain {
				muts = append(muts, d.Mutations...)
			}
			if rerr := e.ledger.Revert(ctx, owner, muts); rerr != nil {
				return res, rerr
			}
			for _, d := range chain {
				if err := e.queue.Delete(ctx, d.Seq); err != nil {
					return res, err
				}
				dropped[d.Seq] = true
			}
			res.Reverted += len(chain)
		default:
			if merr := e.queue.MarkAttempt(ctx, b.Seq, err); merr != nil {
				applog.Error(nil, "sync.flush.attempt", merr, map[string]any{"owner": owner, "seq": b.Seq})
			}
			if errors.Is(err, cloud.ErrUnavailable) {
				e.net.Set(false)
			}
			for _, rest := range batches[i:] {
				if !dropped[rest.Seq] {
					res.Remaining++
				}
			}
			applog.Warn(nil, "sync.flush.stopped", err, map[string]any{"owner": owner, "seq": b.Seq, "remaining": res.Remaining})
			return res, nil
		}
	}
	if len(batches) > 0 {
		applog.Info(nil, "sync.flush", map[string]any{"owner": owner, "pushed": res.Pushed, "reverted": res.Reverted})
	}
	return res, nil
}

type rowKey struct {
	kind domain.Kind
	id   string
}

// dependents returns batches[0] plus every later batch that touches a row
// written by a batch already in the chain. Later batches captured their
// pre-images on top of earlier ones, so the chain is only undone as a whole.
func dependents(batches []repos.QueuedBatch, skip map[int64]bool) []repos.QueuedBatch {
	rows := map[rowKey]bool{}
	chain := []repos.QueuedBatch{batches[0]}
	for _, m := range batches[0].Mutations {
		rows[rowKey{m.Kind, m.ID}] = true
	}
	for _, b := range batches[1:] {
		if skip[b.Seq] {
			continue
		}
		hit := false
		for _, m := range b.Mutations {
			if rows[rowKey{m.Kind, m.ID}] {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		chain = append(chain, b)
		for _, m := range b.Mutations {
			rows[rowKey{m.Kind, m.ID}] = true
		}
	}
	return chain
}
