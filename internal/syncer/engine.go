// Package syncer keeps the local ledger and the cloud store convergent:
// pushing local batches, queueing them while offline, pulling full
// snapshots, and following the cloud's change stream.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"cropledger/internal/cloud"
	"cropledger/internal/domain"
	"cropledger/internal/license"
	applog "cropledger/internal/log"
	"cropledger/internal/metrics"
	"cropledger/internal/netmon"
	"cropledger/internal/repos"
)

// Queue is the durable store of batches waiting for the cloud.
// *repos.QueueRepo implements it.
type Queue interface {
	Enqueue(ctx context.Context, owner string, muts []domain.Mutation) (int64, error)
	Pending(ctx context.Context, owner string) ([]repos.QueuedBatch, error)
	Delete(ctx context.Context, seq int64) error
	MarkAttempt(ctx context.Context, seq int64, cause error) error
	Depth(ctx context.Context, owner string) (int, error)
}

type Options struct {
	Stream  cloud.Stream
	License license.Checker
}

// Engine wraps the ledger with cloud propagation. It is the Writer the
// services commit through.
type Engine struct {
	ledger *repos.Ledger
	queue  Queue
	store  cloud.Store
	stream cloud.Stream
	net    *netmon.Monitor
	lic    license.Checker

	// one push or flush at a time, so queued batches keep their order
	pushMu sync.Mutex
	pulls  singleflight.Group

	mu      sync.Mutex
	owner   string
	changed chan struct{}
	flushes atomic.Int64
}

func New(l *repos.Ledger, q Queue, store cloud.Store, net *netmon.Monitor, opts Options) *Engine {
	e := &Engine{
		ledger: l,
		queue:  q,
		store:  store,
		stream: opts.Stream,
		net:    net,
		lic:    opts.License,

		changed: make(chan struct{}, 1),
	}
	if e.lic == nil {
		e.lic = license.AllowAll{}
	}
	net.OnTransition(e.onTransition)
	return e
}

func (e *Engine) Ledger() *repos.Ledger    { return e.ledger }
func (e *Engine) Monitor() *netmon.Monitor { return e.net }

// SetOwner selects whose queue is flushed when connectivity returns and
// whose change stream Follow tracks.
func (e *Engine) SetOwner(owner string) {
	e.mu.Lock()
	prev := e.owner
	e.owner = owner
	e.mu.Unlock()
	if prev == owner {
		return
	}
	select {
	case e.changed <- struct{}{}:
	default:
	}
}

func (e *Engine) Owner() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.owner
}

// Flushes counts queue flushes started by connectivity transitions.
func (e *Engine) Flushes() int64 { return e.flushes.Load() }

func (e *Engine) onTransition(was, now bool) {
	if now {
		metrics.Online.Set(1)
	} else {
		metrics.Online.Set(0)
	}
	if was || !now {
		return
	}
	owner := e.Owner()
	if owner == "" {
		return
	}
	e.flushes.Add(1)
	if _, err := e.ProcessOfflineMessages(context.Background(), owner); err != nil {
		applog.Error(nil, "sync.flush", err, map[string]any{"owner": owner})
	}
}

// Write commits fn as one ledger batch and propagates it. A cloud rejection
// reverts the batch locally and returns *domain.SyncConflictError; an
// unreachable cloud defers the batch to the offline queue and is not an
// error.
func (e *Engine) Write(ctx context.Context, owner string, fn func(*repos.Tx) error) (repos.Committed, error) {
	return Optimistic(ctx,
		func(ctx context.Context) (repos.Committed, error) {
			return e.ledger.Write(ctx, owner, fn)
		},
		func(ctx context.Context, c repos.Committed) error {
			err := e.Propagate(ctx, c)
			var ce *domain.SyncConflictError
			if err != nil && !errors.As(err, &ce) {
				// the batch is durable locally; keep it rather than undo it
				applog.Error(nil, "sync.propagate", err, map[string]any{"owner": c.Owner})
				return nil
			}
			return err
		},
		func(ctx context.Context, c repos.Committed) error {
			return e.ledger.Revert(ctx, c.Owner, c.Mutations)
		},
	)
}

// Propagate hands a committed batch to the cloud, or to the offline queue
// when the cloud cannot take it now. Only a definitive rejection is returned.
func (e *Engine) Propagate(ctx context.Context, c repos.Committed) error {
	if c.Empty() {
		return nil
	}
	if err := e.lic.Allow(c.Owner, license.FeatureCloudSync); err != nil {
		applog.Info(nil, "sync.local_only", map[string]any{"owner": c.Owner, "reason": err.Error()})
		return e.enqueue(ctx, c.Owner, c.Mutations)
	}

	e.pushMu.Lock()
	defer e.pushMu.Unlock()

	if !e.net.Online() {
		return e.enqueue(ctx, c.Owner, c.Mutations)
	}
	depth, err := e.queue.Depth(ctx, c.Owner)
	if err != nil || depth > 0 {
		// older batches may still be waiting; this one goes behind them
		if err != nil {
			applog.Warn(nil, "sync.queue.depth", err, map[string]any{"owner": c.Owner})
		}
		return e.enqueue(ctx, c.Owner, c.Mutations)
	}

	err = e.push(ctx, c.Owner, c.Mutations)
	switch {
	case err == nil:
		metrics.PushTotal.WithLabelValues("ok").Inc()
		return nil
	case errors.Is(err, cloud.ErrConflict):
		metrics.PushTotal.WithLabelValues("conflict").Inc()
		applog.Warn(nil, "sync.conflict", err, map[string]any{"owner": c.Owner, "mutations": len(c.Mutations)})
		return conflict(c.Mutations, err)
	default:
		applog.Warn(nil, "sync.defer", err, map[string]any{"owner": c.Owner})
		if errors.Is(err, cloud.ErrUnavailable) {
			e.net.Set(false)
		}
		return e.enqueue(ctx, c.Owner, c.Mutations)
	}
}

// push sends one batch and records the acknowledgements. Callers hold pushMu.
func (e *Engine) push(ctx context.Context, owner string, muts []domain.Mutation) error {
	muts, err := e.ledger.Rebase(ctx, owner, muts)
	if err != nil {
		return err
	}
	acks, err := e.store.Apply(ctx, owner, muts)
	if err != nil {
		return err
	}
	if err := e.ledger.MarkSynced(ctx, owner, acks); err != nil {
		// the cloud has the batch; the rows stay pending until the next push or pull repairs them
		applog.Error(nil, "sync.mark_synced", err, map[string]any{"owner": owner})
	}
	return nil
}

func (e *Engine) enqueue(ctx context.Context, owner string, muts []domain.Mutation) error {
	seq, err := e.queue.Enqueue(ctx, owner, muts)
	if err != nil {
		return err
	}
	metrics.PushTotal.WithLabelValues("queued").Inc()
	metrics.QueueDepth.Inc()
	applog.Info(nil, "sync.queued", map[string]any{"owner": owner, "seq": seq, "mutations": len(muts)})
	return nil
}

func conflict(muts []domain.Mutation, err error) *domain.SyncConflictError {
	ce := &domain.SyncConflictError{Err: err}
	seen := map[domain.Kind]bool{}
	for _, m := range muts {
		ce.IDs = append(ce.IDs, m.ID)
		if !seen[m.Kind] {
			seen[m.Kind] = true
			ce.Kinds = append(ce.Kinds, m.Kind)
		}
	}
	return ce
}

// FullSync pulls every kind for owner and merges it as one ledger batch.
// Concurrent calls for the same owner share one pull.
func (e *Engine) FullSync(ctx context.Context, owner string) (repos.MergeResult, error) {
	v, err, _ := e.pulls.Do(owner, func() (any, error) {
		var all []domain.RemoteRecord
		for _, k := range domain.Kinds {
			recs, err := e.store.Snapshot(ctx, owner, k)
			if err != nil {
				if errors.Is(err, cloud.ErrUnavailable) {
					e.net.Set(false)
				}
				return repos.MergeResult{}, fmt.Errorf("snapshot %s: %w", k, err)
			}
			all = append(all, recs...)
		}
		res, err := e.ledger.MergeRemote(ctx, owner, all)
		if err != nil {
			return res, err
		}
		metrics.MergedRecords.WithLabelValues("full").Add(float64(res.Applied))
		applog.Info(nil, "sync.full", map[string]any{
			"owner": owner, "applied": res.Applied, "stale": res.Stale, "pending": res.Pending,
		})
		return res, nil
	})
	res, _ := v.(repos.MergeResult)
	return res, err
}

// Status is a point-in-time view of sync health for one owner.
type Status struct {
	Online      bool  `json:"online"`
	QueueDepth  int   `json:"queue_depth"`
	PendingRows int   `json:"pending_rows"`
	Flushes     int64 `json:"flushes"`
}

func (e *Engine) Status(ctx context.Context, owner string) (Status, error) {
	depth, err := e.queue.Depth(ctx, owner)
	if err != nil {
		return Status{}, err
	}
	rows, err := e.ledger.PendingRows(ctx, owner)
	if err != nil {
		return Status{}, err
	}
	return Status{Online: e.net.Online(), QueueDepth: depth, PendingRows: rows, Flushes: e.Flushes()}, nil
}
