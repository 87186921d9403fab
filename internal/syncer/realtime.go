package syncer

import (
	"context"
	"errors"
	"time"

	"cropledger/internal/domain"
	applog "cropledger/internal/log"
	"cropledger/internal/metrics"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Run follows the owner's cloud change stream until ctx ends. Each
// (re)subscription is followed by a full sync so changes missed while
// disconnected are picked up.
func (e *Engine) Run(ctx context.Context, owner string) error {
	if e.stream == nil {
		return errors.New("no change stream configured")
	}
	backoff := minBackoff
	for {
		ch, err := e.stream.Subscribe(ctx, owner)
		if err == nil {
			backoff = minBackoff
			if _, err := e.FullSync(ctx, owner); err != nil {
				applog.Warn(nil, "sync.realtime.catchup", err, map[string]any{"owner": owner})
			}
			e.follow(ctx, owner, ch)
		} else {
			applog.Warn(nil, "sync.realtime.subscribe", err, map[string]any{"owner": owner})
		}
		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (e *Engine) follow(ctx context.Context, owner string, ch <-chan domain.Change) {
	for c := range ch {
		if c.Record.Owner != owner {
			continue
		}
		res, err := e.ledger.MergeRemote(ctx, owner, []domain.RemoteRecord{c.Record})
		if err != nil {
			applog.Error(nil, "sync.realtime.merge", err, map[string]any{"owner": owner, "id": c.Record.ID})
			continue
		}
		metrics.MergedRecords.WithLabelValues("stream").Add(float64(res.Applied))
	}
}

// Follow runs Run for the current owner and restarts it on the new owner
// whenever SetOwner changes it. With no owner set it waits.
func (e *Engine) Follow(ctx context.Context) error {
	if e.stream == nil {
		return errors.New("no change stream configured")
	}
	for {
		owner := e.Owner()
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		if owner != "" {
			applog.Info(nil, "sync.realtime.follow", map[string]any{"owner": owner})
			go func() { done <- e.Run(runCtx, owner) }()
		} else {
			done <- nil
		}

		select {
		case <-ctx.Done():
			cancel()
			return <-done
		case <-e.changed:
			cancel()
			if err := <-done; err != nil {
				return err
			}
		}
	}
}
