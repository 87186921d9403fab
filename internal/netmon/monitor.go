// Package netmon tracks whether the cloud is reachable and tells listeners
// when that changes.
package netmon

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	applog "cropledger/internal/log"
)

// Prober reports whether the remote side answers.
type Prober interface {
	Ping(ctx context.Context) error
}

// Listener receives (previous, current) on every transition.
type Listener func(was, now bool)

// Monitor starts offline; the first successful probe is a transition.
type Monitor struct {
	prober   Prober
	interval time.Duration
	limiter  *rate.Limiter

	mu        sync.Mutex
	online    bool
	listeners []Listener
}

func New(p Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		prober:   p,
		interval: interval,
		// manual probes (status endpoint, CLI) share the budget with the ticker
		limiter: rate.NewLimiter(rate.Every(interval/2), 2),
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnTransition registers fn. Listeners run synchronously on the goroutine
// that observed the change, in registration order.
func (m *Monitor) OnTransition(fn Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Set forces the state, notifying listeners when it changes.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	ls := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	if was == online {
		return
	}
	applog.Info(nil, "netmon.transition", map[string]any{"online": online})
	for _, fn := range ls {
		fn(was, online)
	}
}

// Probe pings once unless the limiter is exhausted, in which case the last
// known state is returned.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.prober == nil || !m.limiter.Allow() {
		return m.Online()
	}
	pctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	err := m.prober.Ping(pctx)
	if err != nil && m.Online() {
		applog.Warn(nil, "netmon.probe", err, nil)
	}
	m.Set(err == nil)
	return err == nil
}

// Run probes immediately and then on every tick until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.Probe(ctx)
		}
	}
}
