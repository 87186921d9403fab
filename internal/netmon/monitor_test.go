package netmon_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cropledger/internal/netmon"
)

type flakyProber struct{ up atomic.Bool }

func (p *flakyProber) Ping(context.Context) error {
	if p.up.Load() {
		return nil
	}
	return errors.New("no route to host")
}

func TestMonitor_SetNotifiesOnlyOnChange(t *testing.T) {
	m := netmon.New(nil, time.Second)
	var events [][2]bool
	m.OnTransition(func(was, now bool) { events = append(events, [2]bool{was, now}) })

	m.Set(false)
	m.Set(true)
	m.Set(true)
	m.Set(false)

	assert.Equal(t, [][2]bool{{false, true}, {true, false}}, events)
	assert.False(t, m.Online())
}

func TestMonitor_ProbeFollowsProber(t *testing.T) {
	p := &flakyProber{}
	m := netmon.New(p, time.Second)
	ctx := context.Background()

	assert.False(t, m.Probe(ctx))
	p.up.Store(true)
	assert.True(t, m.Probe(ctx))
	assert.True(t, m.Online())
}

func TestMonitor_RunStopsWithContext(t *testing.T) {
	p := &flakyProber{}
	p.up.Store(true)
	m := netmon.New(p, 20*time.Millisecond)

	wentOnline := make(chan struct{}, 1)
	m.OnTransition(func(_, now bool) {
		if now {
			wentOnline <- struct{}{}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-wentOnline:
	case <-time.After(time.Second):
		t.Fatal("monitor never went online")
	}
	cancel()
	require.NoError(t, <-done)
}
