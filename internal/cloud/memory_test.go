package cloud_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cropledger/internal/cloud"
	"cropledger/internal/domain"
)

func create(id string) domain.Mutation {
	return domain.Mutation{Op: domain.OpCreate, Kind: domain.KindPartner, ID: id, Owner: "o1", Data: []byte(`{"id":"` + id + `"}`)}
}

func TestMemory_ApplyVersionsRecords(t *testing.T) {
	m := cloud.NewMemory()
	ctx := context.Background()

	acks, err := m.Apply(ctx, "o1", []domain.Mutation{create("p1")})
	require.NoError(t, err)
	require.Len(t, acks, 1)
	assert.EqualValues(t, 1, acks[0].Rev)
	assert.NotEmpty(t, acks[0].CloudID)

	// a replayed create is acknowledged without a new revision
	again, err := m.Apply(ctx, "o1", []domain.Mutation{create("p1")})
	require.NoError(t, err)
	assert.Equal(t, acks, again)

	upd := domain.Mutation{Op: domain.OpUpdate, Kind: domain.KindPartner, ID: "p1", Owner: "o1", Data: []byte(`{}`), BaseRev: 1}
	acks, err = m.Apply(ctx, "o1", []domain.Mutation{upd})
	require.NoError(t, err)
	assert.EqualValues(t, 2, acks[0].Rev)

	// same base revision again is stale
	_, err = m.Apply(ctx, "o1", []domain.Mutation{upd})
	assert.ErrorIs(t, err, cloud.ErrConflict)
}

func TestMemory_ApplyIsAtomic(t *testing.T) {
	m := cloud.NewMemory()
	ctx := context.Background()
	m.RejectWhen(func(mu domain.Mutation) bool { return mu.ID == "bad" })

	_, err := m.Apply(ctx, "o1", []domain.Mutation{create("good"), create("bad")})
	require.ErrorIs(t, err, cloud.ErrConflict)

	recs, err := m.Snapshot(ctx, "o1", domain.KindPartner)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Empty(t, m.Applied())
}

func TestMemory_OfflineAndOwnerScope(t *testing.T) {
	m := cloud.NewMemory()
	ctx := context.Background()

	_, err := m.Apply(ctx, "o1", []domain.Mutation{create("p1")})
	require.NoError(t, err)

	other, err := m.Snapshot(ctx, "o2", domain.KindPartner)
	require.NoError(t, err)
	assert.Empty(t, other)

	m.SetOnline(false)
	assert.ErrorIs(t, m.Ping(ctx), cloud.ErrUnavailable)
	_, err = m.Snapshot(ctx, "o1", domain.KindPartner)
	assert.ErrorIs(t, err, cloud.ErrUnavailable)
}

func TestMemory_SubscribeDeliversOwnerChanges(t *testing.T) {
	m := cloud.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := m.Subscribe(ctx, "o1")
	require.NoError(t, err)

	m.Put(domain.RemoteRecord{Kind: domain.KindPartner, ID: "x", Owner: "o2", Data: []byte(`{}`)})
	rec := m.Put(domain.RemoteRecord{Kind: domain.KindPartner, ID: "y", Owner: "o1", Data: []byte(`{}`)})

	select {
	case c := <-ch:
		assert.Equal(t, domain.ChangeInsert, c.Type)
		assert.Equal(t, rec.CloudID, c.Record.CloudID)
		assert.Equal(t, "y", c.Record.ID)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}

	cancel()
	for range ch {
	}
}

func TestMemory_CancelWhileWritesInFlight(t *testing.T) {
	m := cloud.NewMemory()
	for round := 0; round < 500; round++ {
		ctx, cancel := context.WithCancel(context.Background())
		ch, err := m.Subscribe(ctx, "o1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				m.Put(domain.RemoteRecord{Kind: domain.KindPartner, ID: fmt.Sprintf("p%d", i), Owner: "o1", Data: []byte(`{}`)})
			}(i)
		}
		cancel()
		for range ch {
		}
		wg.Wait()
	}
}
