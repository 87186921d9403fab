package cloud

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"cropledger/internal/domain"
	applog "cropledger/internal/log"
)

type memKey struct {
	owner string
	kind  domain.Kind
	id    string
}

// Memory is an in-process Store and Stream. It backs single-device runs
// without a server and stands in for the cloud in tests.
type Memory struct {
	mu      sync.Mutex
	online  bool
	records map[memKey]*domain.RemoteRecord
	order   []memKey
	subs    map[string][]chan domain.Change
	reject  func(domain.Mutation) bool
	applied [][]domain.Mutation
}

func NewMemory() *Memory {
	return &Memory{
		online:  true,
		records: make(map[memKey]*domain.RemoteRecord),
		subs:    make(map[string][]chan domain.Change),
	}
}

// SetOnline toggles reachability; while offline every call fails with ErrUnavailable.
func (m *Memory) SetOnline(v bool) {
	m.mu.Lock()
	m.online = v
	m.mu.Unlock()
}

// RejectWhen makes Apply refuse any batch containing a matching mutation.
func (m *Memory) RejectWhen(fn func(domain.Mutation) bool) {
	m.mu.Lock()
	m.reject = fn
	m.mu.Unlock()
}

// Applied returns the accepted batches in arrival order.
func (m *Memory) Applied() [][]domain.Mutation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]domain.Mutation, len(m.applied))
	copy(out, m.applied)
	return out
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online {
		return ErrUnavailable
	}
	return ctx.Err()
}

func (m *Memory) Snapshot(ctx context.Context, owner string, kind domain.Kind) ([]domain.RemoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online {
		return nil, ErrUnavailable
	}
	out := []domain.RemoteRecord{}
	for _, k := range m.order {
		if k.owner == owner && k.kind == kind {
			out = append(out, *m.records[k])
		}
	}
	return out, nil
}

// Put seeds a record as if another device had written it, publishing the change.
func (m *Memory) Put(rec domain.RemoteRecord) domain.RemoteRecord {
	m.mu.Lock()
	k := memKey{rec.Owner, rec.Kind, rec.ID}
	typ := domain.ChangeUpdate
	if cur, ok := m.records[k]; ok {
		rec.Rev = cur.Rev + 1
		rec.CloudID = cur.CloudID
	} else {
		typ = domain.ChangeInsert
		if rec.Rev == 0 {
			rec.Rev = 1
		}
		if rec.CloudID == "" {
			rec.CloudID = uuid.NewString()
		}
		m.order = append(m.order, k)
	}
	if rec.Deleted {
		typ = domain.ChangeDelete
	}
	cp := rec
	m.records[k] = &cp
	m.deliver(rec.Owner, []domain.Change{{Type: typ, Record: rec}})
	m.mu.Unlock()
	return rec
}

func (m *Memory) Apply(ctx context.Context, owner string, muts []domain.Mutation) ([]domain.Ack, error) {
	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		return nil, ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	staged := make(map[memKey]*domain.RemoteRecord)
	var newKeys []memKey
	acks := make([]domain.Ack, 0, len(muts))
	changes := make([]domain.Change, 0, len(muts))
	lookup := func(k memKey) *domain.RemoteRecord {
		if r, ok := staged[k]; ok {
			return r
		}
		return m.records[k]
	}

	for _, mu := range muts {
		if m.reject != nil && m.reject(mu) {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s %s refused", ErrConflict, mu.Kind, mu.ID)
		}
		if mu.Owner != owner {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s %s owned by %q", ErrConflict, mu.Kind, mu.ID, mu.Owner)
		}
		k := memKey{owner, mu.Kind, mu.ID}
		cur := lookup(k)
		next := &domain.RemoteRecord{Kind: mu.Kind, ID: mu.ID, Owner: owner, Data: mu.Data}

		switch mu.Op {
		case domain.OpCreate:
			if cur != nil {
				// replayed create: acknowledge what is already there
				acks = append(acks, domain.Ack{Kind: mu.Kind, ID: mu.ID, CloudID: cur.CloudID, Rev: cur.Rev})
				continue
			}
			next.CloudID = uuid.NewString()
			next.Rev = 1
			newKeys = append(newKeys, k)
			changes = append(changes, domain.Change{Type: domain.ChangeInsert, Record: *next})
		case domain.OpUpdate, domain.OpDelete:
			if cur == nil || cur.Deleted || cur.Rev != mu.BaseRev {
				m.mu.Unlock()
				return nil, fmt.Errorf("%w: %s %s at base rev %d", ErrConflict, mu.Kind, mu.ID, mu.BaseRev)
			}
			next.CloudID = cur.CloudID
			next.Rev = cur.Rev + 1
			typ := domain.ChangeUpdate
			if mu.Op == domain.OpDelete {
				next.Deleted = true
				typ = domain.ChangeDelete
			}
			changes = append(changes, domain.Change{Type: typ, Record: *next})
		default:
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: unknown op %q", ErrConflict, mu.Op)
		}
		staged[k] = next
		acks = append(acks, domain.Ack{Kind: mu.Kind, ID: mu.ID, CloudID: next.CloudID, Rev: next.Rev})
	}

	for k, r := range staged {
		m.records[k] = r
	}
	m.order = append(m.order, newKeys...)
	m.applied = append(m.applied, append([]domain.Mutation(nil), muts...))
	m.deliver(owner, changes)
	m.mu.Unlock()
	return acks, nil
}

func (m *Memory) Subscribe(ctx context.Context, owner string) (<-chan domain.Change, error) {
	ch := make(chan domain.Change, 256)
	m.mu.Lock()
	m.subs[owner] = append(m.subs[owner], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[owner]
		for i, c := range subs {
			if c == ch {
				m.subs[owner] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// deliver sends without blocking. Callers hold m.mu, which is also held
// while a cancelled subscription is removed and closed.
func (m *Memory) deliver(owner string, changes []domain.Change) {
	for _, ch := range m.subs[owner] {
		for _, c := range changes {
			select {
			case ch <- c:
			default:
				applog.Warn(nil, "cloud.memory.drop", nil, map[string]any{"owner": c.Record.Owner, "id": c.Record.ID})
			}
		}
	}
}
