package repos

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	"cropledger/internal/domain"
	applog "cropledger/internal/log"
)

const tsLayout = "2006-01-02T15:04:05.000000Z"

type table struct {
	name string
	cols []string // entity columns, without id and sync metadata
}

var metaCols = []string{"owner_id", "cloud_id", "sync_state", "remote_rev", "pending_ops", "deleted", "created_at", "updated_at"}

var tables = map[domain.Kind]table{
	domain.KindPartner:   {name: "partners", cols: []string{"name", "role", "phone", "address"}},
	domain.KindStockItem: {name: "stock_items", cols: []string{"item_name", "category_id", "variants_json", "total_quantity", "total_bags", "total_value"}},
	domain.KindPurchase:  {name: "purchases", cols: []string{"partner_id", "crop_name", "quantity", "rate", "total_amount", "purchase_date"}},
	domain.KindInvoice:   {name: "invoices", cols: []string{"partner_id", "side", "total_value", "paid_amount", "remaining_amount", "payment_status"}},
}

func tableFor(k domain.Kind) (table, error) {
	t, ok := tables[k]
	if !ok {
		return table{}, fmt.Errorf("no table for kind %q", k)
	}
	return t, nil
}

func (t table) columns() []string {
	out := append([]string{"id"}, t.cols...)
	return append(out, metaCols...)
}

func (t table) selectSQL() string {
	return "SELECT " + strings.Join(t.columns(), ", ") + " FROM " + t.name
}

func (t table) insertSQL() string {
	cols := t.columns()
	return "INSERT INTO " + t.name + " (" + strings.Join(cols, ", ") + ") VALUES (:" + strings.Join(cols, ", :") + ")"
}

func (t table) upsertSQL() string {
	var set []string
	for _, c := range t.columns()[1:] {
		set = append(set, c+" = excluded."+c)
	}
	return t.insertSQL() + " ON CONFLICT(id) DO UPDATE SET " + strings.Join(set, ", ")
}

func (t table) updateSQL() string {
	var set []string
	for _, c := range t.columns()[1:] {
		if c == "owner_id" || c == "created_at" {
			continue
		}
		set = append(set, c+" = :"+c)
	}
	return "UPDATE " + t.name + " SET " + strings.Join(set, ", ") + " WHERE id = :id AND owner_id = :owner_id"
}

// Committed describes one batch that reached the ledger.
type Committed struct {
	Seq       uint64
	Owner     string
	Mutations []domain.Mutation
}

func (c Committed) Empty() bool { return len(c.Mutations) == 0 }

// Ledger is the device's durable record store. Writes are serialized through
// wmu; reads go straight to the pool and never wait on it.
type Ledger struct {
	db  *sqlx.DB
	hub *Hub
	wmu sync.Mutex
	seq atomic.Uint64
	now func() time.Time
}

func NewLedger(db *sqlx.DB, hub *Hub) *Ledger {
	if hub == nil {
		hub = NewHub()
	}
	return &Ledger{db: db, hub: hub, now: time.Now}
}

func (l *Ledger) Hub() *Hub    { return l.hub }
func (l *Ledger) DB() *sqlx.DB { return l.db }

func (l *Ledger) stamp() string { return l.now().UTC().Format(tsLayout) }

type rowKey struct {
	kind domain.Kind
	id   string
}

// Tx stages writes for one batch. Nothing it writes is visible outside
// until Ledger.Write commits.
type Tx struct {
	ctx     context.Context
	tx      *sqlx.Tx
	owner   string
	now     string
	muts    []domain.Mutation
	index   map[rowKey]int
	touched map[domain.Kind]bool
}

// Write runs fn inside one SQL transaction under the write coordinator and
// commits everything fn staged, or nothing. The caller's cancellation is
// detached: once submitted, a batch commits or fails as a unit.
func (l *Ledger) Write(ctx context.Context, owner string, fn func(*Tx) error) (Committed, error) {
	ctx = context.WithoutCancel(ctx)
	l.wmu.Lock()
	defer l.wmu.Unlock()

	sqltx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return Committed{}, &domain.StorageError{Op: "begin", Err: err}
	}
	defer func() { _ = sqltx.Rollback() }()

	t := &Tx{
		ctx:     ctx,
		tx:      sqltx,
		owner:   owner,
		now:     l.stamp(),
		index:   make(map[rowKey]int),
		touched: make(map[domain.Kind]bool),
	}
	if err := fn(t); err != nil {
		return Committed{}, err
	}
	if err := sqltx.Commit(); err != nil {
		return Committed{}, &domain.StorageError{Op: "commit", Err: err}
	}
	c := Committed{Owner: owner, Mutations: t.muts}
	if len(t.touched) > 0 {
		c.Seq = l.seq.Add(1)
		l.notify(c.Seq, owner, t.touched)
	}
	return c, nil
}

func (l *Ledger) notify(seq uint64, owner string, touched map[domain.Kind]bool) {
	for _, k := range domain.Kinds {
		if touched[k] {
			l.hub.Publish(Notification{Kind: k, Owner: owner, Seq: seq})
		}
	}
}

func (t *Tx) Owner() string { return t.owner }
func (t *Tx) Now() string   { return t.now }

// Get loads a live record of the batch owner, seeing writes staged so far.
func (t *Tx) Get(kind domain.Kind, id string) (domain.Record, error) {
	return loadRecord(t.ctx, t.tx, kind, t.owner, id, false)
}

func (t *Tx) StockItem(id string) (*domain.StockItem, error) {
	rec, err := t.Get(domain.KindStockItem, id)
	if err != nil {
		return nil, err
	}
	return rec.(*domain.StockItem), nil
}

// Create stages a new record. Sync metadata is reset to a pending local row.
func (t *Tx) Create(rec domain.Record) error {
	tbl, err := t.check(rec)
	if err != nil {
		return err
	}
	*rec.Meta() = domain.SyncMeta{SyncState: domain.SyncPending, PendingOps: 1, CreatedAt: t.now, UpdatedAt: t.now}
	if _, err := t.tx.NamedExecContext(t.ctx, tbl.insertSQL(), rec); err != nil {
		return &domain.StorageError{Op: "insert " + tbl.name, Err: err}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return &domain.StorageError{Op: "encode " + tbl.name, Err: err}
	}
	t.stage(domain.Mutation{Op: domain.OpCreate, Kind: rec.Kind(), ID: rec.RecordID(), Owner: t.owner, Data: data})
	return nil
}

// Update stages an in-place replacement of an existing live record.
func (t *Tx) Update(rec domain.Record) error {
	return t.replace(rec, domain.OpUpdate)
}

// Delete tombstones a live record.
func (t *Tx) Delete(kind domain.Kind, id string) error {
	rec, err := t.Get(kind, id)
	if err != nil {
		return err
	}
	return t.replace(rec, domain.OpDelete)
}

func (t *Tx) replace(rec domain.Record, op domain.Op) error {
	tbl, err := t.check(rec)
	if err != nil {
		return err
	}
	cur, err := t.Get(rec.Kind(), rec.RecordID())
	if err != nil {
		return err
	}
	key := rowKey{rec.Kind(), rec.RecordID()}
	_, staged := t.index[key]

	m := rec.Meta()
	*m = *cur.Meta()
	m.SyncState = domain.SyncPending
	m.UpdatedAt = t.now
	m.Deleted = op == domain.OpDelete
	if !staged {
		m.PendingOps++
	}
	if _, err := t.tx.NamedExecContext(t.ctx, tbl.updateSQL(), rec); err != nil {
		return &domain.StorageError{Op: "update " + tbl.name, Err: err}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return &domain.StorageError{Op: "encode " + tbl.name, Err: err}
	}
	if staged {
		i := t.index[key]
		t.muts[i].Data = data
		if op == domain.OpDelete {
			t.muts[i].Op = domain.OpDelete
		}
		return nil
	}
	before, err := json.Marshal(cur)
	if err != nil {
		return &domain.StorageError{Op: "encode " + tbl.name, Err: err}
	}
	t.stage(domain.Mutation{
		Op: op, Kind: rec.Kind(), ID: rec.RecordID(), Owner: t.owner,
		Data: data, Before: before, BaseRev: cur.Meta().RemoteRev,
	})
	return nil
}

func (t *Tx) check(rec domain.Record) (table, error) {
	tbl, err := tableFor(rec.Kind())
	if err != nil {
		return table{}, err
	}
	if rec.RecordID() == "" {
		return table{}, fmt.Errorf("%w: %s without id", domain.ErrValidation, rec.Kind())
	}
	if rec.Owner() != t.owner {
		return table{}, fmt.Errorf("%w: %s %s belongs to %q, batch owner is %q",
			domain.ErrValidation, rec.Kind(), rec.RecordID(), rec.Owner(), t.owner)
	}
	return tbl, nil
}

func (t *Tx) stage(m domain.Mutation) {
	t.index[rowKey{m.Kind, m.ID}] = len(t.muts)
	t.muts = append(t.muts, m)
	t.touched[m.Kind] = true
}

func loadRecord(ctx context.Context, q sqlx.QueryerContext, kind domain.Kind, owner, id string, withDeleted bool) (domain.Record, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	rec, _ := domain.NewRecord(kind)
	query := tbl.selectSQL() + " WHERE id = ? AND owner_id = ?"
	if !withDeleted {
		query += " AND deleted = 0"
	}
	if err := sqlx.GetContext(ctx, q, rec, query, id, owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
		}
		return nil, err
	}
	return rec, nil
}

func listRecords(ctx context.Context, q sqlx.QueryerContext, kind domain.Kind, where string, args ...any) ([]domain.Record, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryxContext(ctx, tbl.selectSQL()+" WHERE "+where+" ORDER BY rowid", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Record{}
	for rows.Next() {
		rec, _ := domain.NewRecord(kind)
		if err := rows.StructScan(rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get returns a live record of owner.
func (l *Ledger) Get(ctx context.Context, kind domain.Kind, owner, id string) (domain.Record, error) {
	return loadRecord(ctx, l.db, kind, owner, id, false)
}

// List returns the owner's live records of kind in insertion order.
func (l *Ledger) List(ctx context.Context, kind domain.Kind, owner string) ([]domain.Record, error) {
	return listRecords(ctx, l.db, kind, "owner_id = ? AND deleted = 0", owner)
}

func (l *Ledger) StockItem(ctx context.Context, owner, id string) (*domain.StockItem, error) {
	rec, err := l.Get(ctx, domain.KindStockItem, owner, id)
	if err != nil {
		return nil, err
	}
	return rec.(*domain.StockItem), nil
}

// Observe streams the owner's current records of kind: once on subscribe and
// once more for every committed batch touching the collection. The stream
// ends only when ctx is done; call Observe again to restart it.
func (l *Ledger) Observe(ctx context.Context, kind domain.Kind, owner string) <-chan []domain.Record {
	out := make(chan []domain.Record)
	var (
		mu      sync.Mutex
		pending int
		wake    = make(chan struct{}, 1)
	)
	id := l.hub.Subscribe(kind, func(n Notification) {
		if n.Owner != owner {
			return
		}
		mu.Lock()
		pending++
		mu.Unlock()
		select {
		case wake <- struct{}{}:
		default:
		}
	})

	go func() {
		defer close(out)
		defer l.hub.Unsubscribe(id)
		send := func() bool {
			recs, err := l.List(ctx, kind, owner)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				applog.Error(nil, "ledger.observe.fail", err, map[string]any{"kind": string(kind), "owner": owner})
				return true
			}
			select {
			case out <- recs:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !send() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				mu.Lock()
				n := pending
				pending = 0
				mu.Unlock()
				for i := 0; i < n; i++ {
					if !send() {
						return
					}
				}
			}
		}
	}()
	return out
}
