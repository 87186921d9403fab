package repos_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"cropledger/internal/domain"
	"cropledger/internal/repos"
)

const owner = "owner-1"

func memLedger(t *testing.T) *repos.Ledger {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return repos.NewLedger(db, repos.NewHub())
}

func seedStock(t *testing.T, l *repos.Ledger, id string, qty float64) {
	t.Helper()
	_, err := l.Write(context.Background(), owner, func(tx *repos.Tx) error {
		return tx.Create(&domain.StockItem{ID: id, ItemName: "Wheat", TotalQuantity: qty, TotalValue: decimal.Zero, OwnerID: owner})
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestLedger_WriteIsAllOrNothing(t *testing.T) {
	l := memLedger(t)
	ctx := context.Background()
	seedStock(t, l, "S1", 5)

	_, err := l.Write(ctx, owner, func(tx *repos.Tx) error {
		s, err := tx.StockItem("S1")
		if err != nil {
			return err
		}
		s.TotalQuantity = 50
		if err := tx.Update(s); err != nil {
			return err
		}
		// violates the payment_status CHECK constraint
		return tx.Create(&domain.Invoice{ID: "I1", PartnerID: "P1", Side: domain.SideBuy, PaymentStatus: "bogus", OwnerID: owner})
	})
	var se *domain.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("want StorageError, got %v", err)
	}

	s, err := l.StockItem(ctx, owner, "S1")
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalQuantity != 5 {
		t.Fatalf("stock update leaked: qty=%v", s.TotalQuantity)
	}
	inv, _ := l.List(ctx, domain.KindInvoice, owner)
	if len(inv) != 0 {
		t.Fatalf("invoice leaked: %d", len(inv))
	}
}

func TestLedger_UpdateCapturesPreImageAndCoalesces(t *testing.T) {
	l := memLedger(t)
	seedStock(t, l, "S1", 5)

	c, err := l.Write(context.Background(), owner, func(tx *repos.Tx) error {
		for _, q := range []float64{7, 9} {
			s, err := tx.StockItem("S1")
			if err != nil {
				return err
			}
			s.TotalQuantity = q
			if err := tx.Update(s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Mutations) != 1 {
		t.Fatalf("want one coalesced mutation, got %d", len(c.Mutations))
	}
	var before, after domain.StockItem
	_ = json.Unmarshal(c.Mutations[0].Before, &before)
	_ = json.Unmarshal(c.Mutations[0].Data, &after)
	if before.TotalQuantity != 5 || after.TotalQuantity != 9 {
		t.Fatalf("want 5 -> 9, got %v -> %v", before.TotalQuantity, after.TotalQuantity)
	}
	s, _ := l.StockItem(context.Background(), owner, "S1")
	if s.PendingOps != 2 || s.SyncState != domain.SyncPending {
		t.Fatalf("want create+update pending, got ops=%d state=%s", s.PendingOps, s.SyncState)
	}
}

func TestLedger_DeleteIsSoft(t *testing.T) {
	l := memLedger(t)
	ctx := context.Background()
	seedStock(t, l, "S1", 5)

	if _, err := l.Write(ctx, owner, func(tx *repos.Tx) error {
		return tx.Delete(domain.KindStockItem, "S1")
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.StockItem(ctx, owner, "S1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("tombstoned row should be hidden, got %v", err)
	}
	var n int
	if err := l.DB().Get(&n, `SELECT COUNT(*) FROM stock_items WHERE id='S1' AND deleted=1`); err != nil || n != 1 {
		t.Fatalf("tombstone row missing: n=%d err=%v", n, err)
	}
}

func TestLedger_ObserveOncePerBatch(t *testing.T) {
	l := memLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := l.Observe(ctx, domain.KindStockItem, owner)
	first := <-ch
	if len(first) != 0 {
		t.Fatalf("want empty initial snapshot, got %d", len(first))
	}

	// one batch, three records
	if _, err := l.Write(ctx, owner, func(tx *repos.Tx) error {
		for _, id := range []string{"A", "B", "C"} {
			if err := tx.Create(&domain.StockItem{ID: id, ItemName: id, TotalValue: decimal.Zero, OwnerID: owner}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case snap := <-ch:
		if len(snap) != 3 {
			t.Fatalf("want 3 records, got %d", len(snap))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}
	select {
	case extra := <-ch:
		t.Fatalf("want exactly one notification for the batch, got another: %d", len(extra))
	case <-time.After(100 * time.Millisecond):
	}

	// other owners' batches are not delivered
	if _, err := l.Write(ctx, "owner-2", func(tx *repos.Tx) error {
		return tx.Create(&domain.StockItem{ID: "X", ItemName: "X", TotalValue: decimal.Zero, OwnerID: "owner-2"})
	}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch:
		t.Fatal("foreign owner batch leaked into stream")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	for range ch {
	}
	if l.Hub().Len() != 0 {
		t.Fatalf("subscription not released")
	}
}

func remote(t *testing.T, rec domain.Record, rev int64, deleted bool) domain.RemoteRecord {
	t.Helper()
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	return domain.RemoteRecord{Kind: rec.Kind(), ID: rec.RecordID(), CloudID: "c-" + rec.RecordID(), Owner: rec.Owner(), Rev: rev, Deleted: deleted, Data: b}
}

func TestLedger_MergeRemote(t *testing.T) {
	l := memLedger(t)
	ctx := context.Background()
	seedStock(t, l, "LOCAL", 1) // pending create

	recs := []domain.RemoteRecord{
		remote(t, &domain.StockItem{ID: "R1", ItemName: "Rice", TotalQuantity: 40, TotalValue: decimal.NewFromInt(10), OwnerID: owner}, 3, false),
		remote(t, &domain.StockItem{ID: "LOCAL", ItemName: "Cloud copy", TotalQuantity: 99, TotalValue: decimal.Zero, OwnerID: owner}, 5, false),
		remote(t, &domain.StockItem{ID: "F1", ItemName: "Foreign", TotalValue: decimal.Zero, OwnerID: "owner-2"}, 1, false),
	}
	res, err := l.MergeRemote(ctx, owner, recs)
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 1 || res.Pending != 1 || res.ForeignSkip != 1 {
		t.Fatalf("unexpected merge result %+v", res)
	}
	local, _ := l.StockItem(ctx, owner, "LOCAL")
	if local.TotalQuantity != 1 {
		t.Fatalf("pending row overwritten: %+v", local)
	}
	r1, err := l.StockItem(ctx, owner, "R1")
	if err != nil {
		t.Fatal(err)
	}
	if r1.CloudID != "c-R1" || r1.RemoteRev != 3 || r1.SyncState != domain.SyncSynced {
		t.Fatalf("bad merged meta: %+v", r1.SyncMeta)
	}

	// same revision again is a no-op
	res, err = l.MergeRemote(ctx, owner, recs[:1])
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 0 || res.Stale != 1 {
		t.Fatalf("echo should be stale, got %+v", res)
	}

	// remote delete tombstones
	res, _ = l.MergeRemote(ctx, owner, []domain.RemoteRecord{
		remote(t, &domain.StockItem{ID: "R1", ItemName: "Rice", TotalValue: decimal.Zero, OwnerID: owner}, 4, true),
	})
	if res.Applied != 1 {
		t.Fatalf("delete not applied: %+v", res)
	}
	if _, err := l.StockItem(ctx, owner, "R1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want tombstoned, got %v", err)
	}
}

func TestLedger_MarkSyncedAndRevert(t *testing.T) {
	l := memLedger(t)
	ctx := context.Background()
	seedStock(t, l, "S1", 5)
	if err := l.MarkSynced(ctx, owner, []domain.Ack{{Kind: domain.KindStockItem, ID: "S1", CloudID: "c1", Rev: 1}}); err != nil {
		t.Fatal(err)
	}
	s, _ := l.StockItem(ctx, owner, "S1")
	if s.SyncState != domain.SyncSynced || s.CloudID != "c1" || s.PendingOps != 0 {
		t.Fatalf("bad synced meta: %+v", s.SyncMeta)
	}

	c, err := l.Write(ctx, owner, func(tx *repos.Tx) error {
		s, _ := tx.StockItem("S1")
		s.TotalQuantity = 20
		if err := tx.Update(s); err != nil {
			return err
		}
		return tx.Create(&domain.Purchase{ID: "P1", PartnerID: "F", CropName: "Wheat", Quantity: 15,
			Rate: decimal.NewFromInt(1), TotalAmount: decimal.NewFromInt(15), PurchaseDate: "2026-01-01", OwnerID: owner})
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.Mutations[0].BaseRev != 1 {
		t.Fatalf("want base rev 1, got %d", c.Mutations[0].BaseRev)
	}

	if err := l.Revert(ctx, owner, c.Mutations); err != nil {
		t.Fatal(err)
	}
	s, _ = l.StockItem(ctx, owner, "S1")
	if s.TotalQuantity != 5 || s.SyncState != domain.SyncError || s.PendingOps != 0 {
		t.Fatalf("update not reverted: qty=%v meta=%+v", s.TotalQuantity, s.SyncMeta)
	}
	if _, err := l.Get(ctx, domain.KindPurchase, owner, "P1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("created purchase should be tombstoned, got %v", err)
	}
}
