package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"cropledger/internal/cloud"
	"cropledger/internal/domain"
	"cropledger/internal/netmon"
	"cropledger/internal/repos"
	"cropledger/internal/services"
	"cropledger/internal/syncer"
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

func seedStock(t *testing.T, w services.Writer, id string, qty float64) {
	t.Helper()
	_, err := w.Write(context.Background(), owner, func(tx *repos.Tx) error {
		return tx.Create(&domain.StockItem{ID: id, ItemName: "Wheat", TotalQuantity: qty, TotalValue: decimal.Zero, OwnerID: owner})
	})
	if err != nil {
		t.Fatal(err)
	}
}

func count(t *testing.T, l *repos.Ledger, k domain.Kind) int {
	t.Helper()
	recs, err := l.List(context.Background(), k, owner)
	if err != nil {
		t.Fatal(err)
	}
	return len(recs)
}

func qty(t *testing.T, l *repos.Ledger, id string) float64 {
	t.Helper()
	s, err := l.StockItem(context.Background(), owner, id)
	if err != nil {
		t.Fatal(err)
	}
	return s.TotalQuantity
}

func buyOf(id string, q float64) services.TradeRequest {
	return services.TradeRequest{
		PartnerID: "F1",
		Items: []services.TradeItem{{
			StockItemID: id, CropName: "Wheat", Quantity: q,
			Rate: decimal.NewFromInt(20), Total: decimal.NewFromFloat(q * 20),
		}},
		Payment: services.Payment{
			TotalValue: decimal.NewFromFloat(q * 20),
			PaidAmount: decimal.NewFromInt(50),
			Status:     domain.PaymentPartial,
		},
	}
}

func TestTransaction_BuyThenOversell(t *testing.T) {
	l := memLedger(t)
	svc := services.NewTransactionService(l)
	ctx := context.Background()
	seedStock(t, l, "S1", 5)

	rc, err := svc.CreateBuy(ctx, owner, buyOf("S1", 10))
	if err != nil {
		t.Fatal(err)
	}
	if got := qty(t, l, "S1"); got != 15 {
		t.Fatalf("want 15 after buy, got %v", got)
	}
	if len(rc.PurchaseIDs) != 1 || count(t, l, domain.KindPurchase) != 1 || count(t, l, domain.KindInvoice) != 1 {
		t.Fatalf("want one purchase and one invoice, got %+v", rc)
	}
	rec, err := l.Get(ctx, domain.KindInvoice, owner, rc.InvoiceID)
	if err != nil {
		t.Fatal(err)
	}
	inv := rec.(*domain.Invoice)
	if !inv.RemainingAmount.Equal(decimal.NewFromInt(150)) || inv.Side != domain.SideBuy {
		t.Fatalf("bad invoice: %+v", inv)
	}

	sell := services.TradeRequest{
		PartnerID: "B1",
		Items:     []services.TradeItem{{StockItemID: "S1", Quantity: 20, Total: decimal.NewFromInt(500)}},
		Payment:   services.Payment{TotalValue: decimal.NewFromInt(500), PaidAmount: decimal.NewFromInt(500), Status: domain.PaymentPaid},
	}
	rc, err = svc.CreateSell(ctx, owner, sell)
	if err != nil {
		t.Fatal(err)
	}
	if got := qty(t, l, "S1"); got != 0 {
		t.Fatalf("oversell should floor at 0, got %v", got)
	}
	if len(rc.PurchaseIDs) != 0 || count(t, l, domain.KindPurchase) != 1 || count(t, l, domain.KindInvoice) != 2 {
		t.Fatalf("sell must add an invoice and no purchases: %+v", rc)
	}
}

func TestTransaction_StorageFailureCommitsNothing(t *testing.T) {
	l := memLedger(t)
	svc := services.NewTransactionService(l)
	seedStock(t, l, "S1", 5)

	req := buyOf("S1", 10)
	req.Payment.Status = "bogus" // rejected by the invoices CHECK constraint
	_, err := svc.CreateBuy(context.Background(), owner, req)

	var se *domain.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("want StorageError, got %v", err)
	}
	if got := qty(t, l, "S1"); got != 5 {
		t.Fatalf("stock changed on failed batch: %v", got)
	}
	if count(t, l, domain.KindPurchase) != 0 || count(t, l, domain.KindInvoice) != 0 {
		t.Fatal("records leaked from failed batch")
	}
}

func TestTransaction_MissingStockSkipsUpdateKeepsPurchase(t *testing.T) {
	l := memLedger(t)
	svc := services.NewTransactionService(l)
	seedStock(t, l, "S1", 5)

	req := buyOf("S1", 2)
	req.Items = append(req.Items, services.TradeItem{StockItemID: "GONE", CropName: "Rice", Quantity: 3, Total: decimal.NewFromInt(60)})
	req.Items = append(req.Items, services.TradeItem{StockItemID: "S1", CropName: "Wheat", Quantity: 4, Total: decimal.NewFromInt(80)})

	rc, err := svc.CreateBuy(context.Background(), owner, req)
	if err != nil {
		t.Fatal(err)
	}
	if len(rc.Skipped) != 1 || rc.Skipped[0] != "GONE" {
		t.Fatalf("want GONE skipped, got %v", rc.Skipped)
	}
	if count(t, l, domain.KindPurchase) != 3 {
		t.Fatalf("every item keeps its purchase")
	}
	// repeated ids accumulate within the batch
	if got := qty(t, l, "S1"); got != 11 {
		t.Fatalf("want 5+2+4, got %v", got)
	}
}

func TestTransaction_CloudRejectionRevertsBatch(t *testing.T) {
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	l := repos.NewLedger(db, repos.NewHub())
	store := cloud.NewMemory()
	mon := netmon.New(nil, time.Minute)
	mon.Set(true)
	eng := syncer.New(l, repos.NewQueueRepo(db), store, mon, syncer.Options{})
	svc := services.NewTransactionService(eng)
	seedStock(t, eng, "S1", 5)

	store.RejectWhen(func(m domain.Mutation) bool { return m.Kind == domain.KindInvoice })
	_, err = svc.CreateBuy(context.Background(), owner, buyOf("S1", 10))

	var ce *domain.SyncConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("want SyncConflictError, got %v", err)
	}
	if got := qty(t, l, "S1"); got != 5 {
		t.Fatalf("stock not restored: %v", got)
	}
	if count(t, l, domain.KindPurchase) != 0 || count(t, l, domain.KindInvoice) != 0 {
		t.Fatal("created records should be tombstoned after rejection")
	}
}

func TestTransaction_QueuedBuysConflictingOnReplayLeaveNoStock(t *testing.T) {
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	l := repos.NewLedger(db, repos.NewHub())
	store := cloud.NewMemory()
	mon := netmon.New(nil, time.Minute)
	mon.Set(true)
	eng := syncer.New(l, repos.NewQueueRepo(db), store, mon, syncer.Options{})
	eng.SetOwner(owner)
	svc := services.NewTransactionService(eng)
	seedStock(t, eng, "S1", 5)

	mon.Set(false)
	for _, q := range []float64{10, 20} {
		if _, err := svc.CreateBuy(context.Background(), owner, buyOf("S1", q)); err != nil {
			t.Fatal(err)
		}
	}
	if got := qty(t, l, "S1"); got != 35 {
		t.Fatalf("offline buys not applied locally: %v", got)
	}

	// the stock row moves on another device before this one reconnects
	body, _ := json.Marshal(&domain.StockItem{ID: "S1", ItemName: "Wheat", TotalQuantity: 90, TotalValue: decimal.Zero, OwnerID: owner})
	store.Put(domain.RemoteRecord{Kind: domain.KindStockItem, ID: "S1", Owner: owner, Data: body})
	mon.Set(true)

	if got := qty(t, l, "S1"); got != 5 {
		t.Fatalf("want stock restored to 5, got %v", got)
	}
	if n := count(t, l, domain.KindInvoice); n != 0 {
		t.Fatalf("invoices left after rejection: %d", n)
	}
	if n := count(t, l, domain.KindPurchase); n != 0 {
		t.Fatalf("purchases left after rejection: %d", n)
	}
}
