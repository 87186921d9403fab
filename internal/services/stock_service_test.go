package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"cropledger/internal/domain"
	"cropledger/internal/repos"
	"cropledger/internal/services"
)

func variants() []domain.Variant {
	return []domain.Variant{
		{WeightKg: 50, RatePerBag: decimal.NewFromInt(100), Quantity: 10, TotalValue: decimal.NewFromInt(1000)},
		{WeightKg: 25, RatePerBag: decimal.NewFromInt(60), Quantity: 4, TotalValue: decimal.NewFromInt(240)},
	}
}

func stockSvc(t *testing.T) (*services.StockService, *repos.Ledger) {
	t.Helper()
	l := memLedger(t)
	return services.NewStockService(l, repos.NewInventoryRepo(l.DB())), l
}

func TestStock_CreateComputesTotalsAndDoesNotDedupe(t *testing.T) {
	svc, l := stockSvc(t)
	ctx := context.Background()

	a, err := svc.CreateStockItem(ctx, owner, "Wheat", "grain", variants())
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.CreateStockItem(ctx, owner, "Wheat", "grain", variants())
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("identical creates must yield distinct items")
	}
	rows, err := svc.List(ctx, owner, "grain")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("want 2 items, got %d", len(rows))
	}

	s, err := l.StockItem(ctx, owner, a)
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalQuantity != 600 || s.TotalBags != 14 || !s.TotalValue.Equal(decimal.NewFromInt(1240)) {
		t.Fatalf("bad totals: qty=%v bags=%d value=%s", s.TotalQuantity, s.TotalBags, s.TotalValue)
	}
	for _, v := range s.Variants {
		if v.ID == "" {
			t.Fatal("variant id not assigned")
		}
	}
}

func TestStock_UpdateReplacesVariantsAndTotals(t *testing.T) {
	svc, l := stockSvc(t)
	ctx := context.Background()
	id, err := svc.CreateStockItem(ctx, owner, "Wheat", "grain", variants())
	if err != nil {
		t.Fatal(err)
	}

	one := variants()[:1]
	if err := svc.UpdateStockItem(ctx, owner, id, "Durum", "grain", one); err != nil {
		t.Fatal(err)
	}
	s, _ := l.StockItem(ctx, owner, id)
	if s.ItemName != "Durum" || len(s.Variants) != 1 || s.TotalQuantity != 500 || s.TotalBags != 10 {
		t.Fatalf("update not applied as a unit: %+v", s)
	}

	if err := svc.UpdateStockItem(ctx, owner, "missing", "X", "", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := svc.CreateStockItem(ctx, owner, "  ", "", nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

func TestStock_DeleteHidesItem(t *testing.T) {
	svc, _ := stockSvc(t)
	ctx := context.Background()
	id, _ := svc.CreateStockItem(ctx, owner, "Rice", "", variants())
	if err := svc.DeleteStockItem(ctx, owner, id); err != nil {
		t.Fatal(err)
	}
	rows, _ := svc.List(ctx, owner, "")
	if len(rows) != 0 {
		t.Fatalf("deleted item still listed")
	}
}

func TestPartner_CreateAndUpdateContact(t *testing.T) {
	l := memLedger(t)
	svc := services.NewPartnerService(l, repos.NewPartnerRepo(l.DB()), repos.NewOrderRepo(l.DB()))
	ctx := context.Background()

	p, err := svc.CreatePartner(ctx, owner, domain.Partner{Name: "Asha", Role: domain.RoleFarmer, Phone: "9876543210"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreatePartner(ctx, owner, domain.Partner{Name: "X", Role: "broker"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation for bad role, got %v", err)
	}

	up, err := svc.UpdatePartnerContact(ctx, owner, p.ID, "", "123", "Village Rd")
	if err != nil {
		t.Fatal(err)
	}
	if up.Name != "Asha" || up.Phone != "123" || up.Role != domain.RoleFarmer {
		t.Fatalf("bad update: %+v", up)
	}
	list, err := svc.List(ctx, owner, domain.RoleFarmer, "")
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %d", err, len(list))
	}
}

func TestAuth_Login(t *testing.T) {
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := repos.SeedOwner(db, owner, "Trader", "1234"); err != nil {
		t.Fatal(err)
	}
	auth := &services.AuthService{Owners: repos.NewOwnerRepo(db)}

	if _, err := auth.Login("sid-1", owner, "0000"); !errors.Is(err, services.ErrBadCreds) {
		t.Fatalf("want ErrBadCreds, got %v", err)
	}
	o, err := auth.Login("sid-1", owner, "1234")
	if err != nil || o.ID != owner {
		t.Fatalf("login: %v", err)
	}
	cur, err := auth.CurrentOwner("sid-1")
	if err != nil || cur.ID != owner {
		t.Fatalf("session not bound: %v", err)
	}
	if err := auth.Logout("sid-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := auth.CurrentOwner("sid-1"); err == nil {
		t.Fatal("session should be unbound")
	}
}
