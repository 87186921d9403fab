package handlers

import (
	"github.com/jmoiron/sqlx"

	"cropledger/internal/repos"
	"cropledger/internal/services"
	"cropledger/internal/syncer"
)

type Deps struct {
	AuthSvc *services.AuthService

	Auth     *AuthHandler
	Partners *PartnerHandler
	Stock    *StockHandler
	Trades   *TradeHandler
	Observe  *ObserveHandler
	Sync     *SyncHandler
}

// NewDeps wires handlers over one ledger database. Writes go through the
// sync engine so every committed batch is propagated.
func NewDeps(db *sqlx.DB, eng *syncer.Engine) *Deps {
	invRepo := repos.NewInventoryRepo(db)
	orderRepo := repos.NewOrderRepo(db)
	partnerRepo := repos.NewPartnerRepo(db)
	authSvc := &services.AuthService{Owners: repos.NewOwnerRepo(db)}

	return &Deps{
		AuthSvc:  authSvc,
		Auth:     &AuthHandler{Auth: authSvc, OnLogin: eng.SetOwner},
		Partners: &PartnerHandler{Partners: services.NewPartnerService(eng, partnerRepo, orderRepo)},
		Stock:    &StockHandler{Stock: services.NewStockService(eng, invRepo)},
		Trades:   &TradeHandler{Trades: services.NewTransactionService(eng), Orders: orderRepo},
		Observe:  &ObserveHandler{Ledger: eng.Ledger()},
		Sync:     &SyncHandler{Engine: eng},
	}
}
