package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/jmoiron/sqlx"

	"cropledger/internal/cloud"
	"cropledger/internal/config"
	"cropledger/internal/license"
	"cropledger/internal/netmon"
	"cropledger/internal/repos"
	"cropledger/internal/syncer"
)

// runtime is everything one process needs, built once from config.
type runtime struct {
	cfg     config.Config
	db      *sqlx.DB
	store   cloud.Store
	stream  cloud.Stream
	monitor *netmon.Monitor
	engine  *syncer.Engine
	closers []func() error
}

func build(cfg config.Config) (*runtime, error) {
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("[warn] could not open log file %s: %v", cfg.LogFile, err)
		} else {
			log.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	}

	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, db: db}
	rt.closers = append(rt.closers, db.Close)

	if cfg.OwnerID != "" && cfg.OwnerPIN != "" {
		if err := repos.SeedOwner(db, cfg.OwnerID, cfg.OwnerID, cfg.OwnerPIN); err != nil {
			rt.close()
			return nil, fmt.Errorf("seed owner: %w", err)
		}
	}

	if err := rt.openCloud(); err != nil {
		rt.close()
		return nil, err
	}

	var lic license.Checker = license.AllowAll{}
	if cfg.LicenseSecret != "" {
		lic = license.NewTokenChecker(cfg.LicenseSecret, cfg.LicenseToken)
	}

	rt.monitor = netmon.New(rt.store, cfg.ProbeInterval)
	ledger := repos.NewLedger(db, repos.NewHub())
	rt.engine = syncer.New(ledger, repos.NewQueueRepo(db), rt.store, rt.monitor, syncer.Options{
		Stream:  rt.stream,
		License: lic,
	})
	rt.engine.SetOwner(cfg.OwnerID)
	return rt, nil
}

func (rt *runtime) openCloud() error {
	switch rt.cfg.CloudDriver {
	case "", "memory":
		m := cloud.NewMemory()
		rt.store, rt.stream = m, m
		return nil
	case "postgres":
		var pub cloud.Publisher
		if rt.cfg.RedisAddr != "" {
			rs := cloud.NewRedisStream(rt.cfg.RedisAddr)
			rt.closers = append(rt.closers, rs.Close)
			pub, rt.stream = rs, rs
		}
		pg, err := cloud.OpenPostgres(rt.cfg.CloudDSN, pub)
		if err != nil {
			return fmt.Errorf("cloud store: %w", err)
		}
		rt.store = pg
		return nil
	default:
		return fmt.Errorf("unknown CLOUD_DRIVER %q", rt.cfg.CloudDriver)
	}
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i]()
	}
}
