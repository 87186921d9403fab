package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cropledger/internal/config"
	"cropledger/internal/http/handlers"
	"cropledger/internal/license"
	applog "cropledger/internal/log"
	"cropledger/internal/syncer"
)

var (
	ownerFlag string
	ttlFlag   time.Duration

	rootCmd = &cobra.Command{
		Use:           "cropledger",
		Short:         "Offline-first stock ledger for commodity trading",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with connectivity monitoring and realtime sync",
		RunE:  runServe,
	}

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Pull the owner's cloud records into the local ledger",
		RunE:  runSync,
	}

	flushCmd = &cobra.Command{
		Use:   "flush",
		Short: "Replay the owner's offline queue to the cloud",
		RunE:  runFlush,
	}

	licenseCmd = &cobra.Command{
		Use:   "license",
		Short: "License token tools",
	}
	licenseIssueCmd = &cobra.Command{
		Use:   "issue",
		Short: "Sign a cloud-sync license token for an owner with LICENSE_SECRET",
		RunE:  runLicenseIssue,
	}
)

func init() {
	for _, c := range []*cobra.Command{syncCmd, flushCmd, licenseIssueCmd} {
		c.Flags().StringVar(&ownerFlag, "owner", "", "owner id (defaults to OWNER_ID)")
	}
	licenseIssueCmd.Flags().DurationVar(&ttlFlag, "ttl", 365*24*time.Hour, "token lifetime")
	licenseCmd.AddCommand(licenseIssueCmd)
	rootCmd.AddCommand(serveCmd, syncCmd, flushCmd, licenseCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func resolveOwner(cfg config.Config) (string, error) {
	if ownerFlag != "" {
		return ownerFlag, nil
	}
	if cfg.OwnerID != "" {
		return cfg.OwnerID, nil
	}
	return "", errors.New("no owner: pass --owner or set OWNER_ID")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	rt, err := build(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signalContext()
	defer stop()

	app := handlers.NewApp(cfg.MaxRequestBody)
	app.Use(logger.New())
	handlers.Register(app, handlers.NewDeps(rt.db, rt.engine))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.monitor.Run(gctx) })
	if rt.stream != nil {
		// follows whichever owner is current, including one set by /login
		g.Go(func() error { return rt.engine.Follow(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(5 * time.Second)
	})
	g.Go(func() error {
		applog.Info(nil, "server.start", map[string]any{"port": cfg.Port, "cloud": cfg.CloudDriver})
		if err := app.Listen(":" + cfg.Port); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	owner, err := resolveOwner(cfg)
	if err != nil {
		return err
	}
	rt, err := build(cfg)
	if err != nil {
		return err
	}
	defer rt.close()
	ctx, stop := signalContext()
	defer stop()

	if !rt.monitor.Probe(ctx) {
		return errors.New("cloud unreachable")
	}
	res, err := rt.engine.FullSync(ctx, owner)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runFlush(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	owner, err := resolveOwner(cfg)
	if err != nil {
		return err
	}
	rt, err := build(cfg)
	if err != nil {
		return err
	}
	defer rt.close()
	ctx, stop := signalContext()
	defer stop()

	res, err := flushOwner(ctx, rt, owner)
	if err != nil {
		return err
	}
	return printJSON(res)
}

// flushOwner reconnects and replays owner's queue in one explicit pass.
// No owner is set while probing, so the reconnect does not flush first and
// leave the explicit pass with nothing to report.
func flushOwner(ctx context.Context, rt *runtime, owner string) (syncer.FlushResult, error) {
	rt.engine.SetOwner("")
	if !rt.monitor.Probe(ctx) {
		return syncer.FlushResult{}, errors.New("cloud unreachable")
	}
	rt.engine.SetOwner(owner)
	return rt.engine.ProcessOfflineMessages(ctx, owner)
}

func runLicenseIssue(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	owner, err := resolveOwner(cfg)
	if err != nil {
		return err
	}
	if cfg.LicenseSecret == "" {
		return errors.New("LICENSE_SECRET is not set")
	}
	tok, err := license.Issue(cfg.LicenseSecret, owner, ttlFlag, license.FeatureCloudSync)
	if err != nil {
		return err
	}
	log.Printf("[license] issued for %s, valid %s", owner, ttlFlag)
	fmt.Println(tok)
	return nil
}
