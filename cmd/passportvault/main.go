package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"

	"github.com/passportvault/passportvault/internal/api"
	"github.com/passportvault/passportvault/internal/app"
	"github.com/passportvault/passportvault/internal/fetch"
	"github.com/passportvault/passportvault/internal/infra/config"
	"github.com/passportvault/passportvault/internal/infra/logger"
	"github.com/passportvault/passportvault/internal/objectstore"
	"github.com/passportvault/passportvault/internal/store"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "passportvault: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "passportvault",
		Short:        "Passport photo upload and batch download service",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the config file")
	cmd.AddCommand(newServeCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	appCtx := app.NewContext(cfg, log)

	db, err := store.NewPersistentStore(cfg.Store.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()
	appCtx.Store = db

	objects, err := objectstore.New(cfg.ObjectStore)
	if err != nil {
		return err
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return err
	}
	appCtx.Objects = objects

	appCtx.Fetcher = fetch.New(
		time.Duration(cfg.Batch.FetchTimeoutSec)*time.Second,
		cfg.Batch.MaxImageBytes,
	)

	e := echo.New()
	api.RegisterRoutes(e, appCtx)

	// No WriteTimeout: a batch download legitimately outlives any sane
	// per-request deadline, and the orchestrator handles its own abort.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
