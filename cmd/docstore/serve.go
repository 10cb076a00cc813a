package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/docstore-client/internal/fakestore"
	"github.com/vyrodovalexey/docstore-client/internal/store"
)

func newServeFakeCmd(a *app) *cobra.Command {
	var (
		port int
		mode string
	)

	cmd := &cobra.Command{
		Use:   "serve-fake",
		Short: "Run an in-memory document store that issues authentication challenges",
		Long: `Run an in-memory document store. The mode selects the challenge it answers
unauthenticated requests with: open, secured, legacy, windows,
windows-forbidden or basic-only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("port") {
				cfg.FakeStorePort = port
			}
			if cmd.Flags().Changed("mode") {
				cfg.FakeStoreMode = mode
			}
			if err := cfg.ValidateFakeStore(); err != nil {
				return fmt.Errorf("validating fake store config: %w", err)
			}

			srv, err := fakestore.NewFromConfig(cfg, a.logger, store.NewMemoryStore())
			if err != nil {
				return err
			}

			return serve(cmd.Context(), srv, a.logger, cfg.ShutdownTimeout)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides DOCSTORE_FAKESTORE_PORT)")
	cmd.Flags().StringVar(&mode, "mode", "", "challenge mode (overrides DOCSTORE_FAKESTORE_MODE)")
	return cmd
}

// serve runs srv until it fails or a shutdown signal arrives.
func serve(ctx context.Context, srv *fakestore.Server, logger *zap.Logger, shutdownTimeout time.Duration) error {
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		return err
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("fake store stopped")
	return nil
}
