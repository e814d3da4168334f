package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/rental-ledger/api"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API. When scheduler.enabled is set, the billing cycle
also runs in the background every scheduler.interval.

On SIGINT/SIGTERM the server stops accepting connections, waits up to 30s
for active requests, stops the scheduler and closes the database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		handler := api.NewHandler(a.ledger, a.store, a.tokens, a.blobs, log)
		handler.MaxUploadBytes = cfg.HTTP.MaxUploadBytes
		handler.StaffInbox = cfg.Billing.StaffInbox
		handler.Scheduler.Enabled = cfg.Scheduler.Enabled
		handler.Scheduler.CheckInterval = cfg.Scheduler.Interval

		server := &http.Server{
			Addr:         ":" + cfg.App.Port,
			Handler:      api.NewRouter(handler, cfg.HTTP.CORSAllowOrigins),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  cfg.HTTP.IdleTimeout,
		}

		handler.Scheduler.Start()
		defer handler.Scheduler.Stop()

		errCh := make(chan error, 1)
		go func() {
			log.Info("server starting", zap.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case err := <-errCh:
			if err != nil {
				log.Error("server failed", zap.Error(err))
				return err
			}
			return nil
		case sig := <-quit:
			log.Info("shutting down server", zap.String("signal", sig.String()))
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server forced to shutdown", zap.Error(err))
			return err
		}

		log.Info("server stopped")
		return nil
	},
}
