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

	"vizdots/api/internal/app"
	"vizdots/api/internal/config"
	"vizdots/api/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Apply pending migrations and run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		ctx := cmd.Context()

		rt, err := newRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		applied, err := store.ApplyMigrations(ctx, rt.db, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		if len(applied) > 0 {
			rt.logger.Info("migrations applied", zap.Strings("versions", applied))
		}

		go rt.search.ReindexAll(context.Background(), rt.pgSearch)

		httpServer := app.NewHTTPServer(rt.service, cfg.CORSOrigin,
			app.WithLogger(rt.logger),
			app.WithMetrics(rt.metrics, rt.registry),
		)
		server := &http.Server{
			Addr:              cfg.Addr,
			Handler:           httpServer.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			rt.logger.Info("VizDots API listening", zap.String("addr", cfg.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
		case err := <-serveErr:
			if err != nil {
				return err
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			rt.logger.Error("shutdown error", zap.Error(err))
		}
		return nil
	},
}
