package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/niallgpt/niallgpt/internal/observability"
)

var servePort string

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serves sessions, chat turns, memory, settings and media generation over
HTTP. Message updates stream to clients on GET /events.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "Listen port (overrides NIALL_PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer app.Close()

	port := cfg.Port
	if servePort != "" {
		port = servePort
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// cancelling ctx ends open /events streams so Shutdown can finish
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	log := observability.Logger()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("NiallGPT API listening", "port", port, "mode", cfg.Mode, "storage", cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		// an open turn would otherwise hold its request until the deadline
		app.Chat.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
