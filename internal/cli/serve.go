package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/credmux/credmux/internal/config"
	"github.com/credmux/credmux/internal/history"
	"github.com/credmux/credmux/internal/pool"
	"github.com/credmux/credmux/internal/reload"
	"github.com/credmux/credmux/internal/serve"
	"github.com/credmux/credmux/internal/store"
)

const shutdownTimeout = 5 * time.Second

// eventFanout duplicates pool events to every sink: the durable history log
// and the live websocket stream.
type eventFanout []pool.EventSink

func (f eventFanout) Record(accountID, event, detail string) {
	for _, s := range f {
		s.Record(accountID, event, detail)
	}
}

func newServeCmd() *cobra.Command {
	var configPath string
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pool manager and its admin API",
		Long: `Starts the credential pool: loads persisted accounts (falling back to
CREDMUX_COOKIES), watches the settings file for live changes, and serves
the admin REST/websocket API.

CREDMUX_ADMIN_KEY must be set; it is the bearer credential for every
/api/v1 route.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, listen)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to TOML config file (default: built-in defaults)")
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address, overrides the config file")

	return cmd
}

func runServe(configPath, listenOverride string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if listenOverride != "" {
		cfg.Listen = listenOverride
	}

	// The admin credential is the single hard startup requirement: without
	// it every API route would be unreachable or, worse, unguarded.
	adminKey := config.AdminKey()
	if adminKey == "" {
		return fmt.Errorf("%s is not set; refusing to start", config.EnvAdminKey)
	}

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		return fmt.Errorf("opening account store: %w", err)
	}
	defer st.Close()

	hist, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer hist.Close()

	sink := history.NewSink(hist)
	defer sink.Close()

	hub := serve.NewWSHub()
	defer hub.Close()

	mgr := pool.New(st, cfg.ExchangeURL, pool.WithEventSink(eventFanout{sink, hub}))
	mgr.Initialize()
	defer mgr.Shutdown()

	watcher := reload.New(cfg.SettingsPath(), st)
	watcher.OnReload(mgr.Reload)
	watcher.StartWatching()
	defer watcher.StopWatching()

	server := serve.NewServer(mgr, hist, hub, adminKey)
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("SERVE: listening addr=%s", cfg.Listen)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("SERVE: shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("SERVE: http shutdown err=%v", err)
	}
	return nil
}
