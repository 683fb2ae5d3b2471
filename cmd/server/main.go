// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/auxbox/auxbox/internal/api/httpapi"
	"github.com/auxbox/auxbox/internal/api/ws"
	"github.com/auxbox/auxbox/internal/app/admission"
	"github.com/auxbox/auxbox/internal/app/credential"
	"github.com/auxbox/auxbox/internal/app/notification"
	"github.com/auxbox/auxbox/internal/app/reconcile"
	"github.com/auxbox/auxbox/internal/app/scheduler"
	"github.com/auxbox/auxbox/internal/infra/config"
	"github.com/auxbox/auxbox/internal/infra/logger"
	"github.com/auxbox/auxbox/internal/infra/spotify"
	"github.com/auxbox/auxbox/internal/infra/store"
)

var (
	app        = kingpin.New("auxbox-server", "auxbox shared jukebox server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available admission filters and exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	credMgr, err := credential.New(ctx, st, credential.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		RedirectURL:  cfg.Spotify.RedirectURL,
		Margin:       cfg.RefreshMargin(),
	})
	if err != nil {
		return fmt.Errorf("failed to create credential manager: %w", err)
	}

	gateway := spotify.New(credMgr)
	notifier := notification.NewManager()
	defer notifier.Close()

	sched := scheduler.New(st, scheduler.Config{
		PlaylistRefill: cfg.Scheduler.PlaylistRefill,
	})

	chain, err := admission.BuildChain(filterConfigs(cfg), st, gateway)
	if err != nil {
		return fmt.Errorf("invalid filter config: %w", err)
	}
	admitter := admission.New(gateway, st, chain)

	loop := reconcile.New(gateway, st, sched, notifier, reconcile.Config{
		Interval: cfg.ReconcileInterval(),
	})
	go loop.Run(ctx)

	wsHandler := ws.NewHandler(notifier, st, gateway, admitter, sched)
	api := httpapi.New(st, credMgr, notifier, cfg.Admin.Token)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.Router(wsHandler),
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	if !credMgr.Authorized() {
		zlog.Warn().Msgf("Not authorized yet; visit http://localhost%s/login to connect the account", cfg.Server.Addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return fmt.Errorf("server error: %w", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	return nil
}

// filterConfigs converts the config file's filter section into the
// admission controller's form.
func filterConfigs(cfg *config.Config) map[string]admission.FilterConfig {
	out := make(map[string]admission.FilterConfig, len(cfg.Filters))
	for name, fc := range cfg.Filters {
		out[name] = admission.FilterConfig{
			Enabled:  fc.Enabled,
			Settings: fc.Settings,
		}
	}
	return out
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for _, factory := range admission.GetRegistered() {
		f := factory()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}
