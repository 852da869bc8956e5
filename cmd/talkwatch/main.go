package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/jwbth/convenient-discussions-sub003/internal/adapter/driven/mediawiki"
	sqliteadapter "github.com/jwbth/convenient-discussions-sub003/internal/adapter/driven/sqlite"
	httphandler "github.com/jwbth/convenient-discussions-sub003/internal/adapter/driving/http"
	"github.com/jwbth/convenient-discussions-sub003/internal/application"
	"github.com/jwbth/convenient-discussions-sub003/internal/config"
	"github.com/jwbth/convenient-discussions-sub003/internal/domain/port/driven"
	"github.com/jwbth/convenient-discussions-sub003/internal/platform/metrics"
	"github.com/jwbth/convenient-discussions-sub003/internal/wikitext"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"api_url", cfg.APIURL,
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"poll_interval", cfg.PollInterval,
		"authenticated", cfg.HasCredentials(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Load site settings (timestamp patterns, outdent templates, closed
	// discussion markers).
	settings := wikitext.DefaultSettings()
	if cfg.SiteSettingsPath != "" {
		settings, err = wikitext.LoadSettings(cfg.SiteSettingsPath)
		if err != nil {
			return err
		}
		slog.Info("site settings loaded", "path", cfg.SiteSettingsPath)
	}

	// 4. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 5. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 6. Wire driven adapters.
	pageStore := sqliteadapter.NewPageRepo(db)
	eventStore := sqliteadapter.NewEventRepo(db)
	wikiClient := mediawiki.NewClient(cfg.APIURL, cfg.UserAgent, cfg.Token)
	extractor := mediawiki.NewExtractor(settings)

	reg := metrics.NewRegistry()

	// 7. Seed the watch list from configuration. An already-watched page is
	// not an error on restart.
	for _, title := range cfg.WatchPages {
		if _, err := pageStore.Add(ctx, title); err != nil && !errors.Is(err, driven.ErrPageAlreadyWatched) {
			slog.Warn("could not seed watched page", "page", title, "error", err)
		}
	}

	// 8. Create and start the watch service.
	watchSvc := application.NewWatchService(wikiClient, pageStore, eventStore, extractor, reg, cfg.PollInterval)
	go watchSvc.Start(ctx)

	// 9. Create the discussion service for the write flows.
	discussionSvc := application.NewDiscussionService(wikiClient, extractor, settings, reg)

	// 10. Create HTTP handler and server.
	apiHandler := httphandler.NewHandler(pageStore, eventStore, watchSvc, discussionSvc, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, reg, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("talkwatch started",
		"listen_addr", cfg.ListenAddr,
		"poll_interval", cfg.PollInterval,
		"watched_pages", len(cfg.WatchPages),
	)

	// 11. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
