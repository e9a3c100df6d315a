package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/slipstream/scrapecore/internal/api"
	"github.com/slipstream/scrapecore/internal/config"
	"github.com/slipstream/scrapecore/internal/database"
	"github.com/slipstream/scrapecore/internal/history"
	"github.com/slipstream/scrapecore/internal/indexer"
	"github.com/slipstream/scrapecore/internal/indexer/scraper"
	"github.com/slipstream/scrapecore/internal/logger"
	"github.com/slipstream/scrapecore/internal/scheduler"
	"github.com/slipstream/scrapecore/internal/scheduler/tasks"
	"github.com/slipstream/scrapecore/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "scrapecore:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to config file")
	once := flag.String("once", "", "Run a cache search on the named provider, print the results as JSON and exit")
	flag.Parse()

	// A missing .env is normal.
	_ = godotenv.Load(".env")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	recent := logger.NewRecentLogs(1000)
	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
		Output:     os.Stderr,
		Recent:     recent,
	})
	defer log.Close()

	log.Info().
		Str("logLevel", cfg.Logging.Level).
		Strs("providers", cfg.EnabledProviders()).
		Msg("starting scrapecore")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database.Path, log.Logger)
	if err != nil {
		return err
	}
	defer db.Close()

	cookies, err := indexer.NewCookieStore(ctx, db.Conn(), cfg.Scraper.CookieSecret)
	if err != nil {
		return err
	}
	hist := history.NewService(db.Conn(), log.Logger)
	hub := websocket.NewHub(log.Logger)

	registry, err := indexer.NewRegistry(ctx, cfg, indexer.Deps{
		CookieStore: cookies,
		Observer:    scraper.MultiObserver(hist, hub),
	}, log.Logger)
	if err != nil {
		return err
	}

	if *once != "" {
		batch, err := registry.CacheSearch(ctx, *once)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(batch)
	}

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		return err
	}
	if err := tasks.RegisterCacheSearchTasks(sched, registry.Providers(), cfg.Scheduler.CacheCron, cfg.Scheduler.RunOnStart, log.Logger); err != nil {
		return err
	}
	if err := tasks.RegisterHistoryCleanupTask(sched, hist, cfg.Scheduler.CleanupCron); err != nil {
		return err
	}

	logFile := ""
	if cfg.Logging.Path != "" {
		logFile = filepath.Join(cfg.Logging.Path, "scrapecore.log")
	}
	server := api.NewServer(api.Deps{
		Registry:  registry,
		History:   hist,
		Scheduler: sched,
		Hub:       hub,
		Logs:      recent,
		LogFile:   logFile,
	}, api.Options{SearchRate: 1, SearchBurst: 5}, log.Logger)

	go hub.Run(ctx)
	sched.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.Address())
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	if err := sched.Stop(); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown error")
	}

	log.Info().Msg("server stopped")
	return nil
}
