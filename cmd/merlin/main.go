// Merlin - Card fraud batch detection over daily drop files.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openfraud/merlin/internal/api"
	"github.com/openfraud/merlin/internal/bus"
	"github.com/openfraud/merlin/internal/cache"
	"github.com/openfraud/merlin/internal/config"
	"github.com/openfraud/merlin/internal/dimension"
	"github.com/openfraud/merlin/internal/inbox"
	"github.com/openfraud/merlin/internal/ingest"
	"github.com/openfraud/merlin/internal/ledger"
	"github.com/openfraud/merlin/internal/pipeline"
	"github.com/openfraud/merlin/internal/report"
	"github.com/openfraud/merlin/internal/repository"
	"github.com/openfraud/merlin/internal/rules"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		runOnce    = flag.Bool("process", false, "run one pipeline pass and exit")
		serve      = flag.Bool("serve", true, "start the HTTP API server")
		watch      = flag.Bool("watch", false, "watch the inbox and run the pipeline on new files")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	initLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting merlin",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"inbox", cfg.Pipeline.InboxDir,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	dims := dimension.New(repo)
	engine := rules.NewEngine(repo, cacheImpl)
	materializer := report.NewMaterializer(repo, engine, busImpl)
	scanner := inbox.NewScanner(cfg.Pipeline.InboxDir, cfg.Pipeline.ArchiveDir)
	runner := pipeline.NewRunner(scanner, ledger.New(repo), ingest.NewService(repo), dims, materializer)

	if *runOnce {
		res, err := runner.Run(ctx)
		if err != nil {
			slog.Error("pipeline run failed", "error", err)
			os.Exit(1)
		}
		slog.Info("pipeline done",
			"loaded", res.FilesLoaded,
			"skipped", res.FilesSkipped,
			"days_rebuilt", res.DaysRebuilt,
			"alerts", res.Alerts,
		)
		return
	}

	if *watch {
		debounce := time.Duration(cfg.Pipeline.WatchDebounceMs) * time.Millisecond
		watcher := inbox.NewWatcher(cfg.Pipeline.InboxDir, debounce, func(ctx context.Context) {
			if _, err := runner.Run(ctx); err != nil {
				slog.Error("pipeline run failed", "error", err)
			}
		})
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("inbox watcher failed", "error", err)
			}
		}()
	}

	var srv *api.Server
	if *serve {
		srv = api.NewServer(cfg.Server, repo, cacheImpl, materializer, runner, Version)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("server failed", "error", err)
				os.Exit(1)
			}
		}()
		slog.Info("merlin is ready",
			"host", cfg.Server.Host,
			"port", cfg.Server.Port,
		)
	}

	<-ctx.Done()
	slog.Info("shutting down...")

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}

	slog.Info("merlin shutdown complete")
}

func initLogger(level, format string) {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}
