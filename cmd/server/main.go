package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bbilly1/tubearchivist/internal/archive"
	"github.com/bbilly1/tubearchivist/internal/config"
	"github.com/bbilly1/tubearchivist/internal/download"
	"github.com/bbilly1/tubearchivist/internal/handlers"
	"github.com/bbilly1/tubearchivist/internal/httpclient"
	"github.com/bbilly1/tubearchivist/internal/logger"
	"github.com/bbilly1/tubearchivist/internal/progress"
	"github.com/bbilly1/tubearchivist/internal/queue"
	"github.com/bbilly1/tubearchivist/internal/resolver"
	"github.com/bbilly1/tubearchivist/internal/store"
	"github.com/bbilly1/tubearchivist/internal/subscription"
	"github.com/bbilly1/tubearchivist/internal/tagging"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  cfg.Server.LogLevel,
		Format: cfg.Server.LogFormat,
	})

	// Document store backend
	var st store.Store
	switch cfg.Application.StoreBackend {
	case "elastic":
		st = store.NewElastic(cfg.Application.ESURL, httpclient.NewClient(nil, 0), appLogger)
	default:
		sqliteStore, err := store.NewSQLite(cfg.Application.DBPath)
		if err != nil {
			appLogger.Error("Failed to open database", "error", err)
			os.Exit(1)
		}
		defer sqliteStore.Close()
		st = sqliteStore
	}

	res := resolver.NewYTDLP(appLogger)
	feed := resolver.NewFeed(appLogger)
	hub := progress.NewHub(&progress.LogSink{Log: appLogger})
	idx := archive.NewIndex(cfg.Application.VideosDir, appLogger)

	pending := queue.NewPending(st, res, idx, hub, appLogger)
	subs := subscription.NewManager(st, res, feed, pending, idx, hub, subscription.Options{
		ChannelSize: cfg.Subscriptions.ChannelSize,
		UseFeed:     cfg.Subscriptions.UseFeed,
	}, appLogger)
	tagger := tagging.New(httpclient.NewClient(nil, 0), appLogger)
	executor := download.NewExecutor(res, st, pending, tagger, hub, cfg, appLogger)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h := handlers.NewHandler(pending, subs, executor, hub, appLogger)
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		appLogger.Info("Server listening", "addr", srv.Addr, "store", cfg.Application.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	appLogger.Info("Server exiting")
}
