package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"alqefari/api/internal/app"
	"alqefari/api/internal/config"
	"alqefari/api/internal/lease"
	"alqefari/api/internal/lineage"
	"alqefari/api/internal/logging"
	"alqefari/api/internal/ratelimit"
	"alqefari/api/internal/search"
	"alqefari/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logrus.NewEntry(logger).WithField("service", "family-api")
	ctx := context.Background()

	var dataStore store.Store
	switch cfg.StoreDriver {
	case config.StoreMemory:
		log.Warn("using in-memory store; data is lost on restart")
		dataStore = store.NewMemoryStore()
	default:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("database connection failed")
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db); err != nil {
			log.WithError(err).Fatal("migrations failed")
		}
		dataStore = store.NewPostgresStore(db)
	}

	deps := app.Deps{Log: log}
	var bus *lineage.RedisBus
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := lease.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("redis connection failed")
		}
		defer client.Close()
		log.Info("using redis for undo leases, suggestion limits and lineage invalidation")
		deps.Locker = lease.NewRedisLocker(client, cfg.UndoLeaseTTL, log)
		bus = lineage.NewRedisBus(client, log)
		deps.Bus = bus
		if deps.Limiter, err = ratelimit.New("suggestions", cfg.SuggestionRate, client); err != nil {
			log.WithError(err).Fatal("suggestion limiter")
		}
	}
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meili.Close()
		deps.Backend = meili
	}

	service, err := app.New(cfg, dataStore, deps)
	if err != nil {
		log.WithError(err).Fatal("service init failed")
	}
	if bus != nil {
		stop, err := bus.Listen(ctx, service.Index())
		if err != nil {
			log.WithError(err).Warn("lineage invalidation listener unavailable; relying on LINEAGE_MAX_AGE")
		} else {
			defer stop()
		}
	}
	if deps.Backend != nil {
		go func() {
			n, err := service.ReindexSearch(context.Background())
			if err != nil {
				log.WithError(err).Warn("initial search reindex failed")
				return
			}
			log.WithField("profiles", n).Info("search index warmed")
		}()
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("family API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}
