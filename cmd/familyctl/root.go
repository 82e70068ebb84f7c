package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"alqefari/api/internal/app"
	"alqefari/api/internal/config"
	"alqefari/api/internal/lease"
	"alqefari/api/internal/lineage"
	"alqefari/api/internal/logging"
	"alqefari/api/internal/search"
	"alqefari/api/internal/store"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "familyctl",
		Short:        "Maintenance tools for the family tree API",
		SilenceUsage: true,
	}
	cmd.AddCommand(newMigrateCmd(), newReindexCmd(), newChainCmd(), newUndoCmd())
	return cmd
}

// env bundles what the tree subcommands need. close releases the database,
// redis and search connections.
type env struct {
	log     *logrus.Entry
	service *app.Service
	close   func()
}

func openDB(ctx context.Context) (config.Config, *logrus.Entry, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	log := logrus.NewEntry(logging.New(cfg.LogLevel, "text")).WithField("service", "familyctl")
	if cfg.StoreDriver != config.StorePostgres {
		return cfg, log, nil, fmt.Errorf("familyctl needs STORE_DRIVER=%s, got %q", config.StorePostgres, cfg.StoreDriver)
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return cfg, log, nil, err
	}
	return cfg, log, db, nil
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, log, db, err := openDB(ctx)
	if err != nil {
		return nil, err
	}
	deps := app.Deps{Log: log}
	closers := []func(){func() { _ = db.Close() }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	// Undo and edits from the CLI must respect the API's leases and tell
	// running API processes to drop their name chains.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := lease.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		deps.Locker = lease.NewRedisLocker(client, cfg.UndoLeaseTTL, log)
		deps.Bus = lineage.NewRedisBus(client, log)
	}
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		deps.Backend = meili
		closers = append(closers, meili.Close)
	}
	service, err := app.New(cfg, store.NewPostgresStore(db), deps)
	if err != nil {
		closeAll()
		return nil, err
	}
	return &env{log: log, service: service, close: closeAll}, nil
}
