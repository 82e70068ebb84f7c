package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// mapPgError translates driver errors into store sentinels, keeping the
// original error in the chain.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "55P03":
		return fmt.Errorf("%w: %w", ErrLockNotAvailable, err)
	case "55000":
		return fmt.Errorf("%w: %s", ErrAuditImmutable, pgErr.Message)
	case "23514":
		if strings.HasPrefix(pgErr.Message, "munasib") {
			return fmt.Errorf("%w: %s", ErrMunasibViolation, strings.TrimSpace(strings.TrimPrefix(pgErr.Message, "munasib:")))
		}
		return fmt.Errorf("%w: %s", ErrConstraint, pgErr.ConstraintName)
	case "23505":
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	case "23503", "22P02":
		return fmt.Errorf("%w: %s", ErrNotFound, pgErr.Message)
	default:
		return err
	}
}
