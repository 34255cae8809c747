package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"slotsync/backend/internal/store"
)

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// SlowQueryThreshold enables a warning log for queries slower than it. Zero disables.
	SlowQueryThreshold time.Duration
}

func Open(databaseURL string, pool PoolConfig, log *slog.Logger) (*bun.DB, error) {
	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	db := bun.NewDB(sqlDB, pgdialect.New())
	if pool.SlowQueryThreshold > 0 {
		if log == nil {
			log = slog.Default()
		}
		db.AddQueryHook(&slowQueryHook{
			threshold: pool.SlowQueryThreshold,
			log:       log.With(slog.String("component", "postgres")),
		})
	}
	return db, nil
}

func Close(db *bun.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

// Ping reports whether the database answers within ctx.
func Ping(ctx context.Context, db *bun.DB) error {
	if db == nil {
		return errors.New("postgres: nil db")
	}
	return db.PingContext(ctx)
}

type slowQueryHook struct {
	threshold time.Duration
	log       *slog.Logger
}

var _ bun.QueryHook = (*slowQueryHook)(nil)

func (h *slowQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *slowQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	elapsed := time.Since(event.StartTime)
	if elapsed < h.threshold {
		return
	}
	h.log.WarnContext(ctx, "slow query",
		slog.String("operation", event.Operation()),
		slog.Duration("elapsed", elapsed),
		slog.String("query", event.Query),
	)
}

// mapWriteError translates unique and exclusion violations into store.ErrConflict.
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "23P01") {
		return store.ErrConflict
	}
	return err
}

func mapReadError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func checkAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
