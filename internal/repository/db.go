package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DB bundles the ent SQL driver with the pool behind it. Pool is nil for SQLite.
type DB struct {
	Driver *entsql.Driver
	Pool   *pgxpool.Pool
	logger *slog.Logger
}

// Dialect is the ent dialect name (postgres or sqlite3).
func (db *DB) Dialect() string { return db.Driver.Dialect() }

// Open connects to Postgres (postgres:// DSNs, through a pgx pool) or SQLite
// (sqlite:, file: or *.db DSNs, through modernc.org/sqlite).
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if isSQLite(cfg.DSN) {
		return openSQLite(cfg, logger)
	}

	logger.Info("connecting to database", "dialect", dialect.Postgres)
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse database config", "error", err)
		return nil, err
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "schema-extractor"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	// Wrap pool as *sql.DB for the ent driver
	drv := entsql.OpenDB(dialect.Postgres, stdlib.OpenDBFromPool(pool))
	logger.Info("successfully connected to database")
	return &DB{Driver: drv, Pool: pool, logger: logger}, nil
}

func isSQLite(dsn string) bool {
	return strings.HasPrefix(dsn, "sqlite:") || strings.HasPrefix(dsn, "file:") ||
		strings.HasSuffix(dsn, ".db") || dsn == ":memory:"
}

func openSQLite(cfg Config, logger *slog.Logger) (*DB, error) {
	dsn := strings.TrimPrefix(cfg.DSN, "sqlite://")
	dsn = strings.TrimPrefix(dsn, "sqlite:")
	memory := dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
	if dsn == ":memory:" {
		dsn = "file::memory:"
	}
	if !strings.Contains(dsn, "foreign_keys") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=foreign_keys(1)"
	}

	logger.Info("connecting to database", "dialect", dialect.SQLite)
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		logger.Error("failed to open sqlite database", "error", err)
		return nil, err
	}
	if memory {
		// every connection to :memory: is a separate database
		sdb.SetMaxOpenConns(1)
	}
	return &DB{Driver: entsql.OpenDB(dialect.SQLite, sdb), logger: logger}, nil
}

// Close closes the database connections gracefully
func (db *DB) Close() {
	db.logger.Info("closing database connections")
	if err := db.Driver.Close(); err != nil {
		db.logger.Error("failed to close database driver", "error", err)
	}
	if db.Pool != nil {
		db.Pool.Close()
	}
	db.logger.Info("database connections closed")
}

// HealthCheck pings the database to catch DSN issues early.
func (db *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	db.logger.Debug("pinging database")
	if db.Pool != nil {
		return db.Pool.Ping(ctx)
	}
	return db.Driver.DB().PingContext(ctx)
}
