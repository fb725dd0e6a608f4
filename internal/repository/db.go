// Package repository persists studies, users, and the credit ledger. One
// implementation runs against both the embedded sqlite backend and Postgres.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/doctorfy/doctorfy/internal/common"
)

// Dialect selects placeholder style and locking clauses.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

type DB struct {
	sql     *sql.DB
	pool    *pgxpool.Pool // nil on sqlite
	dialect Dialect
	logger  *slog.Logger
}

// Open connects to the configured backend. DSNs with a postgres scheme get a
// pgx pool wrapped as database/sql; anything else is treated as a sqlite
// path.
func Open(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") {
		logger.Info("connecting to database", "backend", "postgres")
		pc, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, common.NewAppError(common.KindIOFailure, "parsing database dsn", err)
		}
		pc.MaxConns = cfg.MaxConns
		pc.MinConns = cfg.MinConns
		pc.MaxConnLifetime = cfg.MaxConnLifetime
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
		pc.ConnConfig.RuntimeParams["application_name"] = "doctorfy"

		dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
		pool, err := pgxpool.NewWithConfig(dialCtx, pc)
		if err != nil {
			return nil, common.NewAppError(common.KindIOFailure, "connecting to database", err)
		}
		db := stdlib.OpenDBFromPool(pool)
		return &DB{sql: db, pool: pool, dialect: DialectPostgres, logger: logger}, nil
	}

	logger.Info("connecting to database", "backend", "sqlite", "path", cfg.DSN)
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, common.NewAppError(common.KindIOFailure, "opening sqlite database", err)
	}
	// A single writer connection serializes ledger updates on sqlite.
	db.SetMaxOpenConns(1)
	return &DB{sql: db, dialect: DialectSQLite, logger: logger}, nil
}

// Close closes the database connections gracefully.
func (d *DB) Close() {
	d.logger.Info("closing database connections")
	if err := d.sql.Close(); err != nil {
		d.logger.Error("failed to close database", "error", err)
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

// HealthCheck pings the backend to catch DSN issues early.
func (d *DB) HealthCheck(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

// rebind rewrites ? placeholders into $N for the postgres backend.
func (d *DB) rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate appends a row lock clause where the backend supports one.
// sqlite serializes writers already.
func (d *DB) forUpdate(query string) string {
	if d.dialect == DialectPostgres {
		return query + " FOR UPDATE"
	}
	return query
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		credits TEXT NOT NULL DEFAULT '0',
		age INTEGER,
		gender TEXT,
		role TEXT NOT NULL DEFAULT 'patient',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS medical_studies (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		doctor_id TEXT,
		study_type TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL,
		interpretation TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_medical_studies_patient ON medical_studies(patient_id)`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		delta TEXT NOT NULL,
		reason TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_transactions_user ON credit_transactions(user_id)`,
}

// Migrate applies the idempotent schema. Both backends accept the same DDL.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return common.NewAppError(common.KindIOFailure, "applying schema", err)
		}
	}
	d.logger.Info("database schema up to date")
	return nil
}
