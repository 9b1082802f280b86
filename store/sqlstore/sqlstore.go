/*
Package sqlstore provides the SQL implementation of studio.TxStore.

PURPOSE:
  One implementation for two dialects:
    SQLite      NewSQLite (embedded deployments, tests with ":memory:")
    PostgreSQL  NewPostgres (pgx pool behind database/sql)

  Queries are written with '?' placeholders and rebound by sqlx for the
  dialect in use. Both dialects share the embedded goose migrations.

TRANSACTIONS:
  Every Store method runs on the *sqlx.Tx opened by WithTx. Nothing reads
  outside a transaction. SQLite runs on a single connection and WithTx is
  serialized, so transactions never see SQLITE_BUSY.

TYPES:
  Money            TEXT, through decimal.Decimal's Valuer/Scanner
  Dates            DATE, through studio.Date
  Clock times      TEXT 'HH:MM', through studio.ClockTime
  Timestamps       TIMESTAMP, always written in UTC
  Optional refs    '' instead of NULL

ERRORS:
  sql.ErrNoRows on Get* becomes studio NotFound. Unique violations (SQLite
  extended code or PostgreSQL SQLSTATE 23505) become studio Conflict.

SEE ALSO:
  - studio/store.go: interface contract
  - migrations/00001_init.sql: schema
*/
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/aryzhykau/atlantis-engine/studio"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// Store implements studio.TxStore on top of sqlx.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	pool    *pgxpool.Pool
	log     *zap.Logger

	// serializes SQLite transactions
	mu sync.Mutex
}

var _ studio.TxStore = (*Store)(nil)

// NewSQLite opens (and migrates) a SQLite database. Use ":memory:" for a
// throwaway in-memory database.
func NewSQLite(ctx context.Context, path string, log *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection: ":memory:" databases are per connection, and SQLite
	// allows a single writer anyway
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dialect: SQLite, log: orNop(log)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres connects a pgx pool and migrates the schema.
func NewPostgres(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db := sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
	s := &Store{db: db, dialect: Postgres, pool: pool, log: orNop(log)}
	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func orNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

func (s *Store) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

func (s *Store) Dialect() Dialect { return s.dialect }

// =============================================================================
// MIGRATIONS
// =============================================================================

// goose keeps its dialect, file system and logger in package state.
var gooseMu sync.Mutex

func (s *Store) migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{s.log.Sugar().Named("goose")})
	if err := goose.SetDialect(string(s.dialect)); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, s.db.DB)
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}
	s.log.Debug("schema migrated", zap.String("dialect", string(s.dialect)), zap.Int64("version", version))
	return nil
}

// gooseLogger routes goose output to zap.
type gooseLogger struct {
	l *zap.SugaredLogger
}

func (g gooseLogger) Fatalf(format string, v ...any) { g.l.Fatalf(format, v...) }
func (g gooseLogger) Printf(format string, v ...any) { g.l.Debugf(format, v...) }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn in a database transaction; fn's error rolls it back.
func (s *Store) WithTx(ctx context.Context, fn func(studio.Store) error) error {
	if s.dialect == SQLite {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements studio.Store on one open transaction.
type txStore struct {
	tx *sqlx.Tx
}

var _ studio.Store = (*txStore)(nil)

func (t *txStore) get(ctx context.Context, dest any, entity, id, query string, args ...any) error {
	err := t.tx.GetContext(ctx, dest, t.tx.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return studio.NotFound(entity, id)
	}
	if err != nil {
		return fmt.Errorf("get %s %s: %w", entity, id, err)
	}
	return nil
}

// find is get for lookups where absence is normal: it reports found=false
// instead of an error.
func (t *txStore) find(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	err := t.tx.GetContext(ctx, dest, t.tx.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *txStore) list(ctx context.Context, dest any, query string, args ...any) error {
	return t.tx.SelectContext(ctx, dest, t.tx.Rebind(query), args...)
}

// insert runs a named statement, mapping unique violations to Conflict.
func (t *txStore) insert(ctx context.Context, entity, query string, arg any) error {
	_, err := t.tx.NamedExecContext(ctx, query, arg)
	if isUniqueViolation(err) {
		return studio.Conflict(entity, "already exists: %v", err)
	}
	if err != nil {
		return fmt.Errorf("insert %s: %w", entity, err)
	}
	return nil
}

// update runs a named statement that must touch exactly one row.
func (t *txStore) update(ctx context.Context, entity, id, query string, arg any) error {
	res, err := t.tx.NamedExecContext(ctx, query, arg)
	if isUniqueViolation(err) {
		return studio.Conflict(entity, "update violates uniqueness: %v", err).WithID(id)
	}
	if err != nil {
		return fmt.Errorf("update %s %s: %w", entity, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s %s: %w", entity, id, err)
	}
	if n == 0 {
		return studio.NotFound(entity, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
