package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	// Pure Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"
	// PostgreSQL driver, registered as "postgres".
	_ "github.com/lib/pq"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLStorage implements Storage on database/sql for SQLite and PostgreSQL.
type SQLStorage struct {
	driver string
	dsn    string
	db     *sql.DB

	rules  *sqlRuleRepo
	alerts *sqlAlertRepo
}

// NewSQLStorage creates a storage for driver ("sqlite" or "postgres").
// For SQLite the dsn is a file path.
func NewSQLStorage(driver, dsn string) *SQLStorage {
	return &SQLStorage{driver: driver, dsn: dsn}
}

// NewSQLStorageWithDB wraps an already opened database. Open must not be
// called on the result.
func NewSQLStorageWithDB(driver string, db *sql.DB) *SQLStorage {
	s := &SQLStorage{driver: driver}
	s.attach(db)
	return s
}

// Open initializes the database connection.
func (s *SQLStorage) Open() error {
	ctx := context.Background()

	dsn := s.dsn
	switch s.driver {
	case DriverSQLite:
		if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
			dsn = "file:" + dsn
		}
	case DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q", s.driver)
	}

	db, err := sql.Open(s.driver, dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	if s.driver == DriverSQLite {
		db.SetMaxOpenConns(1) // SQLite is single-writer
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	if s.driver == DriverSQLite {
		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return fmt.Errorf("execute %s: %w", pragma, err)
			}
		}
	}

	s.attach(db)
	return nil
}

func (s *SQLStorage) attach(db *sql.DB) {
	s.db = db
	q := &querier{db: db, postgres: s.driver == DriverPostgres}
	s.rules = &sqlRuleRepo{q: q}
	s.alerts = &sqlAlertRepo{q: q}
}

// Close closes the database connection.
func (s *SQLStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *SQLStorage) DB() *sql.DB {
	return s.db
}

// Ping verifies the database is reachable.
func (s *SQLStorage) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not open")
	}
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations.
func (s *SQLStorage) Migrate() error {
	return runMigrations(&querier{db: s.db, postgres: s.driver == DriverPostgres})
}

// Rules returns the rule repository.
func (s *SQLStorage) Rules() RuleRepository {
	return s.rules
}

// Alerts returns the alert repository.
func (s *SQLStorage) Alerts() AlertRepository {
	return s.alerts
}

// querier rebinds "?" placeholders for PostgreSQL.
type querier struct {
	db       *sql.DB
	postgres bool
}

func (q *querier) rebind(query string) string {
	if !q.postgres {
		return query
	}
	return rebind(query)
}

func (q *querier) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.rebind(query), args...)
}

func (q *querier) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.rebind(query), args...)
}

func (q *querier) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.rebind(query), args...)
}

// rebind converts "?" placeholders to PostgreSQL "$n" form.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Helper functions for SQL null handling.

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
