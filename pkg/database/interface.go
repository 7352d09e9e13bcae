package database

import (
	"context"
	"database/sql"
	"time"
)

// Dialect hides the server-specific SQL the seed and deploy engines need.
type Dialect interface {
	Name() string
	// Version reports the server version recorded in archive metadata.
	Version(ctx context.Context, q Querier) (string, error)

	// EnsureDatabase creates the named database when missing and makes it
	// the active database of conn.
	EnsureDatabase(ctx context.Context, conn *sql.Conn, name string) error
	TableExists(ctx context.Context, q Querier, database, table string) (bool, error)
	// ListTables returns the base tables of the active database in name order.
	ListTables(ctx context.Context, q Querier) ([]string, error)
	// SetForeignKeyChecks toggles referential-integrity checking for the
	// session behind e.
	SetForeignKeyChecks(ctx context.Context, e Execer, enabled bool) error

	QuoteIdent(name string) string
	// SelectAll builds the query the dump reads table through.
	SelectAll(ctx context.Context, q Querier, table string) (TableQuery, error)
	// Literal renders v as a SQL literal that fits on a single line.
	// columnType is the driver's DatabaseTypeName for the column v came from.
	Literal(v any, columnType string) string
}

// TableQuery reads every row of one table. With Classes set the query
// returns Columns table columns followed by the typeof() of each, because the
// driver reports a zero-length BLOB as NULL.
type TableQuery struct {
	SQL     string
	Columns int
	Classes bool
}

// Pools hands out the two kinds of connection pools the engines use.
type Pools interface {
	// Scoped is bound to the configured database.
	Scoped(ctx context.Context) (*sql.DB, error)
	// Admin is bound to the server with no default database and accepts
	// multiple statements per call.
	Admin(ctx context.Context) (*sql.DB, error)
	Dialect() Dialect
}

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Querier interface {
	Execer
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Conn)(nil)
	_ Querier = (*sql.Tx)(nil)
)

type Config struct {
	Type           string
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	Path           string // SQLite database file
	ConnectTimeout time.Duration
}

const (
	TypeMySQL  = "mysql"
	TypeSQLite = "sqlite"

	maxOpenConns = 10
)

// NormalizeType maps accepted aliases onto TypeMySQL or TypeSQLite.
// Unknown values are returned unchanged.
func NormalizeType(t string) string {
	switch t {
	case "", "mysql", "mariadb":
		return TypeMySQL
	case "sqlite", "sqlite3":
		return TypeSQLite
	default:
		return t
	}
}
