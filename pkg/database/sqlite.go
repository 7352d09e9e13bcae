package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteDialect targets a single database file. The file is the database, so
// EnsureDatabase only has to make sure the connection is usable.
type SQLiteDialect struct{}

var _ Dialect = (*SQLiteDialect)(nil)

func (d *SQLiteDialect) Name() string { return TypeSQLite }

func (d *SQLiteDialect) Version(ctx context.Context, q Querier) (string, error) {
	var v string
	if err := q.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&v); err != nil {
		return "", fmt.Errorf("failed to read sqlite version: %w", err)
	}
	return "sqlite " + v, nil
}

func (d *SQLiteDialect) EnsureDatabase(ctx context.Context, conn *sql.Conn, name string) error {
	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return nil
}

func (d *SQLiteDialect) TableExists(ctx context.Context, q Querier, _ string, table string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up table %s: %w", table, err)
	}
	return n > 0, nil
}

func (d *SQLiteDialect) ListTables(ctx context.Context, q Querier) ([]string, error) {
	return queryNames(ctx, q,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
}

func (d *SQLiteDialect) SetForeignKeyChecks(ctx context.Context, e Execer, enabled bool) error {
	v := "OFF"
	if enabled {
		v = "ON"
	}
	_, err := e.ExecContext(ctx, "PRAGMA foreign_keys = "+v)
	return err
}

func (d *SQLiteDialect) QuoteIdent(name string) string {
	return quoteBacktick(name)
}

func (d *SQLiteDialect) SelectAll(ctx context.Context, q Querier, table string) (TableQuery, error) {
	names, err := queryNames(ctx, q, "SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return TableQuery{}, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	if len(names) == 0 {
		return TableQuery{SQL: "SELECT * FROM " + d.QuoteIdent(table)}, nil
	}

	cols := make([]string, 0, 2*len(names))
	for _, n := range names {
		cols = append(cols, d.QuoteIdent(n))
	}
	for _, n := range names {
		cols = append(cols, "typeof("+d.QuoteIdent(n)+")")
	}
	return TableQuery{
		SQL:     "SELECT " + strings.Join(cols, ", ") + " FROM " + d.QuoteIdent(table),
		Columns: len(names),
		Classes: true,
	}, nil
}

// Literal doubles quotes and splices line breaks in with char() so the
// rendered value never spans lines.
func (d *SQLiteDialect) Literal(v any, columnType string) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "1"
		}
		return "0"
	case time.Time:
		return "'" + sqliteTime(val) + "'"
	case []byte:
		if columnType == "" || strings.Contains(strings.ToUpper(columnType), "BLOB") {
			return hexLiteral(val)
		}
		return sqliteString(string(val))
	case string:
		return sqliteString(val)
	}
	if s, ok := numericLiteral(v); ok {
		return s
	}
	return sqliteString(fmt.Sprint(v))
}

func sqliteString(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}

	var parts []string
	var cur strings.Builder
	flush := func() {
		parts = append(parts, "'"+strings.ReplaceAll(cur.String(), "'", "''")+"'")
		cur.Reset()
	}
	for _, r := range s {
		switch r {
		case '\n':
			flush()
			parts = append(parts, "char(10)")
		case '\r':
			flush()
			parts = append(parts, "char(13)")
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return strings.Join(parts, " || ")
}

func openSQLite(cfg Config, _ poolKind) (*sql.DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpenConns)
	return db, nil
}
