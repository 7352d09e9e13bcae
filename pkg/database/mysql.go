package database

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

type MySQLDialect struct{}

var _ Dialect = (*MySQLDialect)(nil)

func (d *MySQLDialect) Name() string { return TypeMySQL }

func (d *MySQLDialect) Version(ctx context.Context, q Querier) (string, error) {
	var v string
	if err := q.QueryRowContext(ctx, "SELECT VERSION()").Scan(&v); err != nil {
		return "", fmt.Errorf("failed to read server version: %w", err)
	}
	return v, nil
}

func (d *MySQLDialect) EnsureDatabase(ctx context.Context, conn *sql.Conn, name string) error {
	if _, err := conn.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS "+d.QuoteIdent(name)); err != nil {
		return fmt.Errorf("failed to create database %s: %w", name, err)
	}
	if _, err := conn.ExecContext(ctx, "USE "+d.QuoteIdent(name)); err != nil {
		return fmt.Errorf("failed to select database %s: %w", name, err)
	}
	return nil
}

func (d *MySQLDialect) TableExists(ctx context.Context, q Querier, database, table string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.TABLES WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`,
		database, table,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up table %s: %w", table, err)
	}
	return n > 0, nil
}

func (d *MySQLDialect) ListTables(ctx context.Context, q Querier) ([]string, error) {
	return queryNames(ctx, q,
		`SELECT TABLE_NAME FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME`)
}

func (d *MySQLDialect) SetForeignKeyChecks(ctx context.Context, e Execer, enabled bool) error {
	v := "0"
	if enabled {
		v = "1"
	}
	_, err := e.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = "+v)
	return err
}

func (d *MySQLDialect) QuoteIdent(name string) string {
	return quoteBacktick(name)
}

func (d *MySQLDialect) SelectAll(_ context.Context, _ Querier, table string) (TableQuery, error) {
	return TableQuery{SQL: "SELECT * FROM " + d.QuoteIdent(table)}, nil
}

// Literal escapes the way the mysql client libraries do: backslash escapes
// for control characters and quotes, hex literals for binary columns.
func (d *MySQLDialect) Literal(v any, columnType string) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "true"
		}
		return "false"
	case time.Time:
		if val.IsZero() {
			return mysqlZeroTime(columnType)
		}
		return "'" + formatTime(val) + "'"
	case []byte:
		if isBinaryType(columnType) {
			return hexLiteral(val)
		}
		return mysqlString(string(val))
	case string:
		return mysqlString(val)
	}
	if s, ok := numericLiteral(v); ok {
		return s
	}
	return mysqlString(fmt.Sprint(v))
}

func mysqlString(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case 0:
			sb.WriteString(`\0`)
		case '\b':
			sb.WriteString(`\b`)
		case '\t':
			sb.WriteString(`\t`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case 0x1a:
			sb.WriteString(`\Z`)
		case '"':
			sb.WriteString(`\"`)
		case '\'':
			sb.WriteString(`\'`)
		case '\\':
			sb.WriteString(`\\`)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}

func mysqlConfig(cfg Config, kind poolKind) *mysql.Config {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.ParseTime = true
	mc.Loc = time.UTC
	if cfg.ConnectTimeout > 0 {
		mc.Timeout = cfg.ConnectTimeout
	}

	switch kind {
	case adminPool:
		mc.MultiStatements = true
	default:
		mc.DBName = cfg.Name
	}
	return mc
}

// DSN renders the data source name for the requested pool kind. The
// password is masked.
func (c Config) DSN(admin bool) string {
	kind := scopedPool
	if admin {
		kind = adminPool
	}
	mc := mysqlConfig(c, kind)
	if mc.Passwd != "" {
		mc.Passwd = "****"
	}
	return mc.FormatDSN()
}

func openMySQL(cfg Config, kind poolKind) (*sql.DB, error) {
	connector, err := mysql.NewConnector(mysqlConfig(cfg, kind))
	if err != nil {
		return nil, err
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

func isBinaryType(columnType string) bool {
	switch strings.ToUpper(columnType) {
	case "BINARY", "VARBINARY", "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BIT", "GEOMETRY":
		return true
	}
	return false
}

func hexLiteral(b []byte) string {
	return "X'" + hex.EncodeToString(b) + "'"
}
