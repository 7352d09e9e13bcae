package seed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/localrivet/dbseed/pkg/database"
)

// DumpHeader is the comment line every seed dump starts with.
const DumpHeader = "-- Kvant seed dump"

// Exporter serializes every row of the configured database as INSERT
// statements, one per line.
type Exporter struct {
	pools  database.Pools
	logger *slog.Logger
}

func NewExporter(pools database.Pools, logger *slog.Logger) *Exporter {
	return &Exporter{pools: pools, logger: logger}
}

type DumpStats struct {
	Tables int
	Rows   int64
	Bytes  int64
}

type ExportResult struct {
	Success  bool
	FilePath string
	Tables   int
	Rows     int64
	Bytes    int64
	Duration time.Duration
	Message  string
}

// Export writes a dump of the database to path. The file is only created once
// every row has been serialized.
func (e *Exporter) Export(ctx context.Context, path string, onProgress ProgressFunc) (*ExportResult, error) {
	start := time.Now()
	result := &ExportResult{FilePath: path}

	buf, stats, err := e.render(ctx, onProgress)
	if err != nil {
		return e.fail(result, err)
	}

	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return e.fail(result, fmt.Errorf("failed to write dump: %w", err))
	}
	onProgress.report(100)

	result.Success = true
	result.Tables = stats.Tables
	result.Rows = stats.Rows
	result.Bytes = stats.Bytes
	result.Duration = time.Since(start)
	result.Message = fmt.Sprintf("exported %d rows from %d tables", stats.Rows, stats.Tables)

	e.logger.Info("seed export completed",
		"path", path,
		"tables", stats.Tables,
		"rows", stats.Rows,
		"bytes", stats.Bytes,
		"duration", result.Duration,
	)

	return result, nil
}

// Dump renders the whole dump in memory and then writes it to w in one call.
func (e *Exporter) Dump(ctx context.Context, w io.Writer, onProgress ProgressFunc) (*DumpStats, error) {
	buf, stats, err := e.render(ctx, onProgress)
	if err != nil {
		return nil, err
	}

	if _, err := buf.WriteTo(w); err != nil {
		return nil, fmt.Errorf("failed to write dump: %w", err)
	}
	onProgress.report(100)

	return stats, nil
}

// DefaultFileName names an export of database taken at t, e.g.
// kvant-seed-2026-01-12.sql. A file extension on database is dropped.
func DefaultFileName(database string, t time.Time) string {
	name := strings.TrimSuffix(database, filepath.Ext(database))
	if name == "" {
		name = "seed"
	}
	return name + "-seed-" + t.Format("2006-01-02") + ".sql"
}

func (e *Exporter) fail(result *ExportResult, err error) (*ExportResult, error) {
	result.Message = err.Error()
	e.logger.Error("seed export failed", "path", result.FilePath, "error", err)
	return result, err
}

func (e *Exporter) render(ctx context.Context, onProgress ProgressFunc) (*bytes.Buffer, *DumpStats, error) {
	db, err := e.pools.Scoped(ctx)
	if err != nil {
		return nil, nil, err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	dialect := e.pools.Dialect()

	tables, err := dialect.ListTables(ctx, conn)
	if err != nil {
		return nil, nil, err
	}
	onProgress.report(0)

	stats := &DumpStats{Tables: len(tables)}

	var buf bytes.Buffer
	buf.WriteString(DumpHeader + "\n\n")

	for i, table := range tables {
		n, err := dumpTable(ctx, conn, dialect, table, &buf)
		if err != nil {
			return nil, nil, err
		}
		stats.Rows += n

		e.logger.Debug("table exported", "table", table, "rows", n)

		// The last table's share is reported once the dump is written.
		if i < len(tables)-1 {
			onProgress.report(Percent(i+1, len(tables)))
		}
	}

	stats.Bytes = int64(buf.Len())
	return &buf, stats, nil
}

func dumpTable(ctx context.Context, q database.Querier, dialect database.Dialect, table string, buf *bytes.Buffer) (int64, error) {
	tq, err := dialect.SelectAll(ctx, q, table)
	if err != nil {
		return 0, err
	}
	rows, err := q.QueryContext(ctx, tq.SQL)
	if err != nil {
		return 0, fmt.Errorf("failed to read table %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.ColumnTypes()
	if err != nil {
		return 0, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	width := len(columns)
	if tq.Columns > 0 && tq.Columns <= len(columns) {
		width = tq.Columns
	}
	classes := tq.Classes && len(columns) == 2*width

	names := make([]string, width)
	types := make([]string, width)
	for i, c := range columns[:width] {
		names[i] = dialect.QuoteIdent(c.Name())
		types[i] = c.DatabaseTypeName()
	}
	prefix := "INSERT INTO " + dialect.QuoteIdent(table) + " (" + strings.Join(names, ", ") + ") VALUES ("

	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	var count int64
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return count, fmt.Errorf("failed to scan row of %s: %w", table, err)
		}

		buf.WriteString(prefix)
		for i, v := range values[:width] {
			if i > 0 {
				buf.WriteString(", ")
			}
			if v == nil && classes && storageClass(values[width+i]) == "blob" {
				v = []byte{}
			}
			buf.WriteString(dialect.Literal(v, types[i]))
		}
		buf.WriteString(");\n")
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("failed to read table %s: %w", table, err)
	}

	if count > 0 {
		buf.WriteString("\n")
	}

	return count, nil
}

func storageClass(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case []byte:
		return string(c)
	}
	return ""
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".dbseed-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
