package seed

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/localrivet/dbseed/pkg/database"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newSQLite opens a fresh database file and runs the given DDL against it.
func newSQLite(t *testing.T, ddl ...string) (*database.Provider, *sql.DB) {
	t.Helper()

	p, err := database.New(database.Config{Type: "sqlite", Path: filepath.Join(t.TempDir(), "seed.db")})
	if err != nil {
		t.Fatalf("database.New() error: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	db, err := p.Scoped(context.Background())
	if err != nil {
		t.Fatalf("Scoped() error: %v", err)
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("setup %q: %v", stmt, err)
		}
	}
	return p, db
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func insertLines(dump, table string) int {
	n := 0
	for _, line := range strings.Split(dump, "\n") {
		if strings.HasPrefix(line, "INSERT INTO `"+table+"` ") {
			n++
		}
	}
	return n
}

var schoolSchema = []string{
	"CREATE TABLE a (id INTEGER PRIMARY KEY, name TEXT)",
	"CREATE TABLE b (id INTEGER PRIMARY KEY, a_id INTEGER REFERENCES a(id))",
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src, srcDB := newSQLite(t, append(schoolSchema,
		"INSERT INTO a (id, name) VALUES (1, 'Anna'), (2, 'Boris')",
	)...)

	path := filepath.Join(t.TempDir(), "out", "kvant-seed.sql")
	exp, err := NewExporter(src, testLogger()).Export(ctx, path, nil)
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if !exp.Success || exp.FilePath != path {
		t.Errorf("Export() = %+v", exp)
	}
	if exp.Tables != 2 || exp.Rows != 2 {
		t.Errorf("Export() tables=%d rows=%d, want 2 and 2", exp.Tables, exp.Rows)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	dump := string(data)

	if !strings.HasPrefix(dump, DumpHeader+"\n") {
		t.Errorf("dump does not start with header:\n%s", dump)
	}
	if got := insertLines(dump, "a"); got != 2 {
		t.Errorf("INSERT lines for a = %d, want 2", got)
	}
	if got := insertLines(dump, "b"); got != 0 {
		t.Errorf("INSERT lines for b = %d, want 0", got)
	}
	if !strings.Contains(dump, "INSERT INTO `a` (`id`, `name`) VALUES (1, 'Anna');\n") {
		t.Errorf("dump missing expected row:\n%s", dump)
	}

	dst, dstDB := newSQLite(t, schoolSchema...)
	imp, err := NewImporter(dst, testLogger(), ImportOptions{}).Import(ctx, path, nil)
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if !imp.Success || imp.ProcessedInserts != 2 || imp.Failed != 0 {
		t.Errorf("Import() = %+v, want 2 processed", imp)
	}
	if got := countRows(t, dstDB, "a"); got != 2 {
		t.Errorf("rows in a = %d, want 2", got)
	}
	if got := countRows(t, srcDB, "a"); got != 2 {
		t.Errorf("source rows in a = %d, want 2", got)
	}
}

func TestExport_EmptyDatabase(t *testing.T) {
	p, _ := newSQLite(t)

	var progress []int
	var buf bytes.Buffer
	stats, err := NewExporter(p, testLogger()).Dump(context.Background(), &buf, func(n int) {
		progress = append(progress, n)
	})
	if err != nil {
		t.Fatalf("Dump() error: %v", err)
	}
	if stats.Tables != 0 || stats.Rows != 0 {
		t.Errorf("Dump() stats = %+v, want empty", stats)
	}
	if buf.String() != DumpHeader+"\n\n" {
		t.Errorf("Dump() = %q, want header only", buf.String())
	}
	if !reflect.DeepEqual(progress, []int{0, 100}) {
		t.Errorf("progress = %v, want [0 100]", progress)
	}
}

func TestExport_Progress(t *testing.T) {
	p, _ := newSQLite(t,
		"CREATE TABLE t1 (id INTEGER)",
		"CREATE TABLE t2 (id INTEGER)",
		"CREATE TABLE t3 (id INTEGER)",
		"INSERT INTO t2 VALUES (1)",
	)

	var progress []int
	_, err := NewExporter(p, testLogger()).Dump(context.Background(), io.Discard, func(n int) {
		progress = append(progress, n)
	})
	if err != nil {
		t.Fatalf("Dump() error: %v", err)
	}

	if want := []int{0, 33, 67, 100}; !reflect.DeepEqual(progress, want) {
		t.Errorf("progress = %v, want %v", progress, want)
	}
	assertMonotonic(t, progress)
}

func TestExport_FailureLeavesNoFile(t *testing.T) {
	p, db := newSQLite(t, "CREATE TABLE a (id INTEGER)")
	db.Close()

	path := filepath.Join(t.TempDir(), "dump.sql")
	var progress []int
	result, err := NewExporter(p, testLogger()).Export(context.Background(), path, func(n int) {
		progress = append(progress, n)
	})
	if err == nil {
		t.Fatal("Export() expected error on closed pool")
	}
	if result.Success || result.Message == "" {
		t.Errorf("Export() = %+v, want failure with message", result)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Errorf("dump file should not exist, stat err = %v", statErr)
	}
	if len(progress) != 0 {
		t.Errorf("progress = %v, want none on failure", progress)
	}
}

func TestImport_ToleratesFailedStatements(t *testing.T) {
	ctx := context.Background()
	dump := DumpHeader + "\n\n" +
		"INSERT INTO `a` (`id`, `name`) VALUES (1, 'first');\n" +
		"INSERT INTO `missing` (`id`) VALUES (2);\n" +
		"INSERT INTO `a` (`id`, `name`) VALUES (3, 'third');\n"

	for _, transactional := range []bool{false, true} {
		t.Run(fmt.Sprintf("transactional=%v", transactional), func(t *testing.T) {
			p, db := newSQLite(t, schoolSchema...)

			var progress []int
			result, err := NewImporter(p, testLogger(), ImportOptions{Transactional: transactional}).
				ImportReader(ctx, strings.NewReader(dump), func(n int) { progress = append(progress, n) })
			if err != nil {
				t.Fatalf("ImportReader() error: %v", err)
			}
			if !result.Success {
				t.Errorf("Success = false, message %q", result.Message)
			}
			if result.ProcessedInserts != 2 || result.Failed != 1 || result.Total != 3 {
				t.Errorf("result = %+v, want 2 processed 1 failed of 3", result)
			}

			var ids []int
			rows, err := db.Query("SELECT id FROM a ORDER BY id")
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			defer rows.Close()
			for rows.Next() {
				var id int
				if err := rows.Scan(&id); err != nil {
					t.Fatalf("scan: %v", err)
				}
				ids = append(ids, id)
			}
			if !reflect.DeepEqual(ids, []int{1, 3}) {
				t.Errorf("ids = %v, want [1 3]", ids)
			}

			if want := []int{33, 33, 67, 100}; !reflect.DeepEqual(progress, want) {
				t.Errorf("progress = %v, want %v", progress, want)
			}
		})
	}
}

func TestImport_DisablesForeignKeys(t *testing.T) {
	ctx := context.Background()
	p, db := newSQLite(t, schoolSchema...)

	// b references a row that is only inserted afterwards.
	dump := "INSERT INTO `b` (`id`, `a_id`) VALUES (1, 7);\n" +
		"INSERT INTO `a` (`id`, `name`) VALUES (7, 'late');\n"

	result, err := NewImporter(p, testLogger(), ImportOptions{}).ImportReader(ctx, strings.NewReader(dump), nil)
	if err != nil {
		t.Fatalf("ImportReader() error: %v", err)
	}
	if result.ProcessedInserts != 2 {
		t.Errorf("ProcessedInserts = %d, want 2", result.ProcessedInserts)
	}
	if got := countRows(t, db, "b"); got != 1 {
		t.Errorf("rows in b = %d, want 1", got)
	}

	// The pool holds a single idle connection: the one the import used.
	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d after import, want 1", fk)
	}
}

// countingPools fails the test if any pool is requested.
type countingPools struct {
	calls int
}

func (c *countingPools) Scoped(context.Context) (*sql.DB, error) {
	c.calls++
	return nil, errors.New("unexpected pool access")
}

func (c *countingPools) Admin(context.Context) (*sql.DB, error) {
	c.calls++
	return nil, errors.New("unexpected pool access")
}

func (c *countingPools) Dialect() database.Dialect {
	return &database.SQLiteDialect{}
}

func TestImport_EmptyDump(t *testing.T) {
	tests := []struct {
		name string
		dump string
	}{
		{"empty", ""},
		{"header only", DumpHeader + "\n\n"},
		{"ddl only", "CREATE TABLE a (id INT);\nDROP TABLE b;\n"},
		{"insert without semicolon", "INSERT INTO `a` VALUES (1)\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pools := &countingPools{}
			var progress []int

			result, err := NewImporter(pools, testLogger(), ImportOptions{}).
				ImportReader(context.Background(), strings.NewReader(tt.dump), func(n int) { progress = append(progress, n) })
			if !errors.Is(err, ErrNoInserts) {
				t.Errorf("error = %v, want ErrNoInserts", err)
			}
			if result.Success {
				t.Error("Success = true, want false")
			}
			if result.Message == "" {
				t.Error("Message should describe the failure")
			}
			if pools.calls != 0 {
				t.Errorf("pool acquired %d times, want 0", pools.calls)
			}
			if len(progress) != 0 {
				t.Errorf("progress = %v, want none", progress)
			}
		})
	}
}

func TestImport_MissingFile(t *testing.T) {
	pools := &countingPools{}
	result, err := NewImporter(pools, testLogger(), ImportOptions{}).
		Import(context.Background(), filepath.Join(t.TempDir(), "nope.sql"), nil)
	if err == nil {
		t.Fatal("Import() expected error for missing file")
	}
	if result.Success || result.Message == "" {
		t.Errorf("Import() = %+v, want failure with message", result)
	}
	if pools.calls != 0 {
		t.Errorf("pool acquired %d times, want 0", pools.calls)
	}
}

func TestImport_ConnectionFailure(t *testing.T) {
	pools := &countingPools{}
	var progress []int

	result, err := NewImporter(pools, testLogger(), ImportOptions{}).ImportReader(context.Background(),
		strings.NewReader("INSERT INTO `a` VALUES (1);\n"), func(n int) { progress = append(progress, n) })
	if err == nil {
		t.Fatal("ImportReader() expected connection error")
	}
	if result.Success {
		t.Error("Success = true, want false")
	}
	if len(progress) != 0 {
		t.Errorf("progress = %v, want none on connection failure", progress)
	}
}

func TestImport_ProgressMonotonic(t *testing.T) {
	p, _ := newSQLite(t, schoolSchema...)

	var sb strings.Builder
	for i := 1; i <= 7; i++ {
		fmt.Fprintf(&sb, "INSERT INTO `a` (`id`, `name`) VALUES (%d, 'n%d');\n", i, i)
	}

	var progress []int
	_, err := NewImporter(p, testLogger(), ImportOptions{}).ImportReader(context.Background(),
		strings.NewReader(sb.String()), func(n int) { progress = append(progress, n) })
	if err != nil {
		t.Fatalf("ImportReader() error: %v", err)
	}

	if len(progress) != 8 {
		t.Errorf("progress reports = %d, want one per statement plus final", len(progress))
	}
	assertMonotonic(t, progress)
}

type hostileRow struct {
	ID    int64
	Note  sql.NullString
	Score float64
	Photo []byte
}

func TestExportImport_HostileValues(t *testing.T) {
	ctx := context.Background()
	ddl := "CREATE TABLE students (id INTEGER PRIMARY KEY, note TEXT, score REAL, photo BLOB)"
	src, srcDB := newSQLite(t, ddl)

	faker := gofakeit.New(42)
	fragments := []string{`'`, `''`, `\`, `\'`, "\n", "\r\n", "\t", `"`, "--", "/*", ";", "ё", "DELIMITER $$"}

	want := make([]hostileRow, 0, 20)
	for i := 1; i <= 20; i++ {
		note := faker.Name()
		for j := 0; j < 3; j++ {
			note += fragments[faker.Number(0, len(fragments)-1)] + faker.Word()
		}
		row := hostileRow{
			ID:    int64(i),
			Note:  sql.NullString{String: note, Valid: true},
			Score: faker.Float64Range(-1000, 1000),
			Photo: []byte(faker.LetterN(8) + "\x00\xff'\n"),
		}
		if i%5 == 0 {
			row.Note = sql.NullString{}
		}
		if _, err := srcDB.Exec("INSERT INTO students (id, note, score, photo) VALUES (?, ?, ?, ?)",
			row.ID, row.Note, row.Score, row.Photo); err != nil {
			t.Fatalf("insert row %d: %v", i, err)
		}
		want = append(want, row)
	}

	var buf bytes.Buffer
	if _, err := NewExporter(src, testLogger()).Dump(ctx, &buf, nil); err != nil {
		t.Fatalf("Dump() error: %v", err)
	}
	if got := insertLines(buf.String(), "students"); got != len(want) {
		t.Fatalf("INSERT lines = %d, want %d (values must not break lines)", got, len(want))
	}

	dst, dstDB := newSQLite(t, ddl)
	result, err := NewImporter(dst, testLogger(), ImportOptions{}).ImportReader(ctx, &buf, nil)
	if err != nil {
		t.Fatalf("ImportReader() error: %v", err)
	}
	if result.ProcessedInserts != len(want) {
		t.Fatalf("ProcessedInserts = %d, want %d", result.ProcessedInserts, len(want))
	}

	rows, err := dstDB.Query("SELECT id, note, score, photo FROM students ORDER BY id")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	var got []hostileRow
	for rows.Next() {
		var r hostileRow
		if err := rows.Scan(&r.ID, &r.Note, &r.Score, &r.Photo); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, r)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("restored %d rows, want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.ID != w.ID || g.Note != w.Note || !bytes.Equal(g.Photo, w.Photo) {
			t.Errorf("row %d = %+v, want %+v", w.ID, g, w)
		}
		if math.Abs(g.Score-w.Score) > 1e-9 {
			t.Errorf("row %d score = %v, want %v", w.ID, g.Score, w.Score)
		}
	}
}

func TestExportImport_KeepsOffsetsAndEmptyBlobs(t *testing.T) {
	ctx := context.Background()
	ddl := "CREATE TABLE events (id INTEGER PRIMARY KEY, data BLOB, at DATETIME)"
	src, srcDB := newSQLite(t, ddl)
	if _, err := srcDB.Exec(`INSERT INTO events (id, data, at) VALUES
		(1, x'', '2024-01-01 10:00:00+03:00'),
		(2, x'00ff', '2024-06-30 23:59:59'),
		(3, NULL, '2024-01-01 07:00:00')`); err != nil {
		t.Fatalf("seed rows: %v", err)
	}

	var buf bytes.Buffer
	if _, err := NewExporter(src, testLogger()).Dump(ctx, &buf, nil); err != nil {
		t.Fatalf("Dump() error: %v", err)
	}
	dump := buf.String()
	for _, want := range []string{"X''", "+03:00"} {
		if !strings.Contains(dump, want) {
			t.Errorf("dump missing %q:\n%s", want, dump)
		}
	}

	dst, dstDB := newSQLite(t, ddl)
	if _, err := NewImporter(dst, testLogger(), ImportOptions{}).ImportReader(ctx, &buf, nil); err != nil {
		t.Fatalf("ImportReader() error: %v", err)
	}

	const q = "SELECT id, typeof(data), coalesce(hex(data), ''), strftime('%s', at) FROM events ORDER BY id"
	want := readAll(t, srcDB, q)
	got := readAll(t, dstDB, q)
	if len(got) != len(want) {
		t.Fatalf("restored %d rows, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %s, want %s", i+1, got[i], want[i])
		}
	}
	if want[0] != "1|blob||1704092400" {
		t.Errorf("source row 1 = %s, want the empty blob at 07:00 UTC", want[0])
	}
}

func readAll(t *testing.T, db *sql.DB, query string) []string {
	t.Helper()

	rows, err := db.Query(query)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id int64
		var class, data string
		var at sql.NullString
		if err := rows.Scan(&id, &class, &data, &at); err != nil {
			t.Fatalf("scan: %v", err)
		}
		out = append(out, fmt.Sprintf("%d|%s|%s|%s", id, class, data, at.String))
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	return out
}

func TestPercent(t *testing.T) {
	tests := []struct {
		done, total int
		want        int
	}{
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{1, 2, 50},
		{1, 8, 13},
		{1, 200, 1},
		{1, 201, 0},
		{0, 0, 100},
		{5, 3, 100},
	}

	for _, tt := range tests {
		if got := Percent(tt.done, tt.total); got != tt.want {
			t.Errorf("Percent(%d, %d) = %d, want %d", tt.done, tt.total, got, tt.want)
		}
	}
}

func assertMonotonic(t *testing.T, progress []int) {
	t.Helper()

	if len(progress) == 0 {
		t.Fatal("no progress reported")
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Errorf("progress decreased at %d: %v", i, progress)
		}
	}
	if last := progress[len(progress)-1]; last != 100 {
		t.Errorf("last progress = %d, want 100", last)
	}
}

func TestDefaultFileName(t *testing.T) {
	day := time.Date(2026, 1, 12, 23, 59, 0, 0, time.UTC)

	tests := []struct {
		database string
		want     string
	}{
		{"kvant", "kvant-seed-2026-01-12.sql"},
		{"kvant.db", "kvant-seed-2026-01-12.sql"},
		{"", "seed-seed-2026-01-12.sql"},
	}

	for _, tt := range tests {
		if got := DefaultFileName(tt.database, day); got != tt.want {
			t.Errorf("DefaultFileName(%q) = %q, want %q", tt.database, got, tt.want)
		}
	}
}
