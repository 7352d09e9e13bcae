package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewWithRegistry("test", reg), reg
}

// value returns the counter or gauge sample of name whose labels include
// every pair in labels, or 0 when no such sample was gathered.
func value(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	for _, f := range families {
		if f.GetName() != "test_"+name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			have := make(map[string]string)
			for _, l := range m.GetLabel() {
				have[l.GetName()] = l.GetValue()
			}
			for i := 0; i+1 < len(labels); i += 2 {
				if have[labels[i]] != labels[i+1] {
					continue metrics
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func TestNewWithRegistry(t *testing.T) {
	m, _ := newTestMetrics(t)

	if m.operationDuration == nil {
		t.Error("operationDuration is nil")
	}
	if m.operationsTotal == nil {
		t.Error("operationsTotal is nil")
	}
	if m.skippedInserts == nil {
		t.Error("skippedInserts is nil")
	}
	if m.storageUsed == nil {
		t.Error("storageUsed is nil")
	}
}

func TestNewWithRegistry_DefaultNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("", reg)
	m.SetStorageUsed(1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), "dbseed_") {
			t.Errorf("metric %s missing dbseed_ prefix", f.GetName())
		}
	}
}

func TestNewWithRegistry_DuplicatePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewWithRegistry("dup", reg)

	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	NewWithRegistry("dup", reg)
}

func TestMetrics_RecordOperation(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.RecordOperation(OpImport, time.Second, nil)
	m.RecordOperation(OpImport, time.Second, nil)
	m.RecordOperation(OpImport, time.Second, errors.New("boom"))
	m.RecordOperation(OpDeploy, time.Second, nil)

	tests := []struct {
		op, status string
		want       float64
	}{
		{OpImport, "success", 2},
		{OpImport, "failure", 1},
		{OpDeploy, "success", 1},
		{OpDeploy, "failure", 0},
	}

	for _, tt := range tests {
		got := value(t, reg, "operations_total", "operation", tt.op, "status", tt.status)
		if got != tt.want {
			t.Errorf("operations_total{%s,%s} = %v, want %v", tt.op, tt.status, got, tt.want)
		}
	}
}

func TestMetrics_RecordBackup(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.RecordBackupSuccess(5*time.Second, 1024*1024, 300)

	if got := value(t, reg, "archive_size_bytes"); got != 1024*1024 {
		t.Errorf("archive_size_bytes = %v, want 1048576", got)
	}
	if got := value(t, reg, "archive_rows"); got != 300 {
		t.Errorf("archive_rows = %v, want 300", got)
	}
	if got := value(t, reg, "last_backup_success"); got != 1 {
		t.Errorf("last_backup_success = %v, want 1", got)
	}
	if got := value(t, reg, "last_backup_timestamp"); got == 0 {
		t.Error("last_backup_timestamp not set")
	}

	m.RecordBackupFailure(time.Second, errors.New("disk full"))

	if got := value(t, reg, "last_backup_success"); got != 0 {
		t.Errorf("last_backup_success = %v, want 0", got)
	}
	if got := value(t, reg, "operations_total", "operation", OpBackup, "status", "failure"); got != 1 {
		t.Errorf("backup failures = %v, want 1", got)
	}
}

func TestMetrics_AddSkippedInserts(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.AddSkippedInserts(3)
	m.AddSkippedInserts(0)
	m.AddSkippedInserts(-1)
	m.AddSkippedInserts(2)

	if got := value(t, reg, "import_skipped_inserts_total"); got != 5 {
		t.Errorf("import_skipped_inserts_total = %v, want 5", got)
	}
}

func TestMetrics_SetStorageUsed(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.SetStorageUsed(100 * 1024 * 1024 * 1024 * 1024)

	if got := value(t, reg, "storage_used_bytes"); got != 100*1024*1024*1024*1024 {
		t.Errorf("storage_used_bytes = %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	m.RecordOperation(OpExport, time.Second, nil)
	m.RecordBackupSuccess(time.Second, 1, 1)
	m.RecordBackupFailure(time.Second, errors.New("x"))
	m.AddSkippedInserts(1)
	m.SetStorageUsed(1)
}

func TestMetrics_ConcurrentAccess(t *testing.T) {
	m, reg := newTestMetrics(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if j%2 == 0 {
					m.RecordBackupSuccess(time.Second, 1024, 10)
				} else {
					m.RecordBackupFailure(time.Second, errors.New("x"))
				}
				m.AddSkippedInserts(1)
			}
		}()
	}
	wg.Wait()

	if got := value(t, reg, "import_skipped_inserts_total"); got != 1000 {
		t.Errorf("import_skipped_inserts_total = %v, want 1000", got)
	}
	if got := value(t, reg, "operations_total", "operation", OpBackup, "status", "success"); got != 500 {
		t.Errorf("backup successes = %v, want 500", got)
	}
}

func TestHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_") {
		t.Error("Expected prometheus metrics in response")
	}
}
