package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			name: "local backend",
			cfg:  Config{Backend: "local", Path: tmpDir},
		},
		{
			name: "s3 backend with config",
			cfg: Config{Backend: "s3", S3: &S3Config{
				Bucket:    "seed-bucket",
				Endpoint:  "localhost:9000",
				AccessKey: "access",
				SecretKey: "secret",
			}},
		},
		{
			name:    "s3 backend without config",
			cfg:     Config{Backend: "s3"},
			wantErr: ErrS3ConfigRequired,
		},
		{
			name:    "unknown backend",
			cfg:     Config{Backend: "gcs"},
			wantErr: ErrUnknownBackend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := New(tt.cfg)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("New() error = %v, want %v", err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("New() unexpected error: %v", err)
			}
			if backend == nil {
				t.Error("New() returned nil backend")
			}
		})
	}
}

func TestStorageError(t *testing.T) {
	err := &StorageError{
		Op:   "write",
		Path: "seed_1.sql.gz",
		Err:  io.EOF,
	}

	if got, want := err.Error(), "write seed_1.sql.gz: EOF"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, io.EOF) {
		t.Error("errors.Is(err, io.EOF) = false")
	}
	if !errors.Is(notFound("read", "x"), ErrNotFound) {
		t.Error("notFound() does not wrap ErrNotFound")
	}
}

func TestNewLocalStorage(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "a", "b", "backups")

	store, err := NewLocalStorage(nested)
	if err != nil {
		t.Fatalf("NewLocalStorage() error: %v", err)
	}
	if store == nil {
		t.Fatal("NewLocalStorage() returned nil")
	}
	if info, err := os.Stat(nested); err != nil || !info.IsDir() {
		t.Errorf("storage directory not created: %v", err)
	}

	if _, err := NewLocalStorage(""); err == nil {
		t.Error("NewLocalStorage(\"\") expected error")
	}
}

func newLocal(t *testing.T) (*LocalStorage, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	if err != nil {
		t.Fatalf("NewLocalStorage() error: %v", err)
	}
	return store, dir
}

func TestLocalStorage_WriteRead(t *testing.T) {
	store, dir := newLocal(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		path    string
		content string
	}{
		{"simple file", "seed_1.sql", "INSERT INTO `a` VALUES (1);\n"},
		{"nested path", "2026/01/seed_2.sql.gz", "\x1f\x8b binary"},
		{"empty file", "empty.sql", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Write(ctx, tt.path, strings.NewReader(tt.content)); err != nil {
				t.Fatalf("Write() error: %v", err)
			}

			onDisk, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(tt.path)))
			if err != nil {
				t.Fatalf("file not on disk: %v", err)
			}
			if string(onDisk) != tt.content {
				t.Errorf("disk content = %q, want %q", onDisk, tt.content)
			}

			r, err := store.Read(ctx, tt.path)
			if err != nil {
				t.Fatalf("Read() error: %v", err)
			}
			got, _ := io.ReadAll(r)
			r.Close()
			if string(got) != tt.content {
				t.Errorf("Read() = %q, want %q", got, tt.content)
			}
		})
	}
}

func TestLocalStorage_WriteOverwrites(t *testing.T) {
	store, _ := newLocal(t)
	ctx := context.Background()

	store.Write(ctx, "seed.sql", strings.NewReader("a much longer first version"))
	if err := store.Write(ctx, "seed.sql", strings.NewReader("v2")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	size, err := store.Size(ctx, "seed.sql")
	if err != nil {
		t.Fatalf("Size() error: %v", err)
	}
	if size != 2 {
		t.Errorf("Size() = %d, want 2", size)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestLocalStorage_WriteFailureLeavesNothing(t *testing.T) {
	store, dir := newLocal(t)
	ctx := context.Background()

	err := store.Write(ctx, "seed.sql", io.MultiReader(strings.NewReader("partial"), failingReader{}))
	if err == nil {
		t.Fatal("Write() expected error")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("storage dir has %d entries after failed write, want 0", len(entries))
	}
	if exists, _ := store.Exists(ctx, "seed.sql"); exists {
		t.Error("Exists() = true after failed write")
	}
}

func TestLocalStorage_RejectsEscapingPaths(t *testing.T) {
	store, _ := newLocal(t)
	ctx := context.Background()

	for _, path := range []string{"../outside.sql", "a/../../outside.sql", "", "."} {
		if err := store.Write(ctx, path, strings.NewReader("x")); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Write(%q) error = %v, want ErrInvalidPath", path, err)
		}
		if _, err := store.Read(ctx, path); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Read(%q) error = %v, want ErrInvalidPath", path, err)
		}
	}
}

func TestLocalStorage_NotFound(t *testing.T) {
	store, _ := newLocal(t)
	ctx := context.Background()

	if _, err := store.Read(ctx, "missing.sql"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read() error = %v, want ErrNotFound", err)
	}
	if _, err := store.Size(ctx, "missing.sql"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Size() error = %v, want ErrNotFound", err)
	}
	exists, err := store.Exists(ctx, "missing.sql")
	if err != nil || exists {
		t.Errorf("Exists() = %v, %v, want false, nil", exists, err)
	}
	if err := store.Delete(ctx, "missing.sql"); err != nil {
		t.Errorf("Delete() of missing file error: %v", err)
	}
}

func TestLocalStorage_Delete(t *testing.T) {
	store, _ := newLocal(t)
	ctx := context.Background()

	store.Write(ctx, "seed.sql", strings.NewReader("x"))
	if err := store.Delete(ctx, "seed.sql"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if exists, _ := store.Exists(ctx, "seed.sql"); exists {
		t.Error("file still exists after Delete()")
	}
}

func TestLocalStorage_List(t *testing.T) {
	store, dir := newLocal(t)
	ctx := context.Background()

	files := []string{"seed_1.sql.gz", "seed_1.meta.json", "seed_2.sql.gz", "other/notes.txt"}
	base := time.Now().Add(-time.Hour)
	for i, f := range files {
		if err := store.Write(ctx, f, strings.NewReader(f)); err != nil {
			t.Fatalf("Write(%s) error: %v", f, err)
		}
		mod := base.Add(time.Duration(i) * time.Minute)
		os.Chtimes(filepath.Join(dir, filepath.FromSlash(f)), mod, mod)
	}
	// Leftover from an interrupted write.
	os.WriteFile(filepath.Join(dir, tempPrefix+"123"), []byte("junk"), 0o644)

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("List() returned %d files, want 4: %+v", len(all), all)
	}
	if all[0].Path != "other/notes.txt" {
		t.Errorf("newest file = %s, want other/notes.txt", all[0].Path)
	}

	seeds, err := store.List(ctx, "seed_1")
	if err != nil {
		t.Fatalf("List(seed_1) error: %v", err)
	}
	if len(seeds) != 2 {
		t.Errorf("List(seed_1) returned %d files, want 2", len(seeds))
	}
	for _, f := range seeds {
		if f.Size != int64(len(f.Path)) {
			t.Errorf("%s size = %d, want %d", f.Path, f.Size, len(f.Path))
		}
	}
}

func TestLocalStorage_ListMissingRoot(t *testing.T) {
	store, dir := newLocal(t)
	os.RemoveAll(dir)

	files, err := store.List(context.Background(), "")
	if err != nil {
		t.Errorf("List() error: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("List() = %v, want empty", files)
	}
}

func TestLocalStorage_LargeRoundTrip(t *testing.T) {
	store, _ := newLocal(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("INSERT INTO `students` (`id`) VALUES (1);\n"), 50000)
	if err := store.Write(ctx, "big.sql", bytes.NewReader(data)); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	r, err := store.Read(ctx, "big.sql")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if !bytes.Equal(got, data) {
		t.Error("data mismatch after round trip")
	}
}

func TestNewS3Storage(t *testing.T) {
	tests := []struct {
		name       string
		cfg        S3Config
		wantErr    bool
		wantPrefix string
	}{
		{
			name: "valid config",
			cfg: S3Config{
				Bucket:    "seed-bucket",
				Endpoint:  "localhost:9000",
				Region:    "us-east-1",
				AccessKey: "access",
				SecretKey: "secret",
			},
		},
		{
			name: "empty endpoint uses default",
			cfg:  S3Config{Bucket: "seed-bucket", AccessKey: "access", SecretKey: "secret"},
		},
		{
			name: "strips scheme from endpoint",
			cfg:  S3Config{Bucket: "seed-bucket", Endpoint: "https://s3.amazonaws.com/", AccessKey: "a", SecretKey: "s"},
		},
		{
			name:       "normalizes prefix",
			cfg:        S3Config{Bucket: "seed-bucket", Endpoint: "localhost:9000", Prefix: "/school/kvant/"},
			wantPrefix: "school/kvant/",
		},
		{
			name:    "missing bucket",
			cfg:     S3Config{Endpoint: "localhost:9000"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewS3Storage(tt.cfg)

			if tt.wantErr {
				if err == nil {
					t.Error("NewS3Storage() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewS3Storage() error: %v", err)
			}
			if s.bucket != tt.cfg.Bucket {
				t.Errorf("bucket = %v, want %v", s.bucket, tt.cfg.Bucket)
			}
			if s.prefix != tt.wantPrefix {
				t.Errorf("prefix = %q, want %q", s.prefix, tt.wantPrefix)
			}
		})
	}
}

func TestS3Storage_Key(t *testing.T) {
	s := &S3Storage{prefix: "school/"}
	if got := s.key("seed_1.sql.gz"); got != "school/seed_1.sql.gz" {
		t.Errorf("key() = %s", got)
	}
	if got := s.key("/seed_1.sql.gz"); got != "school/seed_1.sql.gz" {
		t.Errorf("key() with leading slash = %s", got)
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"seed_1.meta.json": "application/json",
		"seed_1.sql.gz":    "application/gzip",
		"seed_1.sql":       "application/sql",
		"seed_1.bin":       "application/octet-stream",
	}
	for path, want := range tests {
		if got := contentType(path); got != want {
			t.Errorf("contentType(%s) = %s, want %s", path, got, want)
		}
	}
}
