// Package archive describes stored seed dumps: the JSON sidecar written next
// to every archived dump and the helpers used to name and checksum them.
package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	// Format identifies the dump layout: one INSERT statement per line.
	Format = "sql-inserts"

	metaSuffix = ".meta.json"
	idPrefix   = "seed_"
	idLayout   = "20060102_150405"
)

var (
	ErrNotFound         = errors.New("archive not found")
	ErrChecksumMismatch = errors.New("archive checksum mismatch")
)

type Metadata struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Type      string        `json:"type"`
	Database  DatabaseInfo  `json:"database"`
	Archive   ArchiveInfo   `json:"archive"`
	Seed      SeedInfo      `json:"seed"`
	Files     []string      `json:"files"`
	Retention RetentionInfo `json:"retention"`
}

type DatabaseInfo struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Host    string `json:"host"`
	Version string `json:"version"`
}

type ArchiveInfo struct {
	Format          string  `json:"format"`
	Compression     string  `json:"compression"`
	SizeBytes       int64   `json:"size_bytes"`
	CompressedSize  int64   `json:"compressed_size_bytes"`
	DurationSeconds float64 `json:"duration_seconds"`
	Checksum        string  `json:"checksum"`
}

// SeedInfo records what the dump holds so it can be checked without
// replaying it. Every row is one INSERT line.
type SeedInfo struct {
	Tables int   `json:"tables"`
	Rows   int64 `json:"rows"`
}

type RetentionInfo struct {
	KeepUntil time.Time `json:"keep_until"`
	Policy    string    `json:"policy"`
}

func NewMetadata(id string, db DatabaseInfo) *Metadata {
	return &Metadata{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Type:      "daily",
		Database:  db,
		Archive: ArchiveInfo{
			Format:      Format,
			Compression: "gzip",
		},
		Files: make([]string, 0),
	}
}

func (m *Metadata) SetArchiveInfo(sizeBytes, compressedSize int64, duration time.Duration, checksum string) {
	m.Archive.SizeBytes = sizeBytes
	m.Archive.CompressedSize = compressedSize
	m.Archive.DurationSeconds = duration.Seconds()
	m.Archive.Checksum = checksum
}

func (m *Metadata) SetSeedInfo(tables int, rows int64) {
	m.Seed.Tables = tables
	m.Seed.Rows = rows
}

func (m *Metadata) SetRetention(keepUntil time.Time, policy string) {
	m.Retention.KeepUntil = keepUntil
	m.Retention.Policy = policy
}

func (m *Metadata) AddFile(filename string) {
	m.Files = append(m.Files, filename)
}

// DataFile returns the stored dump file, skipping the metadata sidecar.
func (m *Metadata) DataFile() string {
	for _, f := range m.Files {
		if !IsMetaPath(f) {
			return f
		}
	}
	return ""
}

// Compressed reports whether the dump was stored gzip compressed.
func (m *Metadata) Compressed() bool {
	return strings.HasSuffix(m.DataFile(), ".gz")
}

func (m *Metadata) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func ParseMetadata(data []byte) (*Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if meta.ID == "" {
		return nil, fmt.Errorf("failed to parse metadata: missing id")
	}
	return &meta, nil
}

// Checksum hashes everything read from r.
func Checksum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return FormatChecksum(h.Sum(nil)), nil
}

func ChecksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for checksum: %w", err)
	}
	defer f.Close()

	return Checksum(f)
}

func FormatChecksum(sum []byte) string {
	return "sha256:" + hex.EncodeToString(sum)
}

func GenerateID(timestamp time.Time) string {
	return idPrefix + timestamp.UTC().Format(idLayout)
}

// DataPath names the dump file for id.
func DataPath(id, compression string) string {
	if compression == "gzip" {
		return id + ".sql.gz"
	}
	return id + ".sql"
}

func MetaPath(id string) string {
	return id + metaSuffix
}

func IsMetaPath(path string) bool {
	return strings.HasSuffix(path, metaSuffix)
}
