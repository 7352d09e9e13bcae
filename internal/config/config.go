package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/localrivet/dbseed/pkg/database"
	"gopkg.in/yaml.v3"
)

// DefaultDatabase is the database every installation deploys into.
const DefaultDatabase = "kvant"

const (
	envPrefix    = "DBSEED_"
	envConfigDir = envPrefix + "CONFIG_DIR"
)

type Config struct {
	Database    DatabaseConfig   `yaml:"database"`
	Schema      SchemaConfig     `yaml:"schema"`
	Seed        SeedConfig       `yaml:"seed"`
	Schedule    string           `yaml:"schedule"`
	Storage     StorageConfig    `yaml:"storage"`
	Retention   RetentionConfig  `yaml:"retention"`
	Compression string           `yaml:"compression"`
	Monitoring  MonitoringConfig `yaml:"monitoring"`
	Backup      BackupConfig     `yaml:"backup"`
}

type DatabaseConfig struct {
	Type           string `yaml:"type"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Name           string `yaml:"name"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Path           string `yaml:"path"`
	ConnectTimeout int    `yaml:"connect_timeout_seconds"`
}

// Provider converts the section into the connection provider's config.
func (d DatabaseConfig) Provider() database.Config {
	return database.Config{
		Type:           d.Type,
		Host:           d.Host,
		Port:           d.Port,
		User:           d.User,
		Password:       d.Password,
		Name:           d.Name,
		Path:           d.Path,
		ConnectTimeout: time.Duration(d.ConnectTimeout) * time.Second,
	}
}

type SchemaConfig struct {
	Path     string `yaml:"path"`
	Sentinel string `yaml:"sentinel_table"`
}

type SeedConfig struct {
	TransactionalImport bool `yaml:"transactional_import"`
}

type BackupConfig struct {
	VerifyChecksum bool `yaml:"verify_checksum"`
}

type StorageConfig struct {
	Backend string   `yaml:"backend"`
	Path    string   `yaml:"path"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type RetentionConfig struct {
	Daily      int `yaml:"daily"`
	Weekly     int `yaml:"weekly"`
	Monthly    int `yaml:"monthly"`
	MaxAgeDays int `yaml:"max_age_days"`
}

type MonitoringConfig struct {
	MetricsPort     int    `yaml:"metrics_port"`
	HealthPort      int    `yaml:"health_port"`
	WebhookURL      string `yaml:"webhook_url"`
	AlertAfterHours int    `yaml:"alert_after_hours"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Type:           database.TypeMySQL,
			Host:           "127.0.0.1",
			Port:           3306,
			User:           "root",
			Name:           DefaultDatabase,
			ConnectTimeout: 10,
		},
		Schema: SchemaConfig{
			Path:     filepath.Join("db", "schema.sql"),
			Sentinel: "attendance",
		},
		Schedule:    "0 2 * * *",
		Compression: "gzip",
		Storage: StorageConfig{
			Backend: "local",
			Path:    "backups",
		},
		Retention: RetentionConfig{
			Daily:      7,
			Weekly:     4,
			Monthly:    6,
			MaxAgeDays: 90,
		},
		Monitoring: MonitoringConfig{
			MetricsPort:     9090,
			HealthPort:      8080,
			AlertAfterHours: 26,
		},
	}
}

// DefaultPath is where setup writes the configuration and where Load looks
// when no path is given.
func DefaultPath() string {
	if dir := os.Getenv(envConfigDir); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "dbseed", "config.yaml")
}

// Exists reports whether a configuration file is present at path, or at
// DefaultPath when path is empty.
func Exists(path string) bool {
	if path == "" {
		path = DefaultPath()
	}
	_, err := os.Stat(path)
	return err == nil
}

// Load reads configPath (or DefaultPath when it is empty and the file
// exists), applies environment overrides and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" && Exists("") {
		configPath = DefaultPath()
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Save writes c to path as YAML readable only by the owner.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("failed to restrict config file permissions: %w", err)
	}

	return nil
}

func (c *Config) loadFromEnv() {
	setString(&c.Database.Type, "DB_TYPE")
	setString(&c.Database.Host, "DB_HOST")
	setInt(&c.Database.Port, "DB_PORT")
	setString(&c.Database.Name, "DB_NAME")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Path, "DB_PATH")
	setInt(&c.Database.ConnectTimeout, "DB_CONNECT_TIMEOUT")

	setString(&c.Schema.Path, "SCHEMA_PATH")
	setString(&c.Schema.Sentinel, "SCHEMA_SENTINEL")
	setBool(&c.Seed.TransactionalImport, "TRANSACTIONAL_IMPORT")

	setString(&c.Schedule, "SCHEDULE")
	setString(&c.Compression, "COMPRESSION")

	setString(&c.Storage.Backend, "STORAGE_BACKEND")
	setString(&c.Storage.Path, "STORAGE_PATH")
	setString(&c.Storage.S3.Bucket, "S3_BUCKET")
	setString(&c.Storage.S3.Endpoint, "S3_ENDPOINT")
	setString(&c.Storage.S3.Region, "S3_REGION")
	setString(&c.Storage.S3.Prefix, "S3_PREFIX")
	setString(&c.Storage.S3.AccessKey, "S3_ACCESS_KEY")
	setString(&c.Storage.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&c.Storage.S3.UseSSL, "S3_USE_SSL")

	setInt(&c.Retention.Daily, "KEEP_DAILY")
	setInt(&c.Retention.Weekly, "KEEP_WEEKLY")
	setInt(&c.Retention.Monthly, "KEEP_MONTHLY")
	setInt(&c.Retention.MaxAgeDays, "MAX_AGE_DAYS")

	setInt(&c.Monitoring.MetricsPort, "METRICS_PORT")
	setInt(&c.Monitoring.HealthPort, "HEALTH_PORT")
	setString(&c.Monitoring.WebhookURL, "WEBHOOK_URL")
	setInt(&c.Monitoring.AlertAfterHours, "ALERT_AFTER_HOURS")

	setBool(&c.Backup.VerifyChecksum, "VERIFY_CHECKSUM")
}

func setString(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func (c *Config) validate() error {
	switch database.NormalizeType(strings.ToLower(c.Database.Type)) {
	case database.TypeMySQL:
		if strings.TrimSpace(c.Database.Name) == "" {
			return fmt.Errorf("database name is required for MySQL")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port %d", c.Database.Port)
		}
	case database.TypeSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database path is required for SQLite")
		}
	default:
		return fmt.Errorf("unsupported database type: %s (supported: mysql, sqlite)", c.Database.Type)
	}

	if strings.TrimSpace(c.Schema.Sentinel) == "" {
		return fmt.Errorf("schema.sentinel_table is required")
	}

	if c.Storage.Backend != "local" && c.Storage.Backend != "s3" {
		return fmt.Errorf("storage backend must be 'local' or 's3'")
	}

	if c.Storage.Backend == "s3" {
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required when using S3 storage")
		}
		if c.Storage.S3.AccessKey == "" || c.Storage.S3.SecretKey == "" {
			return fmt.Errorf("S3 access key and secret key are required")
		}
	}

	if c.Compression != "gzip" && c.Compression != "none" {
		return fmt.Errorf("compression must be 'gzip' or 'none'")
	}

	return nil
}

func (c *Config) AlertDuration() time.Duration {
	return time.Duration(c.Monitoring.AlertAfterHours) * time.Hour
}

func (c *Config) IsSQLite() bool {
	return database.NormalizeType(strings.ToLower(c.Database.Type)) == database.TypeSQLite
}

// DatabaseLabel names the target in logs, dump headers and metadata.
func (c *Config) DatabaseLabel() string {
	if c.IsSQLite() {
		return filepath.Base(c.Database.Path)
	}
	return c.Database.Name
}
