package database

import "fmt"

// New returns a Provider for cfg. No connection is made until a pool is
// first requested.
func New(cfg Config) (*Provider, error) {
	cfg.Type = NormalizeType(cfg.Type)

	switch cfg.Type {
	case TypeMySQL:
		if cfg.Host == "" {
			cfg.Host = "127.0.0.1"
		}
		if cfg.Port == 0 {
			cfg.Port = 3306
		}
		return newProvider(cfg, &MySQLDialect{}, openMySQL), nil
	case TypeSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite database path is required")
		}
		return newProvider(cfg, &SQLiteDialect{}, openSQLite), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}
