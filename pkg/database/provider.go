package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

type poolKind int

const (
	scopedPool poolKind = iota
	adminPool
)

type opener func(cfg Config, kind poolKind) (*sql.DB, error)

// Provider owns the scoped and administrative pools for one database target.
// Pools are opened lazily and shared by every engine built on the provider.
type Provider struct {
	cfg     Config
	dialect Dialect
	open    opener

	mu     sync.Mutex
	scoped *sql.DB
	admin  *sql.DB
}

var _ Pools = (*Provider)(nil)

func newProvider(cfg Config, d Dialect, open opener) *Provider {
	return &Provider{cfg: cfg, dialect: d, open: open}
}

func (p *Provider) Scoped(ctx context.Context) (*sql.DB, error) {
	return p.pool(ctx, scopedPool)
}

func (p *Provider) Admin(ctx context.Context) (*sql.DB, error) {
	return p.pool(ctx, adminPool)
}

func (p *Provider) Dialect() Dialect {
	return p.dialect
}

func (p *Provider) Config() Config {
	return p.cfg
}

func (p *Provider) pool(ctx context.Context, kind poolKind) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot := &p.scoped
	if kind == adminPool {
		slot = &p.admin
	}
	if *slot != nil {
		return *slot, nil
	}

	db, err := p.open(p.cfg, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", p.dialect.Name(), err)
	}

	pingCtx := ctx
	if p.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", p.dialect.Name(), err)
	}

	*slot = db
	return db, nil
}

// Close releases both pools.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, db := range []*sql.DB{p.scoped, p.admin} {
		if db != nil {
			errs = append(errs, db.Close())
		}
	}
	p.scoped, p.admin = nil, nil
	return errors.Join(errs...)
}

// Ping opens a server-level connection with cfg and closes it again.
func Ping(ctx context.Context, cfg Config) error {
	p, err := New(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	_, err = p.Admin(ctx)
	return err
}
