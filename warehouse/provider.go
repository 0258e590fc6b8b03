package warehouse

import (
	"context"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/etlflow/types"
)

var (
	_ types.ConnectionProvider = &Provider{}
)

// Provider hands out warehouse connections by connection id. Each id owns one
// pool, opened on first use and shared by every task invocation.
type Provider struct {
	mu sync.Mutex

	configs map[string]*Config
	pools   map[string]*sqlx.DB
}

func NewProvider(configs map[string]*Config) (*Provider, error) {
	p := &Provider{
		configs: make(map[string]*Config),
		pools:   make(map[string]*sqlx.DB),
	}
	for connID, cfg := range configs {
		if err := p.Register(connID, cfg); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return p, nil
}

func (p *Provider) Register(connID string, cfg *Config) error {
	if cfg == nil {
		return errors.BadRequestf("connection %s config is nil", connID)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return errors.Annotatef(err, "connection %s", connID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.configs[connID]; exists {
		return errors.AlreadyExistsf("connection %s", connID)
	}
	p.configs[connID] = cfg
	return nil
}

// Connection acquires a dedicated connection from the pool of connID. The
// caller must Close the returned hook.
func (p *Provider) Connection(ctx context.Context, connID string) (types.Hook, error) {
	db, err := p.pool(ctx, connID)
	if err != nil {
		return nil, types.NewConnectionError(err)
	}

	conn, err := db.Connx(ctx)
	if err != nil {
		return nil, types.NewConnectionError(errors.Annotatef(err, "acquire connection %s", connID))
	}
	return &hook{conn: conn, driver: db.DriverName()}, nil
}

// DB exposes the pool of connID, for schema bootstrap.
func (p *Provider) DB(ctx context.Context, connID string) (*sqlx.DB, error) {
	return p.pool(ctx, connID)
}

func (p *Provider) pool(ctx context.Context, connID string) (*sqlx.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if db, exists := p.pools[connID]; exists {
		return db, nil
	}
	cfg, exists := p.configs[connID]
	if !exists {
		return nil, errors.NotFoundf("connection %s", connID)
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Annotatef(err, "open %s connection %s", cfg.Driver, connID)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Annotatef(err, "ping %s connection %s", cfg.Driver, connID)
	}

	log.Debugf("warehouse connection %s opened (%s)", connID, cfg.Driver)
	p.pools[connID] = db
	return db, nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var retErr error
	for connID, db := range p.pools {
		if err := db.Close(); err != nil {
			retErr = errors.Wrapf(retErr, err, "close connection %s", connID)
		}
		delete(p.pools, connID)
	}
	return retErr
}
