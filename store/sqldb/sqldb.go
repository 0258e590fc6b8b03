package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warriorguo/etlflow/store"
)

var (
	_ store.Store = &Store{}
)

const tableName = "etlflow_state"

var valueColumnType = map[string]string{
	"postgres": "BYTEA",
	"sqlite3":  "BLOB",
}

// Config selects the database keeping run state.
type Config struct {
	Driver string `yaml:"driver" default:"postgres"` // postgres, sqlite3
	DSN    string `yaml:"dsn"`
}

func (c *Config) Validate() error {
	if _, exists := valueColumnType[c.Driver]; !exists {
		return errors.NotSupportedf("state store driver %q", c.Driver)
	}
	if c.DSN == "" {
		return errors.NotValidf("state store dsn is empty")
	}
	return nil
}

// Store implements Store on a single key/value table, so that run state
// survives a restart of the process.
type Store struct {
	db *sqlx.DB
}

// NewStore opens the database and creates the state table when missing.
func NewStore(ctx context.Context, config *Config) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	db, err := sqlx.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open %s state store", config.Driver)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Annotatef(err, "failed to ping %s state store", config.Driver)
	}

	s, err := NewStoreWithDB(ctx, db)
	if err != nil {
		db.Close()
		return nil, errors.Trace(err)
	}
	return s, nil
}

// NewStoreWithDB creates the store on an existing connection pool.
func NewStoreWithDB(ctx context.Context, db *sqlx.DB) (*Store, error) {
	if db == nil {
		return nil, errors.BadRequestf("db cannot be nil")
	}
	s := &Store{db: db}
	if err := s.initTable(ctx); err != nil {
		return nil, errors.Annotatef(err, "failed to initialize %s", tableName)
	}
	return s, nil
}

func (s *Store) initTable(ctx context.Context) error {
	valueType, exists := valueColumnType[s.db.DriverName()]
	if !exists {
		return errors.NotSupportedf("state store driver %q", s.db.DriverName())
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			state_prefix VARCHAR(255) NOT NULL,
			state_key VARCHAR(255) NOT NULL,
			value %s,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (state_prefix, state_key)
		)`, tableName, valueType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_prefix ON %s(state_prefix)`, tableName, tableName),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	query := s.db.Rebind(`SELECT value FROM etlflow_state WHERE state_prefix = ? AND state_key = ?`)

	var value []byte
	err := s.db.QueryRowxContext(ctx, query, prefix, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "failed to get value for prefix=%s, key=%s", prefix, key)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, prefix, key string, value []byte) error {
	query := s.db.Rebind(`
		INSERT INTO etlflow_state (state_prefix, state_key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (state_prefix, state_key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = CURRENT_TIMESTAMP
	`)

	if _, err := s.db.ExecContext(ctx, query, prefix, key, value); err != nil {
		return errors.Annotatef(err, "failed to set value for prefix=%s, key=%s", prefix, key)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, prefix, key string) error {
	query := s.db.Rebind(`DELETE FROM etlflow_state WHERE state_prefix = ? AND state_key = ?`)

	if _, err := s.db.ExecContext(ctx, query, prefix, key); err != nil {
		return errors.Annotatef(err, "failed to remove value for prefix=%s, key=%s", prefix, key)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	query := s.db.Rebind(`SELECT state_key FROM etlflow_state WHERE state_prefix = ? ORDER BY state_key`)

	keys := make([]string, 0)
	if err := s.db.SelectContext(ctx, &keys, query, prefix); err != nil {
		return errors.Annotatef(err, "failed to list keys for prefix=%s", prefix)
	}

	// the rows are closed before calling back, iterator may use the store
	for _, key := range keys {
		if !iterator(key) {
			break
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
