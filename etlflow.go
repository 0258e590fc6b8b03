package etlflow

import (
	"context"

	"github.com/juju/errors"

	"github.com/warriorguo/etlflow/runtime"
	"github.com/warriorguo/etlflow/store/mem"
	"github.com/warriorguo/etlflow/store/sqldb"
	"github.com/warriorguo/etlflow/types"
)

type engine struct {
	types.Engine
	store *sqldb.Store
}

// Close stops the engine, then releases the state store.
func (e *engine) Close(ctx context.Context) error {
	err := e.Engine.Close(ctx)
	if e.store != nil {
		if cerr := e.store.Close(); cerr != nil {
			err = errors.Wrapf(err, cerr, "close state store")
		}
	}
	return errors.Trace(err)
}

// NewEngine creates an engine with the given options. Run state goes to the
// SQL database of StoreConfig when set, to memory otherwise.
func NewEngine(opts ...types.EngineOption) (types.Engine, error) {
	options := types.NewEngineOptions()
	for _, opt := range opts {
		opt(options)
	}

	if options.StoreConfig == nil {
		return runtime.NewEngine(mem.NewMemStore(), options), nil
	}

	s, err := sqldb.NewStore(options.Ctx, &sqldb.Config{
		Driver: options.StoreConfig.Driver,
		DSN:    options.StoreConfig.DSN,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "failed to create %s state store", options.StoreConfig.Driver)
	}
	return &engine{Engine: runtime.NewEngine(s, options), store: s}, nil
}
