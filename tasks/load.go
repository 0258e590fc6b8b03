package tasks

import (
	"github.com/juju/errors"
	"github.com/mcuadros/go-defaults"

	"github.com/warriorguo/etlflow/sqlqueries"
	"github.com/warriorguo/etlflow/types"
)

var (
	_ types.Runnable = &LoadFact{}
	_ types.Runnable = &LoadDimension{}
)

// LoadConfig names the target table and the SELECT body producing its rows.
type LoadConfig struct {
	ConnID string `yaml:"conn_id" default:"redshift"`
	Table  string `yaml:"table"`
	SQL    string `yaml:"sql"`
}

func (c *LoadConfig) validate() error {
	defaults.SetDefaults(c)
	if c.Table == "" || c.SQL == "" {
		return errors.NotValidf("load config: table and sql are required")
	}
	return nil
}

// LoadFact appends the rows of SQL into the fact table. Runs are assumed to
// cover disjoint logical windows; nothing guards against duplicates.
type LoadFact struct {
	cfg   LoadConfig
	conns types.ConnectionProvider
}

func NewLoadFact(cfg LoadConfig, conns types.ConnectionProvider) (*LoadFact, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if conns == nil {
		return nil, errors.BadRequestf("load fact %s: connection provider is required", cfg.Table)
	}
	return &LoadFact{cfg: cfg, conns: conns}, nil
}

func (l *LoadFact) Kind() types.TaskKind {
	return types.KindLoadFact
}

func (l *LoadFact) Config() LoadConfig {
	return l.cfg
}

func (l *LoadFact) Execute(ctx types.Context) error {
	hook, err := l.conns.Connection(ctx, l.cfg.ConnID)
	if err != nil {
		return err
	}
	defer hook.Close()

	if err := hook.Run(ctx, sqlqueries.InsertInto.MustRender(l.cfg.Table, l.cfg.SQL)); err != nil {
		return err
	}
	ctx.Logger().Infof("Inserted data into %s", l.cfg.Table)
	return nil
}

// LoadDimension replaces the whole content of a dimension table with the
// rows of SQL. Truncate and insert are separate statements: if the insert
// fails the table stays empty until the next successful run.
type LoadDimension struct {
	cfg   LoadConfig
	conns types.ConnectionProvider
}

func NewLoadDimension(cfg LoadConfig, conns types.ConnectionProvider) (*LoadDimension, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if conns == nil {
		return nil, errors.BadRequestf("load dimension %s: connection provider is required", cfg.Table)
	}
	return &LoadDimension{cfg: cfg, conns: conns}, nil
}

func (l *LoadDimension) Kind() types.TaskKind {
	return types.KindLoadDimension
}

func (l *LoadDimension) Config() LoadConfig {
	return l.cfg
}

func (l *LoadDimension) Execute(ctx types.Context) error {
	hook, err := l.conns.Connection(ctx, l.cfg.ConnID)
	if err != nil {
		return errors.Trace(err)
	}
	defer hook.Close()

	logger := ctx.Logger()
	logger.Infof("Truncating %s", l.cfg.Table)
	if err := hook.Run(ctx, sqlqueries.TruncateStatement(hook.DriverName(), l.cfg.Table)); err != nil {
		return errors.Annotatef(err, "truncate %s", l.cfg.Table)
	}

	logger.Infof("Inserting data into %s", l.cfg.Table)
	if err := hook.Run(ctx, sqlqueries.InsertInto.MustRender(l.cfg.Table, l.cfg.SQL)); err != nil {
		return errors.Annotatef(err, "insert into %s", l.cfg.Table)
	}
	return nil
}
