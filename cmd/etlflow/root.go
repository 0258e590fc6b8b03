package main

import (
	"context"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/warriorguo/etlflow"
	"github.com/warriorguo/etlflow/config"
	"github.com/warriorguo/etlflow/pipeline"
	"github.com/warriorguo/etlflow/types"
	"github.com/warriorguo/etlflow/warehouse"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "etlflow",
		Short:         "Stage, load and check the Sparkify star schema",
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path of the YAML configuration")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newRenderCmd(opts),
		newInitSchemaCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.SetupLogging(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// app holds what every command that runs the pipeline needs.
type app struct {
	cfg       *config.Config
	warehouse *warehouse.Provider
	engine    types.Engine
}

func newApp(cfg *config.Config, extra ...types.EngineOption) (*app, error) {
	wh, err := cfg.WarehouseProvider()
	if err != nil {
		return nil, errors.Trace(err)
	}

	opts := append(cfg.EngineOptions(), extra...)
	engine, err := etlflow.NewEngine(opts...)
	if err != nil {
		wh.Close()
		return nil, errors.Trace(err)
	}

	a := &app{cfg: cfg, warehouse: wh, engine: engine}
	if err := pipeline.Register(engine, &cfg.Pipeline, wh, cfg.CredentialProvider()); err != nil {
		a.Close(context.Background())
		return nil, errors.Trace(err)
	}
	return a, nil
}

func (a *app) Close(ctx context.Context) error {
	err := a.engine.Close(ctx)
	if werr := a.warehouse.Close(); werr != nil {
		err = errors.Wrapf(err, werr, "close warehouse connections")
	}
	return errors.Trace(err)
}
