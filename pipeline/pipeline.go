package pipeline

import (
	"github.com/juju/errors"

	"github.com/warriorguo/etlflow/tasks"
	"github.com/warriorguo/etlflow/types"
)

const (
	BeginExecution       = "Begin_execution"
	StageEvents          = "Stage_events"
	StageSongs           = "Stage_songs"
	LoadSongplaysFact    = "Load_songplays_fact_table"
	LoadUserDimension    = "Load_user_dim_table"
	LoadSongDimension    = "Load_song_dim_table"
	LoadArtistDimension  = "Load_artist_dim_table"
	LoadTimeDimension    = "Load_time_dim_table"
	RunDataQualityChecks = "Run_data_quality_checks"
	StopExecution        = "Stop_execution"
)

var (
	stageTasks     = []string{StageEvents, StageSongs}
	dimensionTasks = []string{LoadUserDimension, LoadSongDimension, LoadArtistDimension, LoadTimeDimension}
)

type node struct {
	name     string
	runnable types.Runnable
}

type edge struct {
	from, to string
}

func edgeList() []edge {
	edges := make([]edge, 0)
	for _, stage := range stageTasks {
		edges = append(edges, edge{BeginExecution, stage}, edge{stage, LoadSongplaysFact})
	}
	for _, dim := range dimensionTasks {
		edges = append(edges, edge{LoadSongplaysFact, dim}, edge{dim, RunDataQualityChecks})
	}
	return append(edges, edge{RunDataQualityChecks, StopExecution})
}

func buildTasks(cfg *Config, conns types.ConnectionProvider, creds types.CredentialProvider) ([]*node, error) {
	nodes := make([]*node, 0)
	add := func(name string, runnable types.Runnable, err error) error {
		if err != nil {
			return errors.Annotatef(err, "task %s", name)
		}
		nodes = append(nodes, &node{name: name, runnable: runnable})
		return nil
	}

	stage := func(src SourceConfig) (types.Runnable, error) {
		return tasks.NewStage(tasks.StageConfig{
			ConnID:        cfg.ConnID,
			CredentialsID: cfg.CredentialsID,
			Table:         src.Table,
			Bucket:        src.Bucket,
			Key:           src.Key,
			Region:        cfg.Region,
			Format:        src.Format,
		}, conns, creds)
	}
	dimension := func(table, sql string) (types.Runnable, error) {
		return tasks.NewLoadDimension(tasks.LoadConfig{ConnID: cfg.ConnID, Table: table, SQL: sql}, conns)
	}

	if err := add(BeginExecution, &tasks.Marker{}, nil); err != nil {
		return nil, err
	}

	events, err := stage(cfg.Events)
	if err := add(StageEvents, events, err); err != nil {
		return nil, err
	}
	songs, err := stage(cfg.Songs)
	if err := add(StageSongs, songs, err); err != nil {
		return nil, err
	}

	fact, err := tasks.NewLoadFact(tasks.LoadConfig{ConnID: cfg.ConnID, Table: "songplays", SQL: cfg.SQL.Songplays}, conns)
	if err := add(LoadSongplaysFact, fact, err); err != nil {
		return nil, err
	}

	for _, d := range []struct{ name, table, sql string }{
		{LoadUserDimension, "users", cfg.SQL.Users},
		{LoadSongDimension, "songs", cfg.SQL.Songs},
		{LoadArtistDimension, "artists", cfg.SQL.Artists},
		{LoadTimeDimension, "time", cfg.SQL.Time},
	} {
		dim, err := dimension(d.table, d.sql)
		if err := add(d.name, dim, err); err != nil {
			return nil, err
		}
	}

	quality, err := tasks.NewDataQuality(tasks.QualityConfig{ConnID: cfg.ConnID, Checks: cfg.Checks}, conns)
	if err := add(RunDataQualityChecks, quality, err); err != nil {
		return nil, err
	}

	if err := add(StopExecution, &tasks.Marker{}, nil); err != nil {
		return nil, err
	}
	return nodes, nil
}

// New builds the Sparkify graph: both staging loads feed the fact load, which
// feeds the four dimension loads, which all gate the data quality checks.
// Task configurations are validated here, before any run.
func New(cfg *Config, conns types.ConnectionProvider, creds types.CredentialProvider) (types.DAGHandler, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	nodes, err := buildTasks(cfg, conns, creds)
	if err != nil {
		return nil, errors.Trace(err)
	}

	taskOpts := []types.TaskOption{
		types.WithRetries(cfg.Retries),
		types.WithRetryDelay(cfg.RetryDelay),
		types.WithTimeout(cfg.Timeout),
	}

	return func(dag types.DAG) error {
		for _, n := range nodes {
			if err := dag.Task(n.name, n.runnable, taskOpts...); err != nil {
				return errors.Trace(err)
			}
		}
		for _, e := range edgeList() {
			if err := dag.Edge(e.from, e.to); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	}, nil
}

// Register builds the graph from cfg and registers it under cfg.DAGName.
func Register(engine types.Engine, cfg *Config, conns types.ConnectionProvider, creds types.CredentialProvider) error {
	if cfg == nil {
		cfg = NewConfig()
	}
	handler, err := New(cfg, conns, creds)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(engine.RegisterDAG(cfg.DAGName, handler))
}
