package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warriorguo/etlflow/credentials"
	"github.com/warriorguo/etlflow/runtime"
	"github.com/warriorguo/etlflow/store/mem"
	"github.com/warriorguo/etlflow/tasks"
	"github.com/warriorguo/etlflow/types"
	"github.com/warriorguo/etlflow/warehouse"
)

var (
	logicalTime = time.Date(2018, 11, 1, 0, 0, 0, 0, time.UTC)

	testCreds = credentials.Static{
		"aws_credentials": {AccessKey: "AKIA", SecretKey: "secret"},
	}

	sqliteSchema = []string{
		`CREATE TABLE staging_events (artist TEXT, firstname TEXT, gender TEXT, lastname TEXT, length REAL,
			level TEXT, location TEXT, page TEXT, sessionid INTEGER, song TEXT, ts INTEGER, useragent TEXT, userid INTEGER)`,
		`CREATE TABLE staging_songs (artist_id TEXT, artist_name TEXT, artist_latitude REAL, artist_longitude REAL,
			artist_location TEXT, song_id TEXT, title TEXT, duration REAL, year INTEGER)`,
		`CREATE TABLE songplays (playid TEXT, start_time INTEGER, userid INTEGER, level TEXT, songid TEXT,
			artistid TEXT, sessionid INTEGER, location TEXT, user_agent TEXT)`,
		`CREATE TABLE users (userid INTEGER, first_name TEXT, last_name TEXT, gender TEXT, level TEXT)`,
		`CREATE TABLE songs (songid TEXT, title TEXT, artistid TEXT, year INTEGER, duration REAL)`,
		`CREATE TABLE artists (artistid TEXT, name TEXT, location TEXT, lattitude REAL, longitude REAL)`,
		`CREATE TABLE time (start_time INTEGER, hour INTEGER, day INTEGER, week INTEGER, month TEXT, year INTEGER, weekday TEXT)`,
	}

	sqliteSQL = SQLConfig{
		Songplays: `
SELECT events.sessionid || '-' || events.ts, events.ts, events.userid, events.level, songs.song_id,
	songs.artist_id, events.sessionid, events.location, events.useragent
FROM staging_events events
LEFT JOIN staging_songs songs ON events.song = songs.title AND events.artist = songs.artist_name
WHERE events.page = 'NextSong'`,
		Users: `SELECT DISTINCT userid, firstname, lastname, gender, level FROM staging_events WHERE page = 'NextSong'`,
		Time: `
SELECT DISTINCT start_time,
	CAST(strftime('%H', start_time / 1000, 'unixepoch') AS INTEGER),
	CAST(strftime('%d', start_time / 1000, 'unixepoch') AS INTEGER),
	CAST(strftime('%W', start_time / 1000, 'unixepoch') AS INTEGER),
	strftime('%m', start_time / 1000, 'unixepoch'),
	CAST(strftime('%Y', start_time / 1000, 'unixepoch') AS INTEGER),
	strftime('%w', start_time / 1000, 'unixepoch')
FROM songplays`,
	}

	eventsFixture = []string{
		`INSERT INTO staging_events VALUES ('Muse', 'Lily', 'F', 'Koch', 229.0, 'paid', 'Chicago', 'NextSong', 818, 'Supermassive Black Hole', 1541106106796, 'Mozilla', 15)`,
		`INSERT INTO staging_events VALUES ('Unknown', 'Kate', 'F', 'Harrell', 180.0, 'free', 'Lansing', 'NextSong', 293, 'Nothing', 1541106352796, 'Safari', 97)`,
		`INSERT INTO staging_events VALUES (NULL, 'Kate', 'F', 'Harrell', NULL, 'free', 'Lansing', 'Home', 293, NULL, 1541106400000, 'Safari', 97)`,
	}
	songsFixture = []string{
		`INSERT INTO staging_songs VALUES ('AR1', 'Muse', NULL, NULL, 'Teignmouth', 'SO1', 'Supermassive Black Hole', 229.0, 2006)`,
	}
)

// fixtureProvider stands in for the object store: a COPY into a staging
// table inserts that table's fixture rows instead.
type fixtureProvider struct {
	*warehouse.Provider

	mu       sync.Mutex
	fixtures map[string][]string
	copies   []string
}

type fixtureHook struct {
	types.Hook
	p *fixtureProvider
}

func (p *fixtureProvider) Connection(ctx context.Context, connID string) (types.Hook, error) {
	h, err := p.Provider.Connection(ctx, connID)
	if err != nil {
		return nil, err
	}
	return &fixtureHook{Hook: h, p: p}, nil
}

func (h *fixtureHook) Run(ctx context.Context, sql string) error {
	stmt := strings.TrimSpace(sql)
	if !strings.HasPrefix(stmt, "COPY ") {
		return h.Hook.Run(ctx, sql)
	}

	h.p.mu.Lock()
	h.p.copies = append(h.p.copies, stmt)
	rows := h.p.fixtures[strings.Fields(stmt)[1]]
	h.p.mu.Unlock()

	for _, insert := range rows {
		if err := h.Hook.Run(ctx, insert); err != nil {
			return err
		}
	}
	return nil
}

func newFixtureWarehouse(t *testing.T, fixtures map[string][]string) *fixtureProvider {
	// one connection: concurrent tasks queue on the pool instead of
	// failing on the sqlite file lock
	cfg := warehouse.NewConfig("sqlite3", filepath.Join(t.TempDir(), "dwh.db"))
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	p, err := warehouse.NewProvider(map[string]*warehouse.Config{"redshift": cfg})
	assert.Nil(t, err)
	t.Cleanup(func() { p.Close() })

	ctx := context.Background()
	h, err := p.Connection(ctx, "redshift")
	assert.Nil(t, err)
	defer h.Close()
	for _, stmt := range sqliteSchema {
		assert.Nil(t, h.Run(ctx, stmt), stmt)
	}
	return &fixtureProvider{Provider: p, fixtures: fixtures}
}

func (p *fixtureProvider) count(t *testing.T, table string) int64 {
	ctx := context.Background()
	h, err := p.Provider.Connection(ctx, "redshift")
	assert.Nil(t, err)
	defer h.Close()
	rows, err := h.Query(ctx, "SELECT COUNT(*) FROM "+table)
	assert.Nil(t, err)
	return rows[0][0].(int64)
}

func testConfig() *Config {
	cfg := &Config{SQL: sqliteSQL}
	cfg.SetDefaults()
	cfg.Retries = 0
	cfg.RetryDelay = 0
	return cfg
}

func newTestEngine(t *testing.T) types.Engine {
	opts := types.NewEngineOptions()
	opts.PollInterval = time.Millisecond
	engine := runtime.NewEngine(mem.NewMemStore(), opts)
	t.Cleanup(func() { engine.Close(context.Background()) })
	return engine
}

func runPipeline(t *testing.T, cfg *Config, conns types.ConnectionProvider, creds types.CredentialProvider) *types.RunStatus {
	engine := newTestEngine(t)
	assert.Nil(t, Register(engine, cfg, conns, creds))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	assert.Nil(t, engine.RunDAG(ctx, cfg.DAGName, "run-1", logicalTime, nil))
	status, err := engine.WaitRun(ctx, "run-1")
	assert.Nil(t, err)
	return status
}

func TestConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, "udac_example_dag", cfg.DAGName)
	assert.Equal(t, "@hourly", cfg.Schedule)
	assert.Equal(t, "redshift", cfg.ConnID)
	assert.Equal(t, "aws_credentials", cfg.CredentialsID)
	assert.Equal(t, "us-west-2", cfg.Region)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, 5*time.Minute, cfg.RetryDelay)
	assert.Equal(t, "staging_events", cfg.Events.Table)
	assert.Equal(t, "udacity-dend", cfg.Events.Bucket)
	assert.Equal(t, "FORMAT AS JSON 's3://udacity-dend/log_json_path.json'", cfg.Events.Format)
	assert.Equal(t, "song_data", cfg.Songs.Key)
	assert.Equal(t, 5, len(cfg.Checks))
	assert.Nil(t, cfg.Validate())

	partial := &Config{Events: SourceConfig{Bucket: "my-bucket"}, Retries: 1}
	partial.SetDefaults()
	assert.Equal(t, "my-bucket", partial.Events.Bucket)
	assert.Equal(t, "staging_events", partial.Events.Table)
	assert.Equal(t, 1, partial.Retries)

	empty := &Config{Checks: []tasks.QualityCheck{}}
	empty.SetDefaults()
	assert.NotNil(t, empty.Validate())
}

func TestGraphShape(t *testing.T) {
	engine := newTestEngine(t)
	assert.Nil(t, Register(engine, nil, newFixtureWarehouse(t, nil), testCreds))

	dag, exists := engine.GetDAG("udac_example_dag")
	assert.True(t, exists)
	assert.Equal(t, []string{BeginExecution}, dag.Roots())
	assert.Equal(t, []string{StopExecution}, dag.Leaves())
	assert.ElementsMatch(t, []string{StageEvents, StageSongs}, dag.Upstream(LoadSongplaysFact))
	assert.ElementsMatch(t, dimensionTasks, dag.Upstream(RunDataQualityChecks))
	for _, dim := range dimensionTasks {
		assert.Equal(t, []string{LoadSongplaysFact}, dag.Upstream(dim))
	}

	order, err := dag.TopologicalOrder()
	assert.Nil(t, err)
	assert.Equal(t, 10, len(order))
	assert.Equal(t, BeginExecution, order[0])
	assert.Equal(t, StopExecution, order[9])
	pos := make(map[string]int)
	for i, name := range order {
		pos[name] = i
	}
	for _, e := range edgeList() {
		assert.Less(t, pos[e.from], pos[e.to], e.from+" -> "+e.to)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := NewConfig()
	cfg.Events.Key = "log_data/{{.Ds"
	_, err := New(cfg, newFixtureWarehouse(t, nil), testCreds)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), StageEvents)

	cfg = NewConfig()
	cfg.Retries = -1
	_, err = New(cfg, newFixtureWarehouse(t, nil), testCreds)
	assert.NotNil(t, err)
}

func TestPipelineRun(t *testing.T) {
	dwh := newFixtureWarehouse(t, map[string][]string{
		"staging_events": eventsFixture,
		"staging_songs":  songsFixture,
	})

	status := runPipeline(t, testConfig(), dwh, testCreds)
	assert.Equal(t, types.Succeeded, status.Status, status.LastError)
	for name, task := range status.Tasks {
		assert.Equal(t, types.Succeeded, task.Status, name)
	}

	assert.Equal(t, int64(2), dwh.count(t, "songplays"))
	assert.Equal(t, int64(2), dwh.count(t, "users"))
	assert.Equal(t, int64(1), dwh.count(t, "songs"))
	assert.Equal(t, int64(1), dwh.count(t, "artists"))
	assert.Equal(t, int64(2), dwh.count(t, "time"))

	assert.Equal(t, 2, len(dwh.copies))
	joined := strings.Join(dwh.copies, "\n")
	assert.Contains(t, joined, "s3://udacity-dend/log_data/2018/11/2018-11-01-events.json")
	assert.Contains(t, joined, "s3://udacity-dend/song_data")
	assert.Contains(t, joined, "ACCESS_KEY_ID 'AKIA'")
}

func TestPipelineEmptyPartition(t *testing.T) {
	dwh := newFixtureWarehouse(t, nil)

	cfg := testConfig()
	status := runPipeline(t, cfg, dwh, testCreds)
	// null checks pass trivially on empty tables
	assert.Equal(t, types.Succeeded, status.Status, status.LastError)
	assert.Equal(t, int64(0), dwh.count(t, "users"))

	cfg = testConfig()
	cfg.Checks = append(DefaultChecks(), tasks.HasRowsCheck("songplays"))
	status = runPipeline(t, cfg, newFixtureWarehouse(t, nil), testCreds)
	assert.Equal(t, types.Failed, status.Status)
	assert.Equal(t, types.Failed, status.Tasks[RunDataQualityChecks].Status)
	assert.Equal(t, types.UpstreamFailed, status.Tasks[StopExecution].Status)
	for _, dim := range dimensionTasks {
		assert.Equal(t, types.Succeeded, status.Tasks[dim].Status, dim)
	}
	assert.Contains(t, status.LastError, RunDataQualityChecks)
}

func TestPipelineBadCredentials(t *testing.T) {
	dwh := newFixtureWarehouse(t, map[string][]string{
		"staging_events": eventsFixture,
		"staging_songs":  songsFixture,
	})

	status := runPipeline(t, testConfig(), dwh, credentials.Static{})
	assert.Equal(t, types.Failed, status.Status)
	assert.Equal(t, types.Succeeded, status.Tasks[BeginExecution].Status)
	assert.Equal(t, types.Failed, status.Tasks[StageEvents].Status)
	assert.Equal(t, types.Failed, status.Tasks[StageSongs].Status)
	assert.Equal(t, types.UpstreamFailed, status.Tasks[LoadSongplaysFact].Status)
	assert.Equal(t, types.UpstreamFailed, status.Tasks[RunDataQualityChecks].Status)
	assert.Equal(t, types.UpstreamFailed, status.Tasks[StopExecution].Status)
	assert.Equal(t, 0, len(dwh.copies))
	assert.Equal(t, int64(0), dwh.count(t, "songplays"))
}
