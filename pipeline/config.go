package pipeline

import (
	"time"

	"github.com/juju/errors"
	"github.com/mcuadros/go-defaults"

	"github.com/warriorguo/etlflow/sqlqueries"
	"github.com/warriorguo/etlflow/tasks"
)

// SourceConfig is one object-store source staged into one table.
type SourceConfig struct {
	Table  string `yaml:"table"`
	Bucket string `yaml:"bucket"`
	Key    string `yaml:"key"`
	Format string `yaml:"format"`
}

// SQLConfig holds the SELECT bodies of the fact and dimension loads.
type SQLConfig struct {
	Songplays string `yaml:"songplays"`
	Users     string `yaml:"users"`
	Songs     string `yaml:"songs"`
	Artists   string `yaml:"artists"`
	Time      string `yaml:"time"`
}

type Config struct {
	DAGName       string `yaml:"dag_name" default:"udac_example_dag"`
	Description   string `yaml:"description" default:"Load and transform data in Redshift"`
	Schedule      string `yaml:"schedule" default:"@hourly"`
	ConnID        string `yaml:"conn_id" default:"redshift"`
	CredentialsID string `yaml:"credentials_id" default:"aws_credentials"`
	Region        string `yaml:"region" default:"us-west-2"`

	Retries    int           `yaml:"retries" default:"3"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"5m"`
	Timeout    time.Duration `yaml:"timeout"`

	Events SourceConfig `yaml:"events"`
	Songs  SourceConfig `yaml:"songs"`

	SQL    SQLConfig            `yaml:"sql"`
	Checks []tasks.QualityCheck `yaml:"checks"`
}

func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

var (
	defaultEvents = SourceConfig{
		Table:  "staging_events",
		Bucket: "udacity-dend",
		Key:    `log_data/{{.LogicalTime.Year}}/{{printf "%02d" .LogicalTime.Month}}/{{.Ds}}-events.json`,
		Format: "FORMAT AS JSON 's3://udacity-dend/log_json_path.json'",
	}
	defaultSongs = SourceConfig{
		Table:  "staging_songs",
		Bucket: "udacity-dend",
		Key:    "song_data",
		Format: "FORMAT AS JSON 'auto'",
	}
	defaultSQL = SQLConfig{
		Songplays: sqlqueries.SongplayTableInsert,
		Users:     sqlqueries.UserTableInsert,
		Songs:     sqlqueries.SongTableInsert,
		Artists:   sqlqueries.ArtistTableInsert,
		Time:      sqlqueries.TimeTableInsert,
	}
)

// DefaultChecks are the required non-null columns of the star schema. They
// pass on empty tables; add a HasRows check to catch an empty partition.
func DefaultChecks() []tasks.QualityCheck {
	return []tasks.QualityCheck{
		tasks.NoNullsCheck("songs", "title"),
		tasks.NoNullsCheck("artists", "name"),
		tasks.NoNullsCheck("users", "first_name"),
		tasks.NoNullsCheck("time", "month"),
		tasks.NoNullsCheck("songplays", "userid"),
	}
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

func (s *SourceConfig) setDefaults(def SourceConfig) {
	s.Table = orDefault(s.Table, def.Table)
	s.Bucket = orDefault(s.Bucket, def.Bucket)
	s.Key = orDefault(s.Key, def.Key)
	s.Format = orDefault(s.Format, def.Format)
}

// SetDefaults fills every empty field, so a partial YAML document only
// has to name what differs.
func (c *Config) SetDefaults() {
	defaults.SetDefaults(c)
	c.Events.setDefaults(defaultEvents)
	c.Songs.setDefaults(defaultSongs)

	c.SQL.Songplays = orDefault(c.SQL.Songplays, defaultSQL.Songplays)
	c.SQL.Users = orDefault(c.SQL.Users, defaultSQL.Users)
	c.SQL.Songs = orDefault(c.SQL.Songs, defaultSQL.Songs)
	c.SQL.Artists = orDefault(c.SQL.Artists, defaultSQL.Artists)
	c.SQL.Time = orDefault(c.SQL.Time, defaultSQL.Time)

	if c.Checks == nil {
		c.Checks = DefaultChecks()
	}
}

func (c *Config) Validate() error {
	if c.DAGName == "" {
		return errors.NotValidf("pipeline: empty dag name")
	}
	if c.Retries < 0 {
		return errors.NotValidf("pipeline: retries %d", c.Retries)
	}
	if len(c.Checks) == 0 {
		return errors.NotValidf("pipeline: no data quality checks")
	}
	return nil
}
