package config

import (
	"os"
	"regexp"
	"time"

	"github.com/juju/errors"
	"github.com/mcuadros/go-defaults"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/warriorguo/etlflow/credentials"
	"github.com/warriorguo/etlflow/pipeline"
	"github.com/warriorguo/etlflow/types"
	"github.com/warriorguo/etlflow/warehouse"
)

const MemStoreDriver = "mem"

type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"text"` // text, json
}

type EngineConfig struct {
	MaxTaskConcurrency int           `yaml:"max_task_concurrency" default:"16"`
	MaxActiveRuns      int           `yaml:"max_active_runs" default:"1"`
	PollInterval       time.Duration `yaml:"poll_interval" default:"50ms"`
}

// StoreConfig selects where run state is kept: mem, postgres or sqlite3.
type StoreConfig struct {
	Driver string `yaml:"driver" default:"mem"`
	DSN    string `yaml:"dsn"`
}

type CredentialsConfig struct {
	Static map[string]*types.Credentials `yaml:"static"`
	// EnvPrefix is prepended to <ID>_ACCESS_KEY_ID and friends.
	EnvPrefix string `yaml:"env_prefix"`
}

type APIConfig struct {
	Addr string `yaml:"addr" default:":8080"`
}

type EventsConfig struct {
	Debug bool `yaml:"debug"`
}

type Config struct {
	Log         LogConfig                    `yaml:"log"`
	Engine      EngineConfig                 `yaml:"engine"`
	Store       StoreConfig                  `yaml:"store"`
	Connections map[string]*warehouse.Config `yaml:"connections"`
	Credentials CredentialsConfig            `yaml:"credentials"`
	Pipeline    pipeline.Config              `yaml:"pipeline"`
	API         APIConfig                    `yaml:"api"`
	Events      EventsConfig                 `yaml:"events"`
}

func New() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// Load reads the YAML file at path, expanding ${VAR} references from the
// environment. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return New(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "read config %s", path)
	}
	return Parse(data)
}

// envRef only matches the braced form, so a bare $ in SQL or a secret is
// kept as written.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		return []byte(os.Getenv(string(ref[2 : len(ref)-1])))
	})
}

// Parse decodes data over the defaults. Keys missing from the document keep
// their default, keys present keep their value even when it is zero.
func Parse(data []byte) (*Config, error) {
	c := New()
	if err := yaml.Unmarshal(expandEnv(data), c); err != nil {
		return nil, errors.NewNotValid(err, "parse config")
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return c, nil
}

func (c *Config) SetDefaults() {
	defaults.SetDefaults(&c.Log)
	defaults.SetDefaults(&c.Engine)
	defaults.SetDefaults(&c.Store)
	defaults.SetDefaults(&c.API)
	c.Pipeline.SetDefaults()

	if c.Connections == nil {
		c.Connections = make(map[string]*warehouse.Config)
	}
	for _, conn := range c.Connections {
		if conn != nil {
			conn.ApplyDefaults()
		}
	}
}

func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.NewNotValid(err, "log level")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.NotValidf("log format %q", c.Log.Format)
	}
	switch c.Store.Driver {
	case MemStoreDriver:
	case "postgres", "sqlite3":
		if c.Store.DSN == "" {
			return errors.NotValidf("store %s: empty dsn", c.Store.Driver)
		}
	default:
		return errors.NotSupportedf("store driver %q", c.Store.Driver)
	}
	for connID, conn := range c.Connections {
		if conn == nil {
			return errors.NotValidf("connection %s: empty", connID)
		}
		if err := conn.Validate(); err != nil {
			return errors.Annotatef(err, "connection %s", connID)
		}
	}
	return errors.Trace(c.Pipeline.Validate())
}

// SetupLogging applies the log section to the standard logrus logger.
func (c *Config) SetupLogging() error {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return errors.NewNotValid(err, "log level")
	}
	log.SetLevel(level)
	if c.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func (c *Config) EngineOptions() []types.EngineOption {
	opts := []types.EngineOption{
		types.SetMaxTaskConcurrency(c.Engine.MaxTaskConcurrency),
		types.SetMaxActiveRuns(c.Engine.MaxActiveRuns),
		types.SetPollInterval(c.Engine.PollInterval),
	}
	if c.Store.Driver == MemStoreDriver {
		return append(opts, types.EnableMemStore())
	}
	return append(opts, types.WithStoreConfig(&types.StoreConfig{Driver: c.Store.Driver, DSN: c.Store.DSN}))
}

// CredentialProvider looks up the static credentials first, then the
// environment.
func (c *Config) CredentialProvider() types.CredentialProvider {
	return credentials.Chain{
		credentials.Static(c.Credentials.Static),
		&credentials.Env{Prefix: c.Credentials.EnvPrefix},
	}
}

func (c *Config) WarehouseProvider() (*warehouse.Provider, error) {
	return warehouse.NewProvider(c.Connections)
}
