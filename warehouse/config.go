package warehouse

import (
	"time"

	"github.com/juju/errors"
	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

var supportedDrivers = map[string]bool{
	"postgres": true,
	"mysql":    true,
	"sqlite3":  true,
}

// Config describes one warehouse connection id.
type Config struct {
	Driver          string        `yaml:"driver" default:"postgres"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"1h"`
}

func NewConfig(driver, dsn string) *Config {
	c := &Config{Driver: driver, DSN: dsn}
	defaults.SetDefaults(c)
	return c
}

func (c *Config) ApplyDefaults() {
	defaults.SetDefaults(c)
}

// UnmarshalYAML decodes over the defaults, so an explicit zero is kept.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain Config
	p := plain{}
	defaults.SetDefaults(&p)
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = Config(p)
	return nil
}

func (c *Config) Validate() error {
	if !supportedDrivers[c.Driver] {
		return errors.NotSupportedf("warehouse driver %q", c.Driver)
	}
	if c.DSN == "" {
		return errors.NotValidf("empty dsn")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.NotValidf("max_idle_conns %d above max_open_conns %d", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}
