package tasks

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/juju/errors"
	"github.com/mcuadros/go-defaults"

	"github.com/warriorguo/etlflow/sqlqueries"
	"github.com/warriorguo/etlflow/types"
)

var (
	_ types.Runnable = &Stage{}
)

// StageConfig describes one bulk load from object storage into a staging
// table. Key may reference the run: {{.Ds}}, {{.LogicalTime.Year}}, {{.Params.x}}.
type StageConfig struct {
	ConnID        string `yaml:"conn_id" default:"redshift"`
	CredentialsID string `yaml:"credentials_id" default:"aws_credentials"`
	Table         string `yaml:"table"`
	Bucket        string `yaml:"bucket"`
	Key           string `yaml:"key"`
	Region        string `yaml:"region" default:"us-west-2"`
	Format        string `yaml:"format" default:"FORMAT AS JSON 'auto'"`
}

type keyParams struct {
	LogicalTime time.Time
	Ds          string
	Ts          string
	Params      types.Data
}

// Stage appends every object under s3://Bucket/Key into Table. It never
// truncates: re-running a partition is only safe when the partition itself
// did not change.
type Stage struct {
	cfg   StageConfig
	key   *template.Template
	conns types.ConnectionProvider
	creds types.CredentialProvider
}

func NewStage(cfg StageConfig, conns types.ConnectionProvider, creds types.CredentialProvider) (*Stage, error) {
	defaults.SetDefaults(&cfg)
	if cfg.Table == "" || cfg.Bucket == "" {
		return nil, errors.NotValidf("stage config: table and bucket are required")
	}
	if conns == nil || creds == nil {
		return nil, errors.BadRequestf("stage %s: connection and credential providers are required", cfg.Table)
	}
	key, err := template.New(cfg.Table).Option("missingkey=error").Parse(cfg.Key)
	if err != nil {
		return nil, errors.Annotatef(err, "stage %s key template", cfg.Table)
	}
	return &Stage{cfg: cfg, key: key, conns: conns, creds: creds}, nil
}

func (s *Stage) Kind() types.TaskKind {
	return types.KindStage
}

func (s *Stage) Config() StageConfig {
	return s.cfg
}

// SourcePath renders the object-store location for the run behind ctx.
func (s *Stage) SourcePath(ctx types.Context) (string, error) {
	lt := ctx.LogicalTime().UTC()
	params := ctx.Params()
	if params == nil {
		params = types.Data{}
	}

	var b bytes.Buffer
	if err := s.key.Execute(&b, &keyParams{
		LogicalTime: lt,
		Ds:          lt.Format("2006-01-02"),
		Ts:          lt.Format(time.RFC3339),
		Params:      params,
	}); err != nil {
		return "", errors.Annotatef(err, "render key %q", s.cfg.Key)
	}
	return fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, strings.TrimPrefix(b.String(), "/")), nil
}

func (s *Stage) Execute(ctx types.Context) error {
	logger := ctx.Logger()

	logger.Info("Getting credentials")
	creds, err := s.creds.Credentials(ctx, s.cfg.CredentialsID)
	if err != nil {
		return types.NewConnectionError(errors.Annotatef(err, "resolve credentials %s", s.cfg.CredentialsID))
	}

	path, err := s.SourcePath(ctx)
	if err != nil {
		return types.NewStatementError(err)
	}

	hook, err := s.conns.Connection(ctx, s.cfg.ConnID)
	if err != nil {
		return errors.Trace(err)
	}
	defer hook.Close()

	stmt := sqlqueries.Copy.MustRender(s.cfg.Table, path, creds.AccessKey, creds.SecretKey, s.cfg.Region, s.cfg.Format)
	if creds.SessionToken != "" {
		stmt = strings.Replace(stmt, "REGION AS", fmt.Sprintf("SESSION_TOKEN '%s'\nREGION AS", creds.SessionToken), 1)
	}

	logger.Infof("Copying data from '%s' to '%s'", path, s.cfg.Table)
	return hook.Run(ctx, stmt)
}
