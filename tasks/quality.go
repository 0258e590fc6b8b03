package tasks

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/mcuadros/go-defaults"
	"github.com/spf13/cast"

	"github.com/warriorguo/etlflow/sqlqueries"
	"github.com/warriorguo/etlflow/types"
)

var (
	_ types.Runnable = &DataQuality{}
)

// QualityCheck passes when the first column of the first row returned by SQL
// equals Expected.
type QualityCheck struct {
	SQL      string `yaml:"sql"`
	Expected any    `yaml:"expected"`
}

// NoNullsCheck expects no row of table to have a NULL column.
func NoNullsCheck(table, column string) QualityCheck {
	return QualityCheck{SQL: sqlqueries.NullCount.MustRender(table, column), Expected: 0}
}

// HasRowsCheck expects table to hold at least one row.
func HasRowsCheck(table string) QualityCheck {
	return QualityCheck{SQL: sqlqueries.HasRows.MustRender(table), Expected: 1}
}

type QualityConfig struct {
	ConnID string         `yaml:"conn_id" default:"redshift"`
	Checks []QualityCheck `yaml:"checks"`
}

type CheckResult struct {
	Check  QualityCheck
	Actual any
	Empty  bool
	Passed bool
}

// DataQuality runs every check in order, whatever the outcome of the
// previous ones, and fails when at least one did not pass. A query error
// fails the whole task.
type DataQuality struct {
	cfg   QualityConfig
	conns types.ConnectionProvider
}

func NewDataQuality(cfg QualityConfig, conns types.ConnectionProvider) (*DataQuality, error) {
	defaults.SetDefaults(&cfg)
	if len(cfg.Checks) == 0 {
		return nil, errors.NotValidf("data quality config: no checks")
	}
	for i, check := range cfg.Checks {
		if check.SQL == "" {
			return nil, errors.NotValidf("data quality check %d: empty sql", i)
		}
	}
	if conns == nil {
		return nil, errors.BadRequestf("data quality: connection provider is required")
	}
	return &DataQuality{cfg: cfg, conns: conns}, nil
}

func (d *DataQuality) Kind() types.TaskKind {
	return types.KindQualityCheck
}

func (d *DataQuality) Config() QualityConfig {
	return d.cfg
}

func (d *DataQuality) Execute(ctx types.Context) error {
	_, err := d.Check(ctx)
	return err
}

// Check runs the checks and returns their results along with the task error.
func (d *DataQuality) Check(ctx types.Context) ([]*CheckResult, error) {
	logger := ctx.Logger()

	hook, err := d.conns.Connection(ctx, d.cfg.ConnID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer hook.Close()

	results := make([]*CheckResult, 0, len(d.cfg.Checks))
	failed := make([]string, 0)
	for _, check := range d.cfg.Checks {
		rows, err := hook.Query(ctx, check.SQL)
		if err != nil {
			return results, errors.Annotatef(err, "data quality check %q", check.SQL)
		}

		result := &CheckResult{Check: check}
		if len(rows) == 0 || len(rows[0]) == 0 {
			result.Empty = true
		} else {
			result.Actual = rows[0][0]
			result.Passed = scalarEqual(result.Actual, check.Expected)
		}
		results = append(results, result)

		logger.Infof("Running query   : %s", check.SQL)
		logger.Infof("Expected result : %v", check.Expected)
		if result.Empty {
			logger.Infof("Check result    : no rows")
		} else {
			logger.Infof("Check result    : %v", result.Actual)
		}
		if !result.Passed {
			failed = append(failed, check.SQL)
			logger.Warnf("Data quality check fails at: %s", check.SQL)
		}
	}

	if len(failed) > 0 {
		logger.Errorf("Data quality checks - Failed (%d/%d)", len(failed), len(results))
		return results, types.NewQualityError(failed, len(results))
	}
	logger.Infof("Data quality checks - Passed (%d)", len(results))
	return results, nil
}

// scalarEqual compares numerically when both sides are numbers, so that an
// int64 COUNT(*) matches an expected 0 from code or YAML.
func scalarEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	if isNumeric(actual) && isNumeric(expected) {
		return cast.ToFloat64(actual) == cast.ToFloat64(expected)
	}
	return cast.ToString(actual) == cast.ToString(expected)
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case string:
		_, err := cast.ToFloat64E(v)
		return err == nil && fmt.Sprint(v) != ""
	}
	return false
}
