package tasks

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/warriorguo/etlflow/types"
	"github.com/warriorguo/etlflow/warehouse"
)

type testContext struct {
	context.Context
	logicalTime time.Time
	params      types.Data
}

func newTestContext(logicalTime time.Time) *testContext {
	return &testContext{Context: context.Background(), logicalTime: logicalTime}
}

func (c *testContext) GetRunID() string { return "test-run" }
func (c *testContext) GetDAGName() string { return "test" }
func (c *testContext) GetTaskName() string { return "task" }
func (c *testContext) GetAttempt() int { return 1 }
func (c *testContext) LogicalTime() time.Time { return c.logicalTime }
func (c *testContext) Params() types.Data { return c.params }
func (c *testContext) Logger() *log.Entry { return log.WithField("run_id", "test-run") }

// recordingHook keeps every statement run through it and answers queries
// from a canned result.
type recordingHook struct {
	mu         sync.Mutex
	statements []string
	rows       [][]any
	runErr     error
	closed     bool
}

func (h *recordingHook) Run(ctx context.Context, sql string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statements = append(h.statements, sql)
	return h.runErr
}

func (h *recordingHook) Query(ctx context.Context, sql string) ([][]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statements = append(h.statements, sql)
	return h.rows, h.runErr
}

func (h *recordingHook) DriverName() string { return "postgres" }

func (h *recordingHook) Close() error {
	h.closed = true
	return nil
}

type recordingProvider struct {
	hook *recordingHook
	err  error
}

func (p *recordingProvider) Connection(ctx context.Context, connID string) (types.Hook, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.hook, nil
}

type staticCreds map[string]*types.Credentials

func (s staticCreds) Credentials(ctx context.Context, credentialsID string) (*types.Credentials, error) {
	c, exists := s[credentialsID]
	if !exists {
		return nil, errors.NotFoundf("credentials %s", credentialsID)
	}
	return c, nil
}

func newWarehouse(t *testing.T) *warehouse.Provider {
	p, err := warehouse.NewProvider(map[string]*warehouse.Config{
		"redshift": warehouse.NewConfig("sqlite3", filepath.Join(t.TempDir(), "dwh.db")),
	})
	assert.Nil(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func execAll(t *testing.T, p *warehouse.Provider, statements ...string) {
	ctx := context.Background()
	h, err := p.Connection(ctx, "redshift")
	assert.Nil(t, err)
	defer h.Close()
	for _, stmt := range statements {
		assert.Nil(t, h.Run(ctx, stmt), stmt)
	}
}

func queryInt(t *testing.T, p *warehouse.Provider, sql string) int64 {
	ctx := context.Background()
	h, err := p.Connection(ctx, "redshift")
	assert.Nil(t, err)
	defer h.Close()
	rows, err := h.Query(ctx, sql)
	assert.Nil(t, err)
	if !assert.Equal(t, 1, len(rows)) {
		return -1
	}
	return rows[0][0].(int64)
}
