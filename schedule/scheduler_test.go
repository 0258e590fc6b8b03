package schedule

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"

	"github.com/warriorguo/etlflow/types"
)

type runCall struct {
	dagName     string
	runID       string
	logicalTime time.Time
	params      types.Data
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []runCall
	active bool
}

func (f *fakeRunner) RunDAG(ctx context.Context, dagName string, runID string, logicalTime time.Time, params types.Data) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return errors.AlreadyExistsf("DAG %s already has 1 active run(s)", dagName)
	}
	f.calls = append(f.calls, runCall{dagName, runID, logicalTime, params})
	return nil
}

func TestLogicalTime(t *testing.T) {
	cases := []struct {
		expr     string
		tick     time.Time
		expected time.Time
	}{
		{"@hourly", time.Date(2018, 11, 1, 2, 0, 0, 0, time.UTC), time.Date(2018, 11, 1, 1, 0, 0, 0, time.UTC)},
		{"@hourly", time.Date(2018, 11, 1, 0, 0, 0, 0, time.UTC), time.Date(2018, 10, 31, 23, 0, 0, 0, time.UTC)},
		{"@daily", time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2018, 12, 31, 0, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2018, 11, 1, 2, 0, 0, 0, time.UTC), time.Date(2018, 11, 1, 1, 45, 0, 0, time.UTC)},
		// a tick that is not on the schedule maps to the last one before it
		{"@hourly", time.Date(2018, 11, 1, 2, 30, 0, 0, time.UTC), time.Date(2018, 11, 1, 2, 0, 0, 0, time.UTC)},
		// intervals of uneven length
		{"@monthly", time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2019, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"0 6 * * 1", time.Date(2018, 11, 12, 6, 0, 0, 0, time.UTC), time.Date(2018, 11, 5, 6, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		sched, err := Parse(c.expr)
		assert.Nil(t, err)
		assert.Equal(t, c.expected, LogicalTime(sched, c.tick), fmt.Sprintf("%s at %s", c.expr, c.tick))
	}
}

func TestParse(t *testing.T) {
	_, err := Parse("@hourly")
	assert.Nil(t, err)
	_, err = Parse("0 * * * *")
	assert.Nil(t, err)
	_, err = Parse("every hour")
	assert.True(t, errors.Is(err, errors.NotValid))
	// seconds are not part of the standard format
	_, err = Parse("0 0 * * * *")
	assert.NotNil(t, err)
}

func TestSchedulerTrigger(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner)
	ids := 0
	s.newRunID = func() string {
		ids++
		return fmt.Sprintf("run-%d", ids)
	}

	assert.Nil(t, s.Register("udac_example_dag", "@hourly", types.Data{"env": "test"}))
	assert.NotNil(t, s.Register("udac_example_dag", "@daily", nil))
	assert.NotNil(t, s.Register("other", "not a schedule", nil))
	assert.Equal(t, []string{"udac_example_dag"}, s.Scheduled())

	// fired a few seconds late
	runID, err := s.Trigger("udac_example_dag", time.Date(2018, 11, 1, 2, 0, 3, 0, time.UTC))
	assert.Nil(t, err)
	assert.Equal(t, "run-1", runID)
	assert.Equal(t, 1, len(runner.calls))
	assert.Equal(t, "udac_example_dag", runner.calls[0].dagName)
	assert.Equal(t, time.Date(2018, 11, 1, 1, 0, 0, 0, time.UTC), runner.calls[0].logicalTime)
	assert.Equal(t, "test", runner.calls[0].params["env"])

	// the previous run is still active: the tick is skipped
	runner.active = true
	_, err = s.Trigger("udac_example_dag", time.Date(2018, 11, 1, 3, 0, 0, 0, time.UTC))
	assert.True(t, errors.Is(err, errors.AlreadyExists))
	assert.Equal(t, 1, len(runner.calls))

	_, err = s.Trigger("unknown", time.Now())
	assert.True(t, errors.Is(err, errors.NotFound))

	assert.Nil(t, s.Unregister("udac_example_dag"))
	assert.NotNil(t, s.Unregister("udac_example_dag"))
	assert.Equal(t, []string{}, s.Scheduled())
}

func TestSchedulerStartStop(t *testing.T) {
	s := New(&fakeRunner{})
	assert.Nil(t, s.Register("udac_example_dag", "@hourly", nil))
	s.Start()
	s.Stop()
}
