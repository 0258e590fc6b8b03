package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"

	"github.com/warriorguo/etlflow/store/mem"
	"github.com/warriorguo/etlflow/types"
)

func newOptions() *types.EngineOptions {
	opts := types.NewEngineOptions()
	opts.AutoStart = false
	opts.MemStore = true
	opts.TaskRunAsync = false
	opts.PollInterval = time.Millisecond
	opts.TaskDefaults.RetryDelay = 0
	return opts
}

type funcTask struct {
	kind  types.TaskKind
	fn    func(ctx types.Context) error
	calls int32
}

func newFuncTask(fn func(ctx types.Context) error) *funcTask {
	return &funcTask{kind: types.KindMarker, fn: fn}
}

func (t *funcTask) Kind() types.TaskKind {
	return t.kind
}

func (t *funcTask) Execute(ctx types.Context) error {
	atomic.AddInt32(&t.calls, 1)
	if t.fn == nil {
		return nil
	}
	return t.fn(ctx)
}

func (t *funcTask) triggered() int {
	return int(atomic.LoadInt32(&t.calls))
}

type orderRecorder struct {
	mu    sync.Mutex
	order []string
}

func (o *orderRecorder) task(name string) *funcTask {
	return newFuncTask(func(ctx types.Context) error {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.order = append(o.order, ctx.GetTaskName())
		return nil
	})
}

func (o *orderRecorder) index(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, n := range o.order {
		if n == name {
			return i
		}
	}
	return -1
}

type singleDAG struct {
	node1 *funcTask
	node2 *funcTask
	node3 *funcTask
}

func newSingleDAG() *singleDAG {
	return &singleDAG{node1: newFuncTask(nil), node2: newFuncTask(nil), node3: newFuncTask(nil)}
}

func (d *singleDAG) testDAG(dag types.DAG) error {
	if err := dag.Task("node1", d.node1); err != nil {
		return errors.Trace(err)
	}
	if err := dag.Task("node2", d.node2); err != nil {
		return errors.Trace(err)
	}
	if err := dag.Task("node3", d.node3); err != nil {
		return errors.Trace(err)
	}
	if err := dag.Edge("node1", "node2"); err != nil {
		return errors.Trace(err)
	}
	if err := dag.Edge("node2", "node3"); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func TestSingleFlow(t *testing.T) {
	s := mem.NewMemStore()
	flow := newFlow(s, newOptions())

	singlef := newSingleDAG()
	assert.Nil(t, flow.RegisterDAG("test", singlef.testDAG))
	d, exists := flow.GetDAG("test")
	assert.True(t, exists)
	assert.NotNil(t, d)

	assert.Nil(t, flow.RunDAG(context.Background(), "test", "test-run-id", time.Now(), nil))
	assert.False(t, flow.isRunningEmpty())

	assert.Nil(t, flow.RunOnce())
	assert.Equal(t, 1, singlef.node1.triggered())
	assert.Equal(t, 0, singlef.node2.triggered())
	assert.Equal(t, 0, singlef.node3.triggered())

	status, err := flow.GetRunStatus(context.Background(), "test-run-id")
	assert.Nil(t, err)
	assert.Equal(t, types.Running, status.Status)
	assert.Equal(t, types.Succeeded, status.Tasks["node1"].Status)
	assert.Equal(t, types.Pending, status.Tasks["node2"].Status)

	assert.Nil(t, flow.RunOnce())
	assert.Equal(t, 1, singlef.node1.triggered())
	assert.Equal(t, 1, singlef.node2.triggered())
	assert.Equal(t, 0, singlef.node3.triggered())

	assert.Nil(t, flow.RunOnce())
	assert.Equal(t, 1, singlef.node3.triggered())
	assert.True(t, flow.isRunningEmpty())

	assert.Nil(t, flow.RunOnce())
	assert.Equal(t, 1, singlef.node1.triggered())
	assert.Equal(t, 1, singlef.node2.triggered())
	assert.Equal(t, 1, singlef.node3.triggered())

	// finished runs are served from the store
	status, err = flow.GetRunStatus(context.Background(), "test-run-id")
	assert.Nil(t, err)
	assert.Equal(t, types.Succeeded, status.Status)
	assert.Equal(t, "test", status.DAGName)
	assert.Equal(t, 3, len(status.Tasks))
	assert.Equal(t, 1, status.Tasks["node3"].Attempts)
	assert.False(t, status.EndTime.IsZero())

	_, err = flow.GetRunStatus(context.Background(), "unknown")
	assert.True(t, errors.Is(err, errors.NotFound))
	assert.Nil(t, flow.Close(context.Background()))
}

// sparkifyShape builds begin -> {stage_a, stage_b} -> fact -> {dim_*} -> check -> end
func sparkifyShape(rec *orderRecorder) types.DAGHandler {
	return func(dag types.DAG) error {
		names := []string{"begin", "stage_a", "stage_b", "fact", "dim_users", "dim_songs", "dim_artists", "dim_time", "check", "end"}
		for _, name := range names {
			if err := dag.Task(name, rec.task(name)); err != nil {
				return errors.Trace(err)
			}
		}
		edges := [][2]string{
			{"begin", "stage_a"}, {"begin", "stage_b"},
			{"stage_a", "fact"}, {"stage_b", "fact"},
			{"fact", "dim_users"}, {"fact", "dim_songs"}, {"fact", "dim_artists"}, {"fact", "dim_time"},
			{"dim_users", "check"}, {"dim_songs", "check"}, {"dim_artists", "check"}, {"dim_time", "check"},
			{"check", "end"},
		}
		for _, e := range edges {
			if err := dag.Edge(e[0], e[1]); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	}
}

func TestFanOutFanIn(t *testing.T) {
	flow := newFlow(mem.NewMemStore(), newOptions())
	defer flow.Close(context.Background())

	rec := &orderRecorder{}
	assert.Nil(t, flow.RegisterDAG("sparkify", sparkifyShape(rec)))

	d, _ := flow.GetDAG("sparkify")
	assert.Equal(t, []string{"begin"}, d.Roots())
	assert.Equal(t, []string{"end"}, d.Leaves())
	assert.Equal(t, []string{"stage_a", "stage_b"}, d.Upstream("fact"))
	assert.Equal(t, []string{"dim_artists", "dim_songs", "dim_time", "dim_users"}, d.Upstream("check"))

	order, err := d.TopologicalOrder()
	assert.Nil(t, err)
	assert.Equal(t, []string{"begin", "stage_a", "stage_b", "fact",
		"dim_artists", "dim_songs", "dim_time", "dim_users", "check", "end"}, order)

	assert.Nil(t, flow.RunDAG(context.Background(), "sparkify", "run-1", time.Now(), nil))
	status, err := flow.WaitRun(context.Background(), "run-1")
	assert.Nil(t, err)
	assert.Equal(t, types.Succeeded, status.Status)
	assert.Equal(t, 10, len(rec.order))

	for _, e := range [][2]string{{"begin", "stage_a"}, {"stage_b", "fact"}, {"fact", "dim_time"}, {"dim_users", "check"}, {"check", "end"}} {
		assert.True(t, rec.index(e[0]) < rec.index(e[1]), "%s before %s", e[0], e[1])
	}
}

func TestTaskContext(t *testing.T) {
	flow := newFlow(mem.NewMemStore(), newOptions())
	defer flow.Close(context.Background())

	logicalTime := time.Date(2018, 11, 1, 0, 0, 0, 0, time.UTC)
	task := newFuncTask(func(ctx types.Context) error {
		assert.Equal(t, "ctx-run", ctx.GetRunID())
		assert.Equal(t, "ctx", ctx.GetDAGName())
		assert.Equal(t, "only", ctx.GetTaskName())
		assert.Equal(t, 1, ctx.GetAttempt())
		assert.Equal(t, logicalTime, ctx.LogicalTime())
		params := ctx.Params()
		v, _ := params.GetString("prefix")
		assert.Equal(t, "replay", v)
		assert.Equal(t, "ctx-run", ctx.Logger().Data["run_id"])
		return nil
	})
	assert.Nil(t, flow.RegisterDAG("ctx", func(dag types.DAG) error {
		return dag.Task("only", task)
	}))

	params := types.Data{"prefix": "replay"}
	assert.Nil(t, flow.RunDAG(context.Background(), "ctx", "ctx-run", logicalTime, params))
	status, err := flow.WaitRun(context.Background(), "ctx-run")
	assert.Nil(t, err)
	assert.Equal(t, types.Succeeded, status.Status)
	assert.Equal(t, logicalTime, status.LogicalTime)
	assert.Equal(t, 1, task.triggered())
}

func TestListDAGNames(t *testing.T) {
	flow := newFlow(mem.NewMemStore(), newOptions())
	defer flow.Close(context.Background())

	assert.Nil(t, flow.RegisterDAG("b", newSingleDAG().testDAG))
	assert.Nil(t, flow.RegisterDAG("a", newSingleDAG().testDAG))
	names, err := flow.ListDAGNames()
	assert.Nil(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	_, exists := flow.GetDAG("c")
	assert.False(t, exists)
}
