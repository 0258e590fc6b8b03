package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/etlflow/store"
	"github.com/warriorguo/etlflow/types"
	"github.com/warriorguo/etlflow/utils"
)

const (
	RunContextPath = "/run_state/"
)

func newBatchRunner(concurrency int, asyncFlag bool, maxActiveRuns int) *batchRunner {
	return &batchRunner{
		wp:            workerpool.New(concurrency),
		asyncFlag:     asyncFlag,
		maxActiveRuns: maxActiveRuns,
		runners:       make(map[string]*contextRunner),
	}
}

type batchRunner struct {
	mu sync.Mutex

	wp            *workerpool.WorkerPool
	asyncFlag     bool
	maxActiveRuns int
	runners       map[string]*contextRunner
}

func (b *batchRunner) exists(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, exists := b.runners[key]
	return exists
}

func (b *batchRunner) get(key string) *contextRunner {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.runners[key]
}

func (b *batchRunner) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.runners)
}

func (b *batchRunner) activeRuns(dagName string) int {
	active := 0
	for _, r := range b.runners {
		if r.dag.Name == dagName && !r.isDone() {
			active++
		}
	}
	return active
}

// add registers r once prepare succeeded. prepare runs under the batch lock,
// so the dispatch loop never sees a run whose state is not saved yet.
func (b *batchRunner) add(r *contextRunner, prepare func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.runners[r.runID]; exists {
		return errors.AlreadyExistsf("run: %s", r.runID)
	}
	if b.maxActiveRuns > 0 && b.activeRuns(r.dag.Name) >= b.maxActiveRuns {
		return errors.AlreadyExistsf("DAG %s already has %d active run(s), run %s", r.dag.Name, b.maxActiveRuns, r.runID)
	}
	if prepare != nil {
		if err := prepare(); err != nil {
			return errors.Trace(err)
		}
	}
	b.runners[r.runID] = r
	return nil
}

func (b *batchRunner) list() []*contextRunner {
	b.mu.Lock()
	defer b.mu.Unlock()

	runners := make([]*contextRunner, 0, len(b.runners))
	for _, key := range utils.SortedKeys(b.runners) {
		runners = append(runners, b.runners[key])
	}
	return runners
}

func (b *batchRunner) stopWait(ctx context.Context) error {
	b.wp.StopWait()

	var retErr error
	for _, r := range b.list() {
		if err := r.stop(ctx); err != nil {
			retErr = errors.Wrapf(retErr, err, "failed on %s", r.runID)
		}
	}
	return retErr
}

func (b *batchRunner) runOnce(ctx context.Context) error {
	var retErr error
	for _, r := range b.list() {
		if err := r.runOnce(ctx, b.wp, b.asyncFlag); err != nil {
			retErr = errors.Wrapf(retErr, err, "failed on %s", r.runID)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for key, r := range b.runners {
		if r.tryCheckCanRemove() {
			delete(b.runners, key)
		}
	}
	return retErr
}

type taskResult struct {
	task    string
	attempt int
	err     error
}

// runState is what is persisted of a run after every transition.
type runState struct {
	RunID       string
	DAGName     string
	LogicalTime time.Time
	Params      types.Data `json:",omitempty"`
	Status      types.StatusType
	LastError   string    `json:",omitempty"`
	StartTime   time.Time `json:",omitempty"`
	EndTime     time.Time `json:",omitempty"`
	Terminated  bool      `json:",omitempty"`

	Tasks map[string]*types.TaskState
}

func (s *runState) export() *types.RunStatus {
	return &types.RunStatus{
		RunID:       s.RunID,
		DAGName:     s.DAGName,
		LogicalTime: s.LogicalTime,
		Status:      s.Status,
		LastError:   s.LastError,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		Tasks:       s.Tasks,
	}
}

type contextRunner struct {
	mu     sync.Mutex
	store  store.Store
	events types.EventPublisher

	ctx    context.Context
	cancel context.CancelFunc

	runID       string
	dag         *dagEntity
	nodes       map[string]*nodeRuntime
	rt          *dagRuntime
	logicalTime time.Time
	params      types.Data

	inflight int
	resultCh chan *taskResult

	startTime time.Time
	endTime   time.Time
	done      bool
	doneCh    chan struct{}
}

func newContextRunner(ctx context.Context, fe *flowExecute, runID string, dag *dagEntity, rt *dagRuntime,
	logicalTime time.Time, params types.Data) (*contextRunner, error) {
	nodes := make(map[string]*nodeRuntime, len(rt.plan.Tasks))
	for name := range rt.plan.Tasks {
		vertex, exists := dag.vertex[name]
		if !exists {
			return nil, errors.NotFoundf("task %s in DAG %s", name, dag.Name)
		}
		nodes[name] = newNodeRuntime(vertex)
	}

	cr := &contextRunner{
		store:       fe.store,
		events:      fe.events,
		runID:       runID,
		dag:         dag,
		nodes:       nodes,
		rt:          rt,
		logicalTime: logicalTime,
		params:      params,
		resultCh:    make(chan *taskResult, len(rt.plan.Tasks)),
		startTime:   time.Now(),
		doneCh:      make(chan struct{}),
	}
	cr.ctx, cr.cancel = context.WithCancel(ctx)
	return cr, nil
}

func (r *contextRunner) logger() *log.Entry {
	return log.WithFields(log.Fields{"run_id": r.runID, "dag": r.dag.Name})
}

func (r *contextRunner) isDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.done
}

func (r *contextRunner) tryCheckCanRemove() bool {
	if !r.mu.TryLock() {
		return false
	}
	defer r.mu.Unlock()

	return r.done
}

func (r *contextRunner) exportState() *runState {
	return &runState{
		RunID:       r.runID,
		DAGName:     r.dag.Name,
		LogicalTime: r.logicalTime,
		Params:      r.params,
		Status:      r.rt.status(),
		LastError:   r.rt.lastError(),
		StartTime:   r.startTime,
		EndTime:     r.endTime,
		Terminated:  r.rt.terminated,
		Tasks:       r.rt.snapshot(),
	}
}

func (r *contextRunner) saveContext(ctx context.Context) error {
	b, err := utils.Serialize(r.exportState())
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(r.store.Set(ctx, RunContextPath, r.runID, b))
}

func (r *contextRunner) publish(task string) {
	if r.events == nil {
		return
	}
	state := r.rt.tasks[task]
	event := &types.TaskEvent{
		RunID:     r.runID,
		DAGName:   r.dag.Name,
		Task:      task,
		Status:    state.Status,
		Attempt:   state.Attempts,
		Error:     state.LastError,
		Timestamp: time.Now(),
	}
	if err := r.events.PublishTaskEvent(event); err != nil {
		r.logger().Warnf("failed to publish %s event of %s: %v", state.Status, task, err)
	}
}

func (r *contextRunner) runOnce(ctx context.Context, wp *workerpool.WorkerPool, asyncFlag bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return nil
	}
	r.collect()

	for _, name := range r.rt.ready(time.Now()) {
		state := r.rt.start(name, time.Now())
		attempt := state.Attempts
		r.publish(name)
		if err := r.saveContext(ctx); err != nil {
			return errors.Trace(err)
		}

		if asyncFlag {
			r.inflight++
			wp.Submit(func() {
				r.resultCh <- &taskResult{task: name, attempt: attempt, err: r.execute(name, attempt)}
			})
			continue
		}
		r.apply(&taskResult{task: name, attempt: attempt, err: r.execute(name, attempt)})
		if err := r.saveContext(ctx); err != nil {
			return errors.Trace(err)
		}
	}

	return errors.Trace(r.checkDone(ctx))
}

// execute runs one attempt. It only reads immutable fields of the runner and
// may be called without holding r.mu.
func (r *contextRunner) execute(task string, attempt int) error {
	node := r.nodes[task]
	tc := newTaskContext(r.ctx, r.store, r, task, attempt)

	tc.startRecord(node.vertex.runnable.Kind())
	tc.logger.Infof("Executing %s", task)
	err := node.runOnce(tc)
	tc.endRecord(context.WithoutCancel(r.ctx), err)

	if err != nil {
		tc.logger.Errorf("%s failed: %v", task, err)
	} else {
		tc.logger.Infof("%s succeeded", task)
	}
	return err
}

func (r *contextRunner) apply(result *taskResult) {
	for _, name := range r.rt.finish(result.task, result.err, time.Now()) {
		state := r.rt.tasks[name]
		switch state.Status {
		case types.Retrying:
			r.logger().Warnf("%s will retry at %s (attempt %d)", name, state.NextRunTime.Format(time.RFC3339), state.Attempts)
		case types.UpstreamFailed:
			r.logger().Warnf("%s will not run, an upstream task failed", name)
		}
		r.publish(name)
	}
}

// collect applies the results of async attempts that completed so far.
func (r *contextRunner) collect() bool {
	collected := false
	for {
		select {
		case result := <-r.resultCh:
			r.inflight--
			r.apply(result)
			collected = true
		default:
			return collected
		}
	}
}

func (r *contextRunner) checkDone(ctx context.Context) error {
	if r.done || r.inflight > 0 || !r.rt.finished() {
		return nil
	}
	r.done = true
	r.endTime = time.Now()
	r.cancel()
	defer close(r.doneCh)

	status := r.rt.status()
	if status == types.Succeeded {
		r.logger().Infof("run %s succeeded", r.runID)
	} else {
		r.logger().Errorf("run %s failed: %s", r.runID, r.rt.lastError())
	}
	return errors.Trace(r.saveContext(ctx))
}

func (r *contextRunner) terminate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return errors.Forbiddenf("run %s already finished", r.runID)
	}
	for _, name := range r.rt.terminate(time.Now()) {
		r.publish(name)
	}
	// running attempts see their context canceled
	r.cancel()
	r.logger().Warnf("run %s terminated", r.runID)

	if err := r.saveContext(ctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(r.checkDone(ctx))
}

// stop is called once the worker pool drained: it keeps the last results
// and saves the run so that it can be reloaded.
func (r *contextRunner) stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.collect() {
		if err := r.checkDone(ctx); err != nil {
			return errors.Trace(err)
		}
	}
	if r.done {
		return nil
	}
	r.cancel()
	return errors.Trace(r.saveContext(ctx))
}

func (r *contextRunner) status() *types.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.exportState().export()
}

func (r *contextRunner) waitCh() <-chan struct{} {
	return r.doneCh
}
