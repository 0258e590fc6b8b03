package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/etlflow/store"
	"github.com/warriorguo/etlflow/types"
	"github.com/warriorguo/etlflow/utils"
)

var (
	_ types.Engine = &flow{}
)

func NewEngine(store store.Store, opts *types.EngineOptions) types.Engine {
	return newFlow(store, opts)
}

type flow struct {
	flowExecute

	opts *types.EngineOptions

	dagMu       sync.Mutex
	dagEntities map[string]*dagEntity
}

func newFlow(store store.Store, opts *types.EngineOptions) *flow {
	f := &flow{opts: opts}
	f.ctx, f.cancel = context.WithCancel(opts.Ctx)
	f.store = store
	f.events = opts.Events
	f.running.Store(true)
	f.batchRunner = newBatchRunner(opts.MaxTaskConcurrency, opts.TaskRunAsync, opts.MaxActiveRuns)
	f.dagEntities = make(map[string]*dagEntity)

	if opts.AutoStart {
		f.asyncRun()
	}
	return f
}

func (f *flow) asyncRun() {
	f.stopCh = make(chan struct{})
	f.exitCh = make(chan struct{})

	go func() {
		defer close(f.exitCh)

		ticker := time.NewTicker(f.opts.PollInterval)
		defer ticker.Stop()
		for {
			if err := f.runOnce(); err != nil {
				log.Errorf("run once failed: %v", err)
			}
			select {
			case <-f.stopCh:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (f *flow) RegisterDAG(name string, handler types.DAGHandler) error {
	if !f.running.Load() {
		return errors.MethodNotAllowedf("not running")
	}
	if name == "" {
		return errors.BadRequestf("DAG name is empty")
	}
	if handler == nil {
		return errors.BadRequestf("DAG %s handler is nil", name)
	}
	if _, exists := f.getDAG(name); exists {
		return errors.AlreadyExistsf("DAG: %s", name)
	}

	dag := newDAGEntity(name, f.opts.TaskDefaults)
	if err := handler(dag); err != nil {
		return errors.Trace(err)
	}
	if err := dag.validate(); err != nil {
		return errors.Trace(err)
	}

	f.dagMu.Lock()
	defer f.dagMu.Unlock()
	if _, exists := f.dagEntities[name]; exists {
		return errors.AlreadyExistsf("DAG: %s", name)
	}
	f.dagEntities[name] = dag
	return nil
}

func (f *flow) GetDAG(name string) (types.DAG, bool) {
	dag, exists := f.getDAG(name)
	if !exists {
		return nil, false
	}
	return dag, true
}

func (f *flow) RenderDAG(name string) (string, error) {
	dag, exists := f.getDAG(name)
	if !exists {
		return "", errors.NotFoundf("DAG name: %s", name)
	}
	return f.renderDOT(dag.plan(), nil, nil)
}

func (f *flow) RenderRunStatus(ctx context.Context, runID string) (string, error) {
	return f.loadRunAndRender(ctx, runID)
}

func (f *flow) GetRunStatus(ctx context.Context, runID string) (*types.RunStatus, error) {
	return f.getExecutePlanStatus(ctx, runID)
}

func (f *flow) ListDAGNames() ([]string, error) {
	f.dagMu.Lock()
	defer f.dagMu.Unlock()
	return utils.SortedKeys(f.dagEntities), nil
}

func (f *flow) TerminateRun(ctx context.Context, runID string) error {
	return f.terminateExecutePlan(ctx, runID)
}

func (f *flow) getDAG(name string) (*dagEntity, bool) {
	f.dagMu.Lock()
	defer f.dagMu.Unlock()
	dag, exists := f.dagEntities[name]
	return dag, exists
}

func (f *flow) RunDAG(ctx context.Context, dagName string, runID string, logicalTime time.Time, params types.Data) error {
	if !f.running.Load() {
		return errors.MethodNotAllowedf("not running")
	}
	if runID == "" {
		return errors.BadRequestf("run id is empty")
	}
	dag, exists := f.getDAG(dagName)
	if !exists {
		return errors.NotFoundf("DAG: %s", dagName)
	}
	if f.hasExecutePlan(runID) {
		return errors.AlreadyExistsf("run id: %s", runID)
	}
	stored, err := f.hasRunState(ctx, runID)
	if err != nil {
		return errors.Trace(err)
	}
	if stored {
		return errors.AlreadyExistsf("run id: %s", runID)
	}
	if params == nil {
		params = types.Data{}
	}

	plan := dag.plan()
	r, err := newContextRunner(f.ctx, &f.flowExecute, runID, dag, newDAGRuntime(plan), logicalTime, utils.CloneMap(params))
	if err != nil {
		return errors.Trace(err)
	}

	err = f.startExecutePlan(r, func() error {
		if err := f.savePlan(ctx, runID, plan); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(r.saveContext(ctx))
	})
	if err != nil {
		if !errors.Is(err, errors.AlreadyExists) {
			if lerr := f.removePlan(context.Background(), runID); lerr != nil {
				err = errors.Wrapf(err, lerr, "remove plan %s failed after launch DAG", runID)
			}
		}
		return errors.Trace(err)
	}

	log.Infof("run %s of DAG %s scheduled for %s", runID, dagName, logicalTime.Format(time.RFC3339))
	return nil
}

func (f *flow) WaitRun(ctx context.Context, runID string) (*types.RunStatus, error) {
	r := f.batchRunner.get(runID)
	if r == nil {
		state, err := f.loadRunState(ctx, runID)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if !state.Status.IsTerminal() {
			return nil, errors.NotFoundf("active run: %s", runID)
		}
		return state.export(), nil
	}

	for {
		if !f.opts.AutoStart {
			if err := f.RunOnce(); err != nil {
				return nil, errors.Trace(err)
			}
		}
		select {
		case <-r.waitCh():
			return r.status(), nil
		case <-ctx.Done():
			return nil, errors.Trace(ctx.Err())
		case <-time.After(f.opts.PollInterval):
		}
	}
}

func (f *flow) Close(ctx context.Context) error {
	if !f.running.CompareAndSwap(true, false) {
		return nil
	}

	if f.stopCh != nil {
		close(f.stopCh)
		<-f.exitCh
	}

	err := f.batchRunner.stopWait(ctx)
	f.cancel()
	return errors.Trace(err)
}

func (f *flow) RunOnce() error {
	return f.runOnce()
}
