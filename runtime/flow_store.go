package runtime

import (
	"context"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/etlflow/types"
	"github.com/warriorguo/etlflow/utils"
)

func (fe *flowExecute) savePlan(ctx context.Context, runID string, plan *dagExecutePlan) error {
	b, err := utils.Serialize(plan)
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(fe.store.Set(ctx, DAGPlanPath, runID, b))
}

func (fe *flowExecute) removePlan(ctx context.Context, runID string) error {
	return errors.Trace(fe.store.Remove(ctx, DAGPlanPath, runID))
}

func (fe *flowExecute) loadPlan(ctx context.Context, runID string) (*dagExecutePlan, error) {
	b, err := fe.store.Get(ctx, DAGPlanPath, runID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if b == nil {
		return nil, errors.NotFoundf("DAG plan of run: %s", runID)
	}

	plan := &dagExecutePlan{}
	if err := utils.Unserialize(b, plan); err != nil {
		return nil, errors.Trace(err)
	}
	return plan, nil
}

func (fe *flowExecute) loadRunState(ctx context.Context, runID string) (*runState, error) {
	b, err := fe.store.Get(ctx, RunContextPath, runID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if b == nil {
		return nil, errors.NotFoundf("run: %s", runID)
	}

	state := &runState{}
	if err := utils.Unserialize(b, state); err != nil {
		return nil, errors.Trace(err)
	}
	return state, nil
}

func (fe *flowExecute) hasRunState(ctx context.Context, runID string) (bool, error) {
	b, err := fe.store.Get(ctx, RunContextPath, runID)
	if err != nil {
		return false, errors.Trace(err)
	}
	return b != nil, nil
}

// loadRecords returns the last trace record of every task of the run.
func (fe *flowExecute) loadRecords(ctx context.Context, runID string) (map[string]*types.TaskTraceRecord, error) {
	keys := make([]string, 0)
	recordPath := recordSavePath(runID)
	if err := fe.store.List(ctx, recordPath, func(key string) bool {
		keys = append(keys, key)
		return true
	}); err != nil {
		return nil, errors.Trace(err)
	}

	records := make(map[string]*types.TaskTraceRecord)
	for _, key := range keys {
		b, err := fe.store.Get(ctx, recordPath, key)
		if err != nil {
			log.Errorf("load %s %s from store failed: %v", recordPath, key, err)
			continue
		}
		record := &types.TaskTraceRecord{}
		if err := utils.Unserialize(b, record); err != nil {
			log.Errorf("unserialize %s %s from store:%s failed: %v", recordPath, key, string(b), err)
			continue
		}
		if last, exists := records[record.Task]; !exists || last.Attempt < record.Attempt {
			records[record.Task] = record
		}
	}
	return records, nil
}

func (f *flow) ReloadRuns(ctx context.Context) (map[string]error, error) {
	runIDs := make([]string, 0)
	if err := f.store.List(ctx, RunContextPath, func(runID string) bool {
		runIDs = append(runIDs, runID)
		return true
	}); err != nil {
		return nil, errors.Trace(err)
	}

	errs := make(map[string]error)
	for _, runID := range runIDs {
		reloaded, err := f.rerunPlan(ctx, runID)
		if reloaded || err != nil {
			errs[runID] = errors.Trace(err)
		}
	}
	if len(errs) == 0 {
		errs = nil
	}
	return errs, nil
}

// rerunPlan resumes a run that did not finish. Finished runs are left alone.
func (f *flow) rerunPlan(ctx context.Context, runID string) (bool, error) {
	if f.batchRunner.exists(runID) {
		return false, errors.AlreadyExistsf("run already running: %s", runID)
	}

	state, err := f.loadRunState(ctx, runID)
	if err != nil {
		return false, errors.Trace(err)
	}
	if state.Status.IsTerminal() {
		return false, nil
	}

	plan, err := f.loadPlan(ctx, runID)
	if err != nil {
		return false, errors.Trace(err)
	}
	dag, exists := f.getDAG(plan.Name)
	if !exists {
		return false, errors.NotFoundf("DAG %s of run %s", plan.Name, runID)
	}

	rt := restoreDAGRuntime(plan, state.Tasks, state.Terminated)
	r, err := newContextRunner(f.ctx, &f.flowExecute, runID, dag, rt, state.LogicalTime, state.Params)
	if err != nil {
		return false, errors.Trace(err)
	}
	r.startTime = state.StartTime

	if err := f.startExecutePlan(r, func() error {
		return r.saveContext(ctx)
	}); err != nil {
		return false, errors.Trace(err)
	}
	log.Infof("run %s of DAG %s reloaded", runID, plan.Name)
	return true, nil
}
