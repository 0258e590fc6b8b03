package runtime

import (
	"time"

	"github.com/warriorguo/etlflow/types"
)

const terminatedMessage = "run terminated"

// dagRuntime is the state of one run over its plan. It is not safe for
// concurrent use; the owning contextRunner serializes access.
type dagRuntime struct {
	plan  *dagExecutePlan
	tasks map[string]*types.TaskState

	terminated bool
}

func newDAGRuntime(plan *dagExecutePlan) *dagRuntime {
	rt := &dagRuntime{plan: plan, tasks: make(map[string]*types.TaskState, len(plan.Tasks))}
	for name := range plan.Tasks {
		rt.tasks[name] = &types.TaskState{Status: types.Pending}
	}
	return rt
}

// restoreDAGRuntime rebuilds a run from persisted task states. An attempt
// that was running when the state was saved never reported; it is rerun
// without being charged to the retry budget, unless the run was terminated.
func restoreDAGRuntime(plan *dagExecutePlan, states map[string]*types.TaskState, terminated bool) *dagRuntime {
	rt := newDAGRuntime(plan)
	rt.terminated = terminated
	for name, state := range states {
		if _, exists := rt.tasks[name]; !exists {
			continue
		}
		s := state.Clone()
		if s.Status == types.Running && terminated {
			s.Status = types.Failed
			s.LastError = terminatedMessage
		} else if s.Status == types.Running {
			s.Status = types.Pending
			if s.Attempts > 0 {
				s.Attempts--
			}
		}
		rt.tasks[name] = s
	}
	return rt
}

// ready returns, in topological order, the tasks that may start now: all of
// their upstream tasks succeeded and any retry delay elapsed.
func (d *dagRuntime) ready(now time.Time) []string {
	if d.terminated {
		return nil
	}

	ready := make([]string, 0)
	for _, name := range d.plan.Order {
		state := d.tasks[name]
		switch state.Status {
		case types.Pending:
		case types.Retrying:
			if now.Before(state.NextRunTime) {
				continue
			}
		default:
			continue
		}

		upstreamDone := true
		for _, upstream := range d.plan.upstream(name) {
			if d.tasks[upstream].Status != types.Succeeded {
				upstreamDone = false
				break
			}
		}
		if upstreamDone {
			ready = append(ready, name)
		}
	}
	return ready
}

func (d *dagRuntime) start(name string, now time.Time) *types.TaskState {
	state := d.tasks[name]
	state.Status = types.Running
	state.Attempts++
	state.StartTime = now
	state.EndTime = time.Time{}
	state.NextRunTime = time.Time{}
	return state
}

// finish records the outcome of an attempt. It returns the tasks whose state
// changed, starting with name itself.
func (d *dagRuntime) finish(name string, err error, now time.Time) []string {
	state := d.tasks[name]
	state.EndTime = now

	if err == nil {
		state.Status = types.Succeeded
		state.LastError = ""
		state.ErrorKind = ""
		return []string{name}
	}

	state.LastError = err.Error()
	state.ErrorKind = types.ErrorKind(err)

	info := d.plan.Tasks[name]
	if !d.terminated && state.Attempts <= info.Retries {
		state.Status = types.Retrying
		state.NextRunTime = now.Add(info.RetryDelay)
		return []string{name}
	}

	state.Status = types.Failed
	return append([]string{name}, d.failDownstream(name, now)...)
}

func (d *dagRuntime) failDownstream(name string, now time.Time) []string {
	changed := make([]string, 0)
	for _, descendant := range d.plan.descendants(name) {
		state := d.tasks[descendant]
		if state.Status.IsTerminal() || state.Status == types.Running {
			continue
		}
		state.Status = types.UpstreamFailed
		state.EndTime = now
		changed = append(changed, descendant)
	}
	return changed
}

// terminate fails every task that is not running yet. Running attempts are
// left to finish and will not be retried.
func (d *dagRuntime) terminate(now time.Time) []string {
	d.terminated = true

	changed := make([]string, 0)
	for _, name := range d.plan.Order {
		state := d.tasks[name]
		if state.Status.IsTerminal() || state.Status == types.Running {
			continue
		}
		state.Status = types.Failed
		state.LastError = terminatedMessage
		state.EndTime = now
		changed = append(changed, name)
	}
	return changed
}

func (d *dagRuntime) finished() bool {
	for _, state := range d.tasks {
		if !state.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// status is Running until every task is terminal, then Succeeded only when
// every task succeeded.
func (d *dagRuntime) status() types.StatusType {
	if !d.finished() {
		return types.Running
	}
	for _, state := range d.tasks {
		if state.Status != types.Succeeded {
			return types.Failed
		}
	}
	return types.Succeeded
}

// lastError is the error of the first failed task in topological order.
func (d *dagRuntime) lastError() string {
	for _, name := range d.plan.Order {
		state := d.tasks[name]
		if state.Status == types.Failed {
			return name + ": " + state.LastError
		}
	}
	return ""
}

func (d *dagRuntime) snapshot() map[string]*types.TaskState {
	tasks := make(map[string]*types.TaskState, len(d.tasks))
	for name, state := range d.tasks {
		tasks[name] = state.Clone()
	}
	return tasks
}
