package types

import (
	"context"
	"time"
)

type Engine interface {
	RegisterDAG(name string, handler DAGHandler) error
	GetDAG(name string) (DAG, bool)
	/**
	 * RenderDAG will return the DOT string that generate by the DAG given the name.
	 * the name is the same as RegisterDAG parameter.
	 */
	RenderDAG(name string) (string, error)

	ListDAGNames() ([]string, error)

	/**
	 * RunDAG schedules one run of the DAG for the given logical time.
	 * A second active run of the same DAG is refused while
	 * EngineOptions.MaxActiveRuns is reached.
	 */
	RunDAG(ctx context.Context, dagName string, runID string, logicalTime time.Time, params Data) error

	GetRunStatus(ctx context.Context, runID string) (*RunStatus, error)
	RenderRunStatus(ctx context.Context, runID string) (string, error)
	/**
	 * WaitRun blocks until the run reaches a terminal status or ctx is done.
	 * When AutoStart is disabled WaitRun drives RunOnce itself.
	 */
	WaitRun(ctx context.Context, runID string) (*RunStatus, error)
	TerminateRun(ctx context.Context, runID string) error

	/**
	 * close the engine, waits for dispatched tasks and persists the state
	 * of unfinished runs so ReloadRuns can resume them.
	 */
	Close(ctx context.Context) error
	/**
	 * caller self invoking RunOnce, EngineOptions.AutoStart should be false.
	 */
	RunOnce() error
	ReloadRuns(ctx context.Context) (map[string]error, error)
}

type RunStatus struct {
	RunID       string
	DAGName     string
	LogicalTime time.Time
	Status      StatusType
	LastError   string
	StartTime   time.Time
	EndTime     time.Time

	Tasks map[string]*TaskState
}

// Failed returns the names of the tasks that failed on their own.
func (r *RunStatus) Failed() []string {
	failed := make([]string, 0)
	for name, task := range r.Tasks {
		if task.Status == Failed {
			failed = append(failed, name)
		}
	}
	return failed
}
