package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/etlflow/store"
	"github.com/warriorguo/etlflow/types"
	"github.com/warriorguo/etlflow/utils"
)

const (
	RecordPath = "/record/"
)

var (
	_ types.Context = &taskContext{}
)

type taskContext struct {
	context.Context

	store store.Store

	runID       string
	dagName     string
	taskName    string
	attempt     int
	logicalTime time.Time
	params      types.Data
	logger      *log.Entry

	record *types.TaskTraceRecord
}

func recordSavePath(runID string) string {
	return RecordPath + runID
}

func recordKey(task string, attempt int) string {
	return fmt.Sprintf("%s.%d", task, attempt)
}

func newTaskContext(ctx context.Context, store store.Store, r *contextRunner, task string, attempt int) *taskContext {
	tc := &taskContext{
		Context:     ctx,
		store:       store,
		runID:       r.runID,
		dagName:     r.dag.Name,
		taskName:    task,
		attempt:     attempt,
		logicalTime: r.logicalTime,
		params:      r.params,
	}
	tc.logger = log.WithFields(log.Fields{
		"run_id":  tc.runID,
		"dag":     tc.dagName,
		"task":    tc.taskName,
		"attempt": tc.attempt,
	})
	return tc
}

func (t *taskContext) GetRunID() string {
	return t.runID
}

func (t *taskContext) GetDAGName() string {
	return t.dagName
}

func (t *taskContext) GetTaskName() string {
	return t.taskName
}

func (t *taskContext) GetAttempt() int {
	return t.attempt
}

func (t *taskContext) LogicalTime() time.Time {
	return t.logicalTime
}

func (t *taskContext) Params() types.Data {
	return t.params
}

func (t *taskContext) Logger() *log.Entry {
	return t.logger
}

func (t *taskContext) startRecord(kind types.TaskKind) {
	t.logger.Debugf("running %s", t.taskName)

	t.record = &types.TaskTraceRecord{
		RunID:     t.runID,
		Task:      t.taskName,
		Kind:      kind,
		Attempt:   t.attempt,
		StartTime: time.Now(),
	}
}

// endRecord saves the trace of the attempt. The record outlives the run
// state and is what the rendered graph of a run is built from.
func (t *taskContext) endRecord(ctx context.Context, err error) {
	t.record.EndTime = time.Now()
	if err != nil {
		t.record.Error = errors.ErrorStack(err)
		t.record.ErrorKind = types.ErrorKind(err)
	}
	if err := t.saveRecord(ctx); err != nil {
		t.logger.Errorf("failed to save record: %v", err)
	}
}

func (t *taskContext) saveRecord(ctx context.Context) error {
	b, err := utils.Serialize(t.record)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(t.store.Set(ctx, recordSavePath(t.runID), recordKey(t.taskName, t.attempt), b))
}
