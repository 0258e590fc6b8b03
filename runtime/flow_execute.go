package runtime

import (
	"context"
	"sync/atomic"

	"github.com/juju/errors"

	"github.com/warriorguo/etlflow/store"
	"github.com/warriorguo/etlflow/types"
)

type flowExecute struct {
	ctx    context.Context
	cancel context.CancelFunc

	stopCh  chan struct{}
	exitCh  chan struct{}
	running atomic.Bool

	store  store.Store
	events types.EventPublisher

	batchRunner *batchRunner
}

func (fe *flowExecute) startExecutePlan(r *contextRunner, prepare func() error) error {
	return fe.batchRunner.add(r, prepare)
}

func (fe *flowExecute) hasExecutePlan(runID string) bool {
	return fe.batchRunner.exists(runID)
}

func (fe *flowExecute) runOnce() error {
	return fe.batchRunner.runOnce(fe.ctx)
}

func (fe *flowExecute) isRunningEmpty() bool {
	return fe.batchRunner.size() == 0
}

func (fe *flowExecute) terminateExecutePlan(ctx context.Context, runID string) error {
	cr := fe.batchRunner.get(runID)
	if cr == nil {
		return errors.NotFoundf("active run: %s", runID)
	}
	return cr.terminate(ctx)
}

func (fe *flowExecute) getExecutePlanStatus(ctx context.Context, runID string) (*types.RunStatus, error) {
	if cr := fe.batchRunner.get(runID); cr != nil {
		return cr.status(), nil
	}

	state, err := fe.loadRunState(ctx, runID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return state.export(), nil
}
