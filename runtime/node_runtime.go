package runtime

import (
	"context"
	"fmt"

	"github.com/juju/errors"
)

// nodeRuntime runs single attempts of one task.
type nodeRuntime struct {
	vertex *taskVertex
}

func newNodeRuntime(vertex *taskVertex) *nodeRuntime {
	return &nodeRuntime{vertex: vertex}
}

func (n *nodeRuntime) runHandler(tc *taskContext) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = errors.Errorf("panic on %s: %v", n.vertex.name, r)
		}
	}()
	return n.vertex.runnable.Execute(tc)
}

// runOnce executes one attempt. A timeout cancels the attempt's context and
// the attempt still has to return before a retry may start, so tasks must
// honour ctx to be stopped in time.
func (n *nodeRuntime) runOnce(tc *taskContext) error {
	timeout := n.vertex.options.Timeout
	if timeout <= 0 {
		return n.runHandler(tc)
	}

	ctx, cancel := context.WithTimeout(tc.Context, timeout)
	defer cancel()
	tc.Context = ctx

	err := n.runHandler(tc)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.NewTimeout(err, fmt.Sprintf("task %s after %v", n.vertex.name, timeout))
	}
	return err
}
