package runtime

import (
	"crypto/sha256"
	"fmt"

	"github.com/begmaroman/go-dag"
	"github.com/juju/errors"

	"github.com/warriorguo/etlflow/types"
	"github.com/warriorguo/etlflow/utils"
)

var (
	_ types.DAG = &dagEntity{}
)

type taskVertex struct {
	name     string
	runnable types.Runnable
	options  types.TaskOptions
}

func (v *taskVertex) ID() string {
	return v.name
}

type dagEntity struct {
	dagExecutePlan

	graph    *dag.DAG[*taskVertex]
	vertex   map[string]*taskVertex
	defaults types.TaskOptions
}

// hashVertex keys vertices by task name, which is unique within a DAG.
func hashVertex(v *taskVertex) dag.VHash {
	return sha256.Sum256([]byte(v.name))
}

func newDAGEntity(name string, defaults types.TaskOptions) *dagEntity {
	graph := dag.NewDAG[*taskVertex]()
	graph.Options(dag.Options[*taskVertex]{VertexHashFunc: hashVertex})

	return &dagEntity{
		dagExecutePlan: newDAGExecutePlan(name),
		graph:          graph,
		vertex:         make(map[string]*taskVertex),
		defaults:       defaults,
	}
}

func (de *dagEntity) Task(name string, task types.Runnable, options ...types.TaskOption) error {
	if name == "" {
		return errors.BadRequestf("task name of DAG %s is empty", de.Name)
	}
	if task == nil {
		return errors.BadRequestf("task:%s runnable is nil", name)
	}
	if de.hasTask(name) {
		return errors.AlreadyExistsf("task: %s", name)
	}

	v := &taskVertex{name: name, runnable: task, options: de.defaults}
	for _, opt := range options {
		opt(&v.options)
	}
	if v.options.Retries < 0 {
		return errors.NotValidf("task:%s retries %d", name, v.options.Retries)
	}

	if err := de.graph.AddVertexByID(name, v); err != nil {
		return errors.Annotatef(err, "add task %s", name)
	}
	de.vertex[name] = v
	de.Tasks[name] = &taskInfo{
		Kind:       task.Kind(),
		Retries:    v.options.Retries,
		RetryDelay: v.options.RetryDelay,
		Timeout:    v.options.Timeout,
	}
	return nil
}

func (de *dagEntity) Edge(from, to string) error {
	if !de.hasTask(from) {
		return errors.NotFoundf("from: %v", from)
	}
	if !de.hasTask(to) {
		return errors.NotFoundf("to: %v", to)
	}
	if de.hasLink(from, to) {
		return errors.AlreadyExistsf("from %s to %s", from, to)
	}

	if err := de.graph.AddEdge(from, to); err != nil {
		var loop dag.EdgeLoopError
		var self dag.SrcDstEqualError
		if errors.As(err, &loop) || errors.As(err, &self) {
			return errors.NewForbidden(err, fmt.Sprintf("link %s -> %s", from, to))
		}
		return errors.Annotatef(err, "link %s -> %s", from, to)
	}
	de.addLink(from, to)
	return nil
}

func (de *dagEntity) Roots() []string {
	return utils.SortedKeys(de.graph.GetRoots())
}

func (de *dagEntity) Leaves() []string {
	return utils.SortedKeys(de.graph.GetLeaves())
}

func (de *dagEntity) Upstream(name string) []string {
	parents, err := de.graph.GetParents(name)
	if err != nil {
		return nil
	}
	return utils.SortedKeys(parents)
}

func (de *dagEntity) TopologicalOrder() ([]string, error) {
	return de.topologicalOrder()
}

func (de *dagEntity) plan() *dagExecutePlan {
	return &de.dagExecutePlan
}
