package runtime

import (
	"slices"
	"time"

	"github.com/juju/errors"

	"github.com/warriorguo/etlflow/types"
	"github.com/warriorguo/etlflow/utils"
)

const (
	DAGPlanPath = "/dag/"
)

type taskInfo struct {
	Kind       types.TaskKind `json:",omitempty"`
	Retries    int
	RetryDelay time.Duration `json:",omitempty"`
	Timeout    time.Duration `json:",omitempty"`
}

/**
 * dagExecutePlan structure support storeable, a copy of it is saved with
 * every run so that the run can be rendered and resumed on its own.
 */
type dagExecutePlan struct {
	Name string `json:",omitempty"`

	Tasks map[string]*taskInfo `json:",omitempty"`
	/**
	 * Links store relationship of each task
	 * if 2 tasks have a link `a -> b`
	 * then in this map `a` would be Key and `b` would be one of the Value
	 */
	Links map[string][]string `json:",omitempty"`
	Order []string            `json:",omitempty"`
}

func newDAGExecutePlan(name string) dagExecutePlan {
	return dagExecutePlan{
		Name:  name,
		Tasks: make(map[string]*taskInfo),
		Links: make(map[string][]string),
	}
}

func (dt *dagExecutePlan) hasTask(name string) bool {
	_, exists := dt.Tasks[name]
	return exists
}

func (dt *dagExecutePlan) hasLink(from, to string) bool {
	return slices.Contains(dt.Links[from], to)
}

func (dt *dagExecutePlan) addLink(from, to string) {
	dt.Links[from] = append(dt.Links[from], to)
	slices.Sort(dt.Links[from])
}

func (dt *dagExecutePlan) downstream(name string) []string {
	return dt.Links[name]
}

func (dt *dagExecutePlan) upstream(name string) []string {
	upstream := make([]string, 0)
	for from, links := range dt.Links {
		if slices.Contains(links, name) {
			upstream = append(upstream, from)
		}
	}
	slices.Sort(upstream)
	return upstream
}

// descendants returns every task that transitively depends on name.
func (dt *dagExecutePlan) descendants(name string) []string {
	visited := map[string]bool{}
	queue := slices.Clone(dt.Links[name])
	for len(queue) > 0 {
		vertex := queue[0]
		queue = queue[1:]
		if visited[vertex] {
			continue
		}
		visited[vertex] = true
		queue = append(queue, dt.Links[vertex]...)
	}
	return utils.SortedKeys(visited)
}

// topologicalOrder is Kahn's algorithm, ties broken by task name so that two
// plans of the same graph always agree.
func (dt *dagExecutePlan) topologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(dt.Tasks))
	for name := range dt.Tasks {
		inDegree[name] = 0
	}
	for from, links := range dt.Links {
		if !dt.hasTask(from) {
			return nil, errors.NotFoundf("task %s of DAG %s", from, dt.Name)
		}
		for _, to := range links {
			if !dt.hasTask(to) {
				return nil, errors.NotFoundf("task %s of DAG %s", to, dt.Name)
			}
			inDegree[to]++
		}
	}

	ready := make([]string, 0)
	for name, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}
	slices.Sort(ready)

	order := make([]string, 0, len(dt.Tasks))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		for _, to := range dt.Links[name] {
			if inDegree[to]--; inDegree[to] == 0 {
				ready = append(ready, to)
			}
		}
		slices.Sort(ready)
	}

	if len(order) != len(dt.Tasks) {
		return nil, errors.Forbiddenf("DAG %s has a cycle", dt.Name)
	}
	return order, nil
}

// validate checks the plan can be scheduled and fixes its order.
func (dt *dagExecutePlan) validate() error {
	if len(dt.Tasks) == 0 {
		return errors.NotValidf("DAG %s has no task", dt.Name)
	}
	order, err := dt.topologicalOrder()
	if err != nil {
		return errors.Trace(err)
	}
	dt.Order = order
	return nil
}
