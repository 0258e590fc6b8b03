package types

// DAG is the graph assembler handed to a DAGHandler at registration time.
// Edge(from, to) means `from` must succeed before `to` may start.
type DAG interface {
	Task(name string, task Runnable, options ...TaskOption) error
	Edge(from, to string) error

	Roots() []string
	Leaves() []string
	Upstream(name string) []string
	TopologicalOrder() ([]string, error)
}

type DAGHandler func(dag DAG) error
