package types

type TaskKind string

const (
	KindMarker        TaskKind = "marker"
	KindStage         TaskKind = "stage"
	KindLoadFact      TaskKind = "load-fact"
	KindLoadDimension TaskKind = "load-dimension"
	KindQualityCheck  TaskKind = "quality-check"
)

// Runnable is a single attempt of a task: one warehouse operation that either
// completes or returns the error that fails the attempt. Tasks hold no run
// state of their own; the engine owns it.
type Runnable interface {
	Kind() TaskKind
	Execute(ctx Context) error
}
