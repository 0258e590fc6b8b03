package tasks

import "github.com/warriorguo/etlflow/types"

var (
	_ types.Runnable = Marker{}
)

// Marker does nothing; it gives a graph a single entry or exit point.
type Marker struct{}

func (Marker) Kind() types.TaskKind {
	return types.KindMarker
}

func (Marker) Execute(ctx types.Context) error {
	ctx.Logger().Debug("marker reached")
	return nil
}
