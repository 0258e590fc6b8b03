package types

import (
	"github.com/spf13/cast"
)

// Data holds the parameters of a run. Values come from the CLI, the API or
// the scheduler and are persisted with the run state, so they stay plain
// JSON values: getters convert instead of asserting.
type Data map[string]any

func (d Data) Get(key string) (any, bool) {
	v, exists := d[key]
	return v, exists
}

func (d Data) GetString(key string) (string, bool) {
	v, exists := d.Get(key)
	return cast.ToString(v), exists
}

func (d Data) GetInt(key string) (int, bool) {
	v, exists := d.Get(key)
	return cast.ToInt(v), exists
}

func (d Data) Set(key string, value any) {
	d[key] = value
}
