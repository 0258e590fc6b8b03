package mem

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestMemStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	assert.Nil(t, s.Set(ctx, "/run_state/", "run-1", []byte("a")))
	assert.Nil(t, s.Set(ctx, "/run_state/", "run-2", []byte("b")))
	assert.Nil(t, s.Set(ctx, "/dag/", "run-1", []byte("plan")))

	v, err := s.Get(ctx, "/run_state/", "run-1")
	assert.Nil(t, err)
	assert.Equal(t, "a", string(v))

	keys := []string{}
	assert.Nil(t, s.List(ctx, "/run_state/", func(key string) bool {
		keys = append(keys, key)
		return true
	}))
	assert.Equal(t, []string{"run-1", "run-2"}, keys)

	first := []string{}
	assert.Nil(t, s.List(ctx, "/run_state/", func(key string) bool {
		first = append(first, key)
		return false
	}))
	assert.Equal(t, []string{"run-1"}, first)

	// values are copied in and out
	v[0] = 'x'
	v, _ = s.Get(ctx, "/run_state/", "run-1")
	assert.Equal(t, "a", string(v))
	assert.Contains(t, s.(interface{ String() string }).String(), "/dag/run-1: plan")

	assert.Nil(t, s.Remove(ctx, "/run_state/", "run-1"))
	v, err = s.Get(ctx, "/run_state/", "run-1")
	assert.Nil(t, err)
	assert.Nil(t, v)
}

func TestMemStoreErrHandler(t *testing.T) {
	s := NewMemStoreWithErrHandler(func() error {
		return errors.New("disk full")
	})
	assert.NotNil(t, s.Set(context.Background(), "/run_state/", "run-1", []byte("a")))
}
