package utils

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

type record struct {
	Task    string
	Attempt int
}

func TestSerialize(t *testing.T) {
	b, err := Serialize(&record{"Stage_events", 2})
	assert.Nil(t, err)

	r := &record{}
	assert.Nil(t, Unserialize(b, r))
	assert.Equal(t, "Stage_events", r.Task)
	assert.Equal(t, 2, r.Attempt)

	assert.True(t, errors.Is(Unserialize(nil, r), errors.NotValid))
	assert.NotNil(t, Unserialize([]byte("{"), r))

	_, err = Serialize(make(chan int))
	assert.NotNil(t, err)
}
