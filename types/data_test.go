package types_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warriorguo/etlflow/types"
)

func TestData(t *testing.T) {
	data := types.Data{}
	data.Set("env", "dev")
	data.Set("limit", "10")

	_, exists := data.Get("missing")
	assert.False(t, exists)

	s, exists := data.GetString("env")
	assert.True(t, exists)
	assert.Equal(t, "dev", s)
	n, exists := data.GetInt("limit")
	assert.True(t, exists)
	assert.Equal(t, 10, n)

	s, exists = data.GetString("missing")
	assert.False(t, exists)
	assert.Equal(t, "", s)
}

func TestDataRoundTrip(t *testing.T) {
	data := types.Data{"limit": 10, "env": "dev"}
	b, err := json.Marshal(data)
	assert.Nil(t, err)

	decoded := types.Data{}
	assert.Nil(t, json.Unmarshal(b, &decoded))
	// numbers come back as float64, getters still convert them
	n, exists := decoded.GetInt("limit")
	assert.True(t, exists)
	assert.Equal(t, 10, n)
}
