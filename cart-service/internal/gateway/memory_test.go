package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGateway_QueryStock(t *testing.T) {
	m := NewMemoryGateway()
	m.SetStock("a", 5)
	m.SetStock("b", 0)

	stock, err := m.QueryStock(context.Background(), []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 5, "b": 0}, stock)
}

func TestParseSeed(t *testing.T) {
	stocks, err := ParseSeed(" a=3, b = 0 ,,")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 3, "b": 0}, stocks)

	stocks, err = ParseSeed("")
	require.NoError(t, err)
	assert.Empty(t, stocks)

	_, err = ParseSeed("a")
	assert.Error(t, err)
	_, err = ParseSeed("a=-1")
	assert.Error(t, err)
	_, err = ParseSeed("=2")
	assert.Error(t, err)
}
