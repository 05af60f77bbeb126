package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WithoutEndpoint(t *testing.T) {
	ctx := context.Background()

	p, err := Init(ctx, Config{})
	require.NoError(t, err)

	counter, err := p.Meter("test").Int64Counter("iconograph_test_total")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	assert.NoError(t, p.Shutdown(ctx))
}
