package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynamicLimiter_DelegatesToInitial(t *testing.T) {
	initial := &stubLimiter{decision: &Decision{Allowed: true, Limit: 5}}
	d := NewDynamicLimiter(initial)

	got, err := d.Check(context.Background(), "client")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Limit)
	assert.Equal(t, 1, initial.calls)
}

func TestDynamicLimiter_SwapTakesEffect(t *testing.T) {
	initial := &stubLimiter{decision: &Decision{Allowed: true, Limit: 5}}
	replacement := &stubLimiter{decision: &Decision{Allowed: false, Limit: 10}}

	d := NewDynamicLimiter(initial)
	prev := d.Swap(replacement)
	assert.Same(t, initial, prev, "Swap hands back the replaced limiter so the caller can release it")

	got, err := d.Check(context.Background(), "client")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Limit)
	assert.Equal(t, 0, initial.calls, "checks after the swap must not reach the old limiter")
	assert.Equal(t, 1, replacement.calls)
}
