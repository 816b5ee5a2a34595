package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchLimiter_PushbackHalvesToFloor(t *testing.T) {
	d := newDispatchLimiter(40, 5)
	require.InDelta(t, 40, d.Rate(), 0.001)

	d.OnPushback()
	assert.InDelta(t, 20, d.Rate(), 0.001)
	d.OnPushback()
	assert.InDelta(t, 10, d.Rate(), 0.001)

	// The floor is a quarter of the configured rate.
	d.OnPushback()
	assert.InDelta(t, 10, d.Rate(), 0.001)
}

func TestDispatchLimiter_SuccessRestoresCeiling(t *testing.T) {
	d := newDispatchLimiter(40, 5)
	for i := 0; i < 3; i++ {
		d.OnPushback()
	}
	require.InDelta(t, 10, d.Rate(), 0.001)

	for i := 0; i < 20; i++ {
		d.OnSuccess()
	}
	assert.InDelta(t, 40, d.Rate(), 0.001)

	// Further successes never exceed the configured rate.
	d.OnSuccess()
	assert.InDelta(t, 40, d.Rate(), 0.001)
}

func TestDispatchLimiter_WaitHonorsCancellation(t *testing.T) {
	d := newDispatchLimiter(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, d.Wait(ctx))
}
