package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// dispatchLimiter gates document dispatch and adapts to store pushback.
// A transient store failure halves the admission rate down to a quarter of
// the configured rate; each successful document raises it by 20% back
// toward the configured ceiling.
type dispatchLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	ceiling rate.Limit
	floor   rate.Limit
	current rate.Limit
}

func newDispatchLimiter(perSecond float64, burst int) *dispatchLimiter {
	limit := rate.Limit(perSecond)
	return &dispatchLimiter{
		limiter: rate.NewLimiter(limit, burst),
		ceiling: limit,
		floor:   limit / 4,
		current: limit,
	}
}

// Wait blocks until the next document may dispatch.
func (d *dispatchLimiter) Wait(ctx context.Context) error {
	return d.limiter.Wait(ctx)
}

// OnSuccess nudges the rate back toward the ceiling.
func (d *dispatchLimiter) OnSuccess() {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := d.current * 1.2
	if next > d.ceiling {
		next = d.ceiling
	}
	if next == d.current {
		return
	}
	d.current = next
	d.limiter.SetLimit(next)
}

// OnPushback halves the rate after a store failure.
func (d *dispatchLimiter) OnPushback() {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := d.current * 0.5
	if next < d.floor {
		next = d.floor
	}
	if next == d.current {
		return
	}
	d.current = next
	d.limiter.SetLimit(next)
	zap.L().Named("pipeline").Warn("store pushback, halving dispatch rate",
		zap.Float64("rate", float64(next)))
}

// Rate reports the current admission rate in documents per second.
func (d *dispatchLimiter) Rate() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return float64(d.current)
}
