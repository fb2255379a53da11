package rpcwire

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

const (
	retryAttempts    = 5
	retryFactor      = 2.0
	retryMinDuration = 50 * time.Millisecond
)

// Retrier applies a bounded exponential backoff to rpcwire operations, per
// SPEC_FULL §7 ("only rpcwire read/write to the wrapper process retries"): a transient
// Unix-socket hiccup (the wrapper process briefly unavailable between connections)
// shouldn't abort the whole build, but a wrapper that's gone for good shouldn't hang
// it forever either. Grounded on the same shape as
// VictoriaMetrics-VictoriaMetrics/app/vmctl/backoff.Backoff.Retry.
type Retrier struct {
	attempts    int
	factor      float64
	minDuration time.Duration
	log         *zap.Logger
}

// NewRetrier returns a Retrier with capsentry's default bounds.
func NewRetrier(log *zap.Logger) *Retrier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retrier{attempts: retryAttempts, factor: retryFactor, minDuration: retryMinDuration, log: log}
}

// Do runs fn up to r.attempts times in total, waiting with exponential backoff after
// each failed attempt. It gives up immediately if ctx is done.
func (r *Retrier) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < r.attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		r.log.Warn("rpcwire operation failed, retrying", zap.Error(lastErr), zap.Int("attempt", i+1))
		backoff := float64(r.minDuration) * math.Pow(r.factor, float64(i))
		t := time.NewTimer(time.Duration(backoff))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return fmt.Errorf("rpcwire: operation failed after %d attempts: %w", r.attempts, lastErr)
}
