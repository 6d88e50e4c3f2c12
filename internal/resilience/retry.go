package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryOnceDelay is the pause before the single retry of a source-row
// read. Lineage checks retry exactly once so a blip does not get
// recorded as tampering, but a flaky source cannot stall a batch.
const RetryOnceDelay = 250 * time.Millisecond

// RetryOnce executes fn and, if it fails with a transient error,
// retries exactly once after a short delay. Non-transient errors and
// context cancellation return immediately.
func RetryOnce[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	val, err := fn(ctx)
	if err == nil || !IsTransient(err) || ctx.Err() != nil {
		return val, err
	}

	timer := time.NewTimer(RetryOnceDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return val, err
	case <-timer.C:
	}

	return fn(ctx)
}

// RetryLogger logs a skipped item after its retry also failed.
func RetryLogger(component, operation string) func(ref string, err error) {
	return func(ref string, err error) {
		zap.L().Warn("transient failure, skipping after retry",
			zap.String("component", component),
			zap.String("operation", operation),
			zap.String("ref", ref),
			zap.Error(err),
		)
	}
}
