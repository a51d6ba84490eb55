package workflow

import (
	"context"
	"errors"
	"time"

	"chorus/internal/services"
)

// pollPolicy controls how long and how often a remote job is polled.
type pollPolicy struct {
	// Interval is the initial delay between polls; it doubles after each
	// inconclusive poll up to Cap.
	Interval time.Duration
	Cap      time.Duration
	// Timeout bounds the whole poll loop. Zero means no deadline.
	Timeout time.Duration

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func (p pollPolicy) withDefaults() pollPolicy {
	if p.Interval <= 0 {
		p.Interval = 5 * time.Second
	}
	if p.Cap < p.Interval {
		p.Cap = p.Interval
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	return p
}

// pollUntil invokes fn repeatedly until it reports done, fails, the context is
// cancelled, or the policy timeout elapses. A timeout surfaces as
// services.ErrTimeout so callers can classify the failure.
func pollUntil(ctx context.Context, policy pollPolicy, operation string, fn func(ctx context.Context) (bool, error)) error {
	policy = policy.withDefaults()

	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	delay := policy.Interval
	for {
		done, err := fn(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return services.Wrap(services.ErrTimeout, "workflow", operation, "poll deadline exceeded", err)
			}
			return err
		}
		if done {
			return nil
		}

		if err := policy.sleep(ctx, delay); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return services.Wrap(services.ErrTimeout, "workflow", operation, "poll deadline exceeded", err)
			}
			return err
		}
		delay *= 2
		if delay > policy.Cap {
			delay = policy.Cap
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
