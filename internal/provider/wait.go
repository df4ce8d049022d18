package provider

import (
	"context"
	"errors"
	"time"
)

// ErrWaitTimeout is returned when a job did not reach a terminal state within
// the allotted window. It is distinct from a provider-reported failure: the
// job may still complete later and be picked up by polling or callback.
var ErrWaitTimeout = errors.New("provider: wait timed out")

// Wait polls the gateway until the job reaches a terminal state, the window
// expires, or the context is cancelled. Transient query errors are retried on
// the next tick.
func Wait(ctx context.Context, gw Gateway, jobID string, interval, maxWait time.Duration) (*JobStatus, error) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 5 * time.Minute
	}
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		status, err := gw.QueryStatus(ctx, jobID)
		if err != nil {
			lastErr = err
		} else if status.State.Terminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			if lastErr != nil {
				return nil, errors.Join(ErrWaitTimeout, lastErr)
			}
			return nil, ErrWaitTimeout
		case <-ticker.C:
		}
	}
}
