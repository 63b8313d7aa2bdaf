package execution

import (
	"context"
	"log"
	"time"
)

// PollResult reports how a Poll ended. Done is false when the deadline
// passed without the check succeeding.
type PollResult struct {
	Done     bool
	Attempts int
	Elapsed  time.Duration
}

// Poll calls check every interval until it reports done or timeout has
// elapsed. Check errors are logged and polling continues. Reaching the
// deadline is not an error; a cancelled context is.
func Poll(ctx context.Context, interval, timeout time.Duration, check func(context.Context) (bool, error)) (PollResult, error) {
	start := time.Now()
	deadline := start.Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var res PollResult
	for {
		select {
		case <-ctx.Done():
			res.Elapsed = time.Since(start)
			return res, ctx.Err()
		case <-ticker.C:
		}

		res.Attempts++
		done, err := check(ctx)
		if err != nil {
			log.Printf("Execution | Poll check %d failed: %v", res.Attempts, err)
		} else if done {
			res.Done = true
			res.Elapsed = time.Since(start)
			return res, nil
		}
		if !time.Now().Before(deadline) {
			res.Elapsed = time.Since(start)
			return res, nil
		}
	}
}
