package worker

import (
	"time"

	"github.com/smallbiznis/taxbridge/internal/config"
)

// nextDelay computes the wait before retry number attempt+1. The schedule
// doubles from the base, is capped, and carries jitter in [delay/2, delay)
// so a burst of transient failures does not retry in lockstep.
func (w *Worker) nextDelay(policy config.Policy, attempt int) time.Duration {
	delay := exponentialDelay(policy.BackoffBase, policy.BackoffCap, attempt)

	w.rngMu.Lock()
	jittered := delay/2 + time.Duration(w.rng.Int63n(int64(delay/2)))
	w.rngMu.Unlock()
	return jittered
}

func exponentialDelay(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}
