package worker

import (
	"math/rand"
	"testing"
	"time"

	"github.com/smallbiznis/taxbridge/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestExponentialDelayDoublesFromBase(t *testing.T) {
	base := 2 * time.Second
	cap := 5 * time.Minute

	assert.Equal(t, 2*time.Second, exponentialDelay(base, cap, 1))
	assert.Equal(t, 4*time.Second, exponentialDelay(base, cap, 2))
	assert.Equal(t, 8*time.Second, exponentialDelay(base, cap, 3))
	assert.Equal(t, 16*time.Second, exponentialDelay(base, cap, 4))
}

func TestExponentialDelayIsCapped(t *testing.T) {
	base := 2 * time.Second
	cap := 10 * time.Second

	assert.Equal(t, 10*time.Second, exponentialDelay(base, cap, 4))
	assert.Equal(t, 10*time.Second, exponentialDelay(base, cap, 30))
}

func TestExponentialDelayClampsAttemptFloor(t *testing.T) {
	base := 2 * time.Second
	cap := time.Minute

	assert.Equal(t, base, exponentialDelay(base, cap, 0))
	assert.Equal(t, base, exponentialDelay(base, cap, -3))
}

func TestNextDelayJitterStaysInWindow(t *testing.T) {
	w := &Worker{rng: rand.New(rand.NewSource(1))}
	policy := config.Policy{
		BackoffBase: 2 * time.Second,
		BackoffCap:  5 * time.Minute,
	}

	for attempt := 1; attempt <= 8; attempt++ {
		full := exponentialDelay(policy.BackoffBase, policy.BackoffCap, attempt)
		for i := 0; i < 50; i++ {
			got := w.nextDelay(policy, attempt)
			assert.GreaterOrEqual(t, got, full/2, "attempt %d", attempt)
			assert.Less(t, got, full, "attempt %d", attempt)
		}
	}
}
