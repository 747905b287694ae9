package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoffGrowsAndCaps(t *testing.T) {
	backoff := NewExponentialBackoff(100*time.Millisecond, 350*time.Millisecond, 2, 0)

	assert.Equal(t, 100*time.Millisecond, backoff.Next())
	assert.Equal(t, 200*time.Millisecond, backoff.Next())
	assert.Equal(t, 350*time.Millisecond, backoff.Next())
	assert.Equal(t, 350*time.Millisecond, backoff.Next())
	assert.Equal(t, 4, backoff.Attempts())

	backoff.Reset()
	assert.Equal(t, 0, backoff.Attempts())
	assert.Equal(t, 100*time.Millisecond, backoff.Next())
}

func TestExponentialBackoffJitterStaysInRange(t *testing.T) {
	backoff := NewExponentialBackoff(time.Second, time.Minute, 2, 0.1)
	for i := 0; i < 20; i++ {
		backoff.Reset()
		delay := backoff.Next()
		assert.GreaterOrEqual(t, delay, 900*time.Millisecond)
		assert.LessOrEqual(t, delay, 1100*time.Millisecond)
	}
}
