package errors

import (
	"math"
	"time"
)

// ExponentialBackoff calculates the delay before retry attempt n
// (1-based): base * 2^(n-1), capped at maxDelay.
func ExponentialBackoff(attempt int, baseDelay time.Duration, maxDelay time.Duration) time.Duration {
	if attempt <= 0 {
		return baseDelay
	}

	delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
