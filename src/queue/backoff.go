package queue

import "time"

// Backoff returns the delay before the attempt that follows attempt:
// base * 2^(attempt-1), capped at max. Attempts below 1 get base.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return base
	}
	// 2^30 * base overflows any sane cap.
	if attempt > 30 {
		return max
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max > 0 && (delay > max || delay <= 0) {
		return max
	}
	return delay
}
