package scheduler

import "time"

// Backoff returns min(base * 2^retryCount, ceiling). retryCount is the number
// of retries already performed, so the first retry waits base.
func Backoff(base, ceiling time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= ceiling || d <= 0 {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
