package worker

import "time"

// Backoff is the delay before retrying an event that failed after `attempts`
// earlier tries: initial * 2^min(attempts, maxExp), never above ceiling.
func Backoff(attempts int, initial, ceiling time.Duration, maxExp int) time.Duration {
	n := attempts
	if n < 0 {
		n = 0
	}
	if n > maxExp {
		n = maxExp
	}
	if n >= 62 || initial > ceiling>>uint(n) {
		return ceiling
	}
	return initial << uint(n)
}
