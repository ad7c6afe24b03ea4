package tunnel

import "time"

const maxRetryDelay = 60 * time.Second

// RetryDelay returns the reconnect backoff after attempt consecutive
// failures: 3, 6, 12, 24, 48, then 60 seconds flat.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := attempt - 1
	if exp > 5 {
		exp = 5
	}
	d := time.Duration(3*(1<<exp)) * time.Second
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}
