package syncer

import "time"

// base × 2^(failures-1), capped. The shift is guarded so a connection
// that has been failing for days can't overflow into a negative delay.
func backoffDelay(base, max time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
