package channel

import "time"

// backoffDelay returns the reconnect delay for the given consecutive failure
// count: initial for the first failure, doubling per failure, capped at max.
// The caller resets its failure count to zero on any successful connect,
// which resets the schedule to initial.
func backoffDelay(failures int, initial, max time.Duration) time.Duration {
	if failures <= 1 {
		return initial
	}
	d := initial
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
