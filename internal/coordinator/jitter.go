package coordinator

import (
	"math/rand/v2"
	"time"
)

// randomJitter returns a uniform duration in [0, max).
func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
