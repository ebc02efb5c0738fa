package reconnect

import (
	"fmt"
	"time"
)

// Schedule is a non-decreasing table of backoff delays indexed by the
// number of consecutive connect failures.
type Schedule []time.Duration

// DefaultSchedule grows roughly like the Fibonacci sequence and caps at 233s.
var DefaultSchedule = Schedule{
	0,
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
	8 * time.Second,
	13 * time.Second,
	21 * time.Second,
	34 * time.Second,
	55 * time.Second,
	89 * time.Second,
	144 * time.Second,
	233 * time.Second,
}

// Delay returns the delay before the attempt following n failures.
func (s Schedule) Delay(n int) time.Duration {
	if len(s) == 0 {
		return 0
	}
	if n < 0 {
		n = 0
	}
	if n > s.Cap() {
		n = s.Cap()
	}
	return s[n]
}

// Cap is the largest meaningful failure count.
func (s Schedule) Cap() int {
	if len(s) == 0 {
		return 0
	}
	return len(s) - 1
}

// Validate rejects negative or decreasing tables.
func (s Schedule) Validate() error {
	var prev time.Duration
	for i, d := range s {
		if d < 0 {
			return fmt.Errorf("backoff[%d]: negative delay %s", i, d)
		}
		if d < prev {
			return fmt.Errorf("backoff[%d]: %s is shorter than %s", i, d, prev)
		}
		prev = d
	}
	return nil
}
