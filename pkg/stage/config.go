package stage

import "time"

// DefaultPollInterval is how often a running command is checked for timeout
// and cancellation
const DefaultPollInterval = 100 * time.Millisecond

// Config tunes the runner's timing. The zero value uses the defaults.
type Config struct {
	PollInterval time.Duration
	// Backoff returns the wait after failed attempt n (counted from 0)
	Backoff func(attempt int) time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Backoff == nil {
		c.Backoff = ExponentialBackoff(time.Second)
	}
	return c
}

// ExponentialBackoff returns base * 2^attempt
func ExponentialBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		return base << uint(attempt)
	}
}
