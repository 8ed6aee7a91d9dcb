package retry

import "time"

const (
	// DefaultMaxAttempts is the default number of upstream calls per request.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the base delay for exponential backoff.
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultMaxDelay caps a single backoff wait.
	DefaultMaxDelay = 10 * time.Second
)

// BackoffFunc returns the wait before the attempt following the given one.
type BackoffFunc func(attempt int) time.Duration

// Policy bounds the orchestrator. Attempts are numbered from 0.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
}

// DefaultPolicy returns 3 attempts with 500ms, 1s backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     ExponentialBackoff(DefaultBaseDelay, DefaultMaxDelay),
	}
}

// ExponentialBackoff doubles the delay per attempt: base, 2*base, 4*base...
// capped at max. The result is non-decreasing in attempt.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		// Past 30 doublings every sane base already exceeds max.
		if attempt > 30 {
			return max
		}
		delay := base * time.Duration(1<<uint(attempt))
		if delay > max || delay <= 0 {
			delay = max
		}
		return delay
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Backoff == nil {
		p.Backoff = ExponentialBackoff(DefaultBaseDelay, DefaultMaxDelay)
	}
	return p
}
