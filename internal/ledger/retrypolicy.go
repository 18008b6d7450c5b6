package ledger

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds how the client retries failed ledger operations.
// MaxRetries is the number of retries after the first attempt, so every
// operation makes at most MaxRetries+1 attempts and always terminates.
type RetryPolicy struct {
	MaxRetries  uint64
	Delay       time.Duration
	Exponential bool
}

// DefaultRetryPolicy retries three times with a one second constant delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Delay: time.Second}
}

func (p RetryPolicy) backoff() retry.Backoff {
	delay := p.Delay
	if delay <= 0 {
		delay = time.Second
	}
	var b retry.Backoff
	if p.Exponential {
		b = retry.NewExponential(delay)
	} else {
		b = retry.NewConstant(delay)
	}
	return retry.WithMaxRetries(p.MaxRetries, b)
}
