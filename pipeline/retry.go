package pipeline

import (
	"math"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	"golang.org/x/xerrors"
)

const maxDelay = time.Duration(math.MaxInt64)

// RetryPolicy bounds how long a failing source is retried before it is
// declared dead.
type RetryPolicy struct {
	MaxRetries    int           // attempts before giving up
	RetryDelay    time.Duration // delay before the first retry
	MaxRetryDelay time.Duration // cap for the exponential schedule
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    10,
		RetryDelay:    50 * time.Millisecond,
		MaxRetryDelay: 1 * time.Second,
	}
}

func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return xerrors.Errorf("retry attempts %d: %w", p.MaxRetries, model.ErrInvalidConfig)
	}
	if p.RetryDelay <= 0 {
		return xerrors.Errorf("retry delay %v must be positive: %w", p.RetryDelay, model.ErrInvalidConfig)
	}
	if p.MaxRetryDelay < 0 || (p.MaxRetryDelay > 0 && p.MaxRetryDelay < p.RetryDelay) {
		return xerrors.Errorf("retry max delay %v below delay %v: %w", p.MaxRetryDelay, p.RetryDelay, model.ErrInvalidConfig)
	}
	return nil
}

// Next returns the delay to wait before retry number attempt (1-based) and
// false once the attempt exceeds MaxRetries.
//
// Formula: delay = RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
// Without a cap the delay saturates instead of overflowing.
func (p RetryPolicy) Next(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > p.MaxRetries {
		return 0, false
	}

	delay := p.RetryDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
		if p.MaxRetryDelay > 0 && delay >= p.MaxRetryDelay {
			return p.MaxRetryDelay, true
		}
	}

	if p.MaxRetryDelay > 0 && delay > p.MaxRetryDelay {
		delay = p.MaxRetryDelay
	}
	return delay, true
}

// Schedule lists every delay the policy allows, in order.
func (p RetryPolicy) Schedule() []time.Duration {
	out := []time.Duration{}
	for attempt := 1; ; attempt++ {
		d, ok := p.Next(attempt)
		if !ok {
			return out
		}
		out = append(out, d)
	}
}
