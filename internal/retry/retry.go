// Package retry models bounded fixed-backoff retry as an explicit state
// machine so the policy can be exercised without a broker.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

// State is the lifecycle of one record under the policy.
type State int

const (
	Received State = iota
	Retrying
	Succeeded
	Exhausted
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case Retrying:
		return "retrying"
	case Succeeded:
		return "succeeded"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Decision is what the caller must do after an attempt.
type Decision int

const (
	Done Decision = iota
	Retry
	DeadLetter
)

// Policy is a fixed-delay bounded retry policy.
type Policy struct {
	MaxRetries   int
	Backoff      time.Duration
	NonRetryable func(error) bool
}

// DefaultPolicy retries 3 times with a 1s delay and never retries
// domain.ErrInvalidMessage.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		Backoff:    time.Second,
		NonRetryable: func(err error) bool {
			return errors.Is(err, domain.ErrInvalidMessage)
		},
	}
}

// Tracker holds the retry state of a single record.
type Tracker struct {
	policy   Policy
	attempts int
	state    State
}

// NewTracker starts a tracker in the Received state.
func (p Policy) NewTracker() *Tracker {
	return &Tracker{policy: p, state: Received}
}

// Next records the result of one attempt and returns the decision with the
// delay to wait before the next attempt.
func (t *Tracker) Next(err error) (Decision, time.Duration) {
	t.attempts++

	if err == nil {
		t.state = Succeeded
		return Done, 0
	}

	if t.policy.NonRetryable != nil && t.policy.NonRetryable(err) {
		t.state = Exhausted
		return DeadLetter, 0
	}

	if t.attempts > t.policy.MaxRetries {
		t.state = Exhausted
		return DeadLetter, 0
	}

	t.state = Retrying
	return Retry, t.policy.Backoff
}

// Attempts returns the number of attempts recorded so far.
func (t *Tracker) Attempts() int { return t.attempts }

// State returns the current state.
func (t *Tracker) State() State { return t.state }

// Outcome summarises an Execute run.
type Outcome struct {
	Attempts   int
	Err        error
	DeadLetter bool
	// Aborted is set when ctx ended during a backoff wait. The record must
	// be left unacknowledged for redelivery.
	Aborted bool
}

// Execute runs fn until it succeeds or the policy gives up.
func (p Policy) Execute(ctx context.Context, fn func(context.Context) error) Outcome {
	t := p.NewTracker()

	for {
		err := fn(ctx)
		decision, delay := t.Next(err)

		switch decision {
		case Done:
			return Outcome{Attempts: t.Attempts()}
		case DeadLetter:
			return Outcome{Attempts: t.Attempts(), Err: err, DeadLetter: true}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Outcome{Attempts: t.Attempts(), Err: err, Aborted: true}
		case <-timer.C:
		}
	}
}
