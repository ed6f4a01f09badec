package resilience

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/shelfmetrics/rank-cli/internal/model"
)

// SessionState is the state of a retry controller.
type SessionState int

const (
	// StateIdle is the initial state; no attempt has started.
	StateIdle SessionState = iota
	// StateAttempting means a scan attempt is in flight.
	StateAttempting
	// StateAwaitingBackoff means the last attempt failed retryably and the
	// session is waiting out the computed delay.
	StateAwaitingBackoff
	// StateSucceeded is terminal: an attempt produced a result.
	StateSucceeded
	// StateFailed is terminal: retries are exhausted or the fault was not
	// retryable.
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateAwaitingBackoff:
		return "awaiting-backoff"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrBadTransition is returned when a controller method is called from a
// state that does not permit it. It always indicates a programming error in
// the session loop, never a runtime condition.
var ErrBadTransition = eris.New("retry controller: invalid state transition")

// Decision is the controller's verdict on a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Controller is the explicit state machine deciding whether a failed scan
// attempt runs again. Each attempt owns fresh renderer state and zeroed
// counters; the controller only tracks attempt count, last fault kind, and
// accumulated delay. A controller belongs to a single scan session and is
// not safe for concurrent use.
type Controller struct {
	policy  RetryPolicy
	backoff Backoff

	state      SessionState
	attempt    int // attempts begun, 1-based after the first Begin
	lastKind   model.ErrorKind
	totalDelay time.Duration

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to SessionState)
}

func NewController(policy RetryPolicy) *Controller {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Controller{
		policy:  policy,
		backoff: NewBackoff(policy.BaseBackoff, policy.MaxBackoff),
	}
}

// Begin starts the next attempt and returns its 1-based number. Legal from
// Idle and AwaitingBackoff only.
func (c *Controller) Begin() (int, error) {
	if c.state != StateIdle && c.state != StateAwaitingBackoff {
		return 0, eris.Wrapf(ErrBadTransition, "begin from %s", c.state)
	}
	c.transition(StateAttempting)
	c.attempt++
	return c.attempt, nil
}

// Succeed marks the in-flight attempt as the session's answer.
func (c *Controller) Succeed() error {
	if c.state != StateAttempting {
		return eris.Wrapf(ErrBadTransition, "succeed from %s", c.state)
	}
	c.transition(StateSucceeded)
	return nil
}

// Fail records the in-flight attempt's fault kind and decides what happens
// next: AwaitingBackoff with a computed delay when the kind is retryable
// and attempts remain, Failed otherwise.
func (c *Controller) Fail(kind model.ErrorKind) (Decision, error) {
	if c.state != StateAttempting {
		return Decision{}, eris.Wrapf(ErrBadTransition, "fail from %s", c.state)
	}
	c.lastKind = kind

	if !c.policy.ShouldRetry(kind) || c.attempt >= c.policy.MaxAttempts {
		c.transition(StateFailed)
		return Decision{}, nil
	}

	delay := c.backoff.Delay(c.attempt - 1)
	c.totalDelay += delay
	c.transition(StateAwaitingBackoff)
	return Decision{Retry: true, Delay: delay}, nil
}

// State returns the current controller state.
func (c *Controller) State() SessionState {
	return c.state
}

// Attempts returns the number of attempts begun so far.
func (c *Controller) Attempts() int {
	return c.attempt
}

// Snapshot exports the controller's observable state for logging and run
// records.
func (c *Controller) Snapshot() model.RetrySessionState {
	return model.RetrySessionState{
		Attempt:     c.attempt,
		LastError:   c.lastKind,
		TotalDelay:  c.totalDelay,
		ShouldRetry: c.state == StateAwaitingBackoff,
	}
}

func (c *Controller) transition(to SessionState) {
	from := c.state
	c.state = to
	if c.OnTransition != nil && from != to {
		c.OnTransition(from, to)
	}
}
