// Package resilience provides the fault taxonomy and the retry controller
// that drives scan attempts. Every failure is classified into a named kind
// before any retry decision is made; the controller is an explicit state
// machine, not a catch-and-loop.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/shelfmetrics/rank-cli/internal/model"
)

// Fault is an error carrying its classification. All failures crossing the
// pipeline boundary are Faults; the kind decides retryability and the error
// code surfaced to the caller.
type Fault struct {
	Kind model.ErrorKind
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return string(f.Kind) + ": " + f.Err.Error()
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// NewFault wraps err under the given kind.
func NewFault(kind model.ErrorKind, err error) *Fault {
	return &Fault{Kind: kind, Err: err}
}

// Faultf builds a fault from a formatted message.
func Faultf(kind model.ErrorKind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies an arbitrary error into a fault kind. Explicit Faults
// keep their kind; context expiry and network timeouts are deadline
// exhaustion; connection drops are treated as blocking, since a storefront
// that cuts the connection mid-scan is refusing the client.
func KindOf(err error) model.ErrorKind {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ErrTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return model.ErrBotBlocked
	}
	return model.ErrUnknown
}

// AsFault returns err as a Fault, classifying it first when needed.
func AsFault(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: KindOf(err), Err: err}
}

// RetryPolicy decides which fault kinds warrant another attempt and how
// attempts are spaced.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// A value of 1 means no retries.
	MaxAttempts int

	// BaseBackoff seeds the exponential delay schedule.
	BaseBackoff time.Duration

	// MaxBackoff caps each computed delay, jitter included.
	MaxBackoff time.Duration

	// RetryLaunchFailures opts renderer launch failures into the retryable
	// set. Off by default: a browser that will not start usually will not
	// start on the next try either.
	RetryLaunchFailures bool

	// Retryable overrides the default retryable kinds when non-nil.
	Retryable map[model.ErrorKind]bool
}

// DefaultRetryPolicy matches the stock scan configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  8 * time.Second,
	}
}

// ShouldRetry reports whether a fault of the given kind is worth another
// attempt under this policy. Input faults never retry: the request will be
// exactly as malformed next time. A target that was scanned and not found
// is a terminal answer, not a failure.
func (p RetryPolicy) ShouldRetry(kind model.ErrorKind) bool {
	if p.Retryable != nil {
		return p.Retryable[kind]
	}
	switch kind {
	case model.ErrBotBlocked, model.ErrTimeout, model.ErrParseFailed:
		return true
	case model.ErrRendererLaunchFailed:
		return p.RetryLaunchFailures
	default:
		return false
	}
}
