package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/shelfmetrics/rank-cli/internal/model"
)

func TestKindOf_FaultPassthrough(t *testing.T) {
	f := Faultf(model.ErrBotBlocked, "challenge interstitial")
	if got := KindOf(f); got != model.ErrBotBlocked {
		t.Errorf("KindOf(fault) = %s, want bot_blocked", got)
	}

	wrapped := fmt.Errorf("attempt 2: %w", f)
	if got := KindOf(wrapped); got != model.ErrBotBlocked {
		t.Errorf("KindOf(wrapped fault) = %s, want bot_blocked", got)
	}
}

func TestKindOf_ContextExpiry(t *testing.T) {
	if got := KindOf(context.DeadlineExceeded); got != model.ErrTimeout {
		t.Errorf("KindOf(deadline) = %s, want timeout", got)
	}
	if got := KindOf(context.Canceled); got != model.ErrTimeout {
		t.Errorf("KindOf(canceled) = %s, want timeout", got)
	}
}

func TestKindOf_ConnectionDrops(t *testing.T) {
	for _, errno := range []error{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		if got := KindOf(fmt.Errorf("navigate: %w", errno)); got != model.ErrBotBlocked {
			t.Errorf("KindOf(%v) = %s, want bot_blocked", errno, got)
		}
	}
}

func TestKindOf_UnknownByDefault(t *testing.T) {
	if got := KindOf(errors.New("mystery")); got != model.ErrUnknown {
		t.Errorf("KindOf = %s, want unknown", got)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
}

func TestFault_ErrorFormat(t *testing.T) {
	f := NewFault(model.ErrParseFailed, errors.New("no result containers"))
	want := "parse_failed: no result containers"
	if f.Error() != want {
		t.Errorf("Error() = %q, want %q", f.Error(), want)
	}

	bare := &Fault{Kind: model.ErrTimeout}
	if bare.Error() != "timeout" {
		t.Errorf("bare Error() = %q, want %q", bare.Error(), "timeout")
	}
}

func TestAsFault_ClassifiesForeignErrors(t *testing.T) {
	f := AsFault(context.DeadlineExceeded)
	if f == nil || f.Kind != model.ErrTimeout {
		t.Fatalf("AsFault(deadline) = %+v, want timeout fault", f)
	}
	if AsFault(nil) != nil {
		t.Error("AsFault(nil) should be nil")
	}

	orig := Faultf(model.ErrInvalidInput, "bad identifier")
	if got := AsFault(orig); got != orig {
		t.Error("AsFault should return the original fault unchanged")
	}
}

func TestRetryPolicy_Defaults(t *testing.T) {
	p := DefaultRetryPolicy()

	retryable := []model.ErrorKind{model.ErrBotBlocked, model.ErrTimeout, model.ErrParseFailed}
	for _, k := range retryable {
		if !p.ShouldRetry(k) {
			t.Errorf("%s should retry by default", k)
		}
	}
	terminal := []model.ErrorKind{model.ErrInvalidInput, model.ErrTargetNotFound, model.ErrRendererLaunchFailed, model.ErrUnknown}
	for _, k := range terminal {
		if p.ShouldRetry(k) {
			t.Errorf("%s should not retry by default", k)
		}
	}
}
