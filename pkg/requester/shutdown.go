package requester

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	// ErrTimeLimitReached is the shutdown reason used by duration timers
	ErrTimeLimitReached = errors.New("time limit reached")
	// ErrStopRequested is the shutdown reason used for explicit stops
	ErrStopRequested = errors.New("stop requested")
)

// Shutdown is a write-once cancellation flag shared by every worker of a run.
// Any number of goroutines may wait on Done; Trigger may be called any number
// of times and only the first reason is kept.
type Shutdown struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewShutdown creates a coordinator that also fires when parent is cancelled
func NewShutdown(parent context.Context) *Shutdown {
	ctx, cancel := context.WithCancelCause(parent)
	return &Shutdown{ctx: ctx, cancel: cancel}
}

// Trigger requests shutdown
func (s *Shutdown) Trigger(reason error) {
	if reason == nil {
		reason = ErrStopRequested
	}
	s.cancel(reason)
}

// Done returns a channel closed once shutdown was requested
func (s *Shutdown) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Triggered reports whether shutdown was requested, without blocking
func (s *Shutdown) Triggered() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}

// Reason returns the first reason passed to Trigger, or nil
func (s *Shutdown) Reason() error {
	if !s.Triggered() {
		return nil
	}
	return context.Cause(s.ctx)
}

// Context returns a context cancelled on shutdown. Requests bound to it unwind
// as soon as shutdown is triggered.
func (s *Shutdown) Context() context.Context {
	return s.ctx
}

// AfterDuration triggers shutdown once d has elapsed on clk, unless shutdown
// happens first. The returned channel is closed when the timer goroutine exits.
func (s *Shutdown) AfterDuration(clk clock.Clock, d time.Duration) <-chan struct{} {
	exited := make(chan struct{})
	timer := clk.Timer(d)
	go func() {
		defer close(exited)
		defer timer.Stop()
		select {
		case <-timer.C:
			s.Trigger(ErrTimeLimitReached)
		case <-s.Done():
		}
	}()
	return exited
}
