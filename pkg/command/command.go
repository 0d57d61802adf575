// Package command models the work a controller can schedule on the agent.
package command

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidCommand is returned for commands that cannot be scheduled
var ErrInvalidCommand = errors.New("invalid command")

// Window is the optional scheduling window of a command
type Window struct {
	StartAt      *time.Time
	AbortIfAfter *time.Time
}

// Eligible reports whether a command with this window may start at now.
// Commands with a start time are skipped rather than deferred.
func (w Window) Eligible(now time.Time) bool {
	if w.StartAt != nil {
		return false
	}
	return w.AbortIfAfter == nil || w.AbortIfAfter.After(now)
}

// RemoteCommand is one schedulable unit of work. The set of implementations is
// closed: *RequestCommand and *ShellCommand.
type RemoteCommand interface {
	Schedule() Window
	isRemoteCommand()
}

// ParallelCommands is a batch of commands meant to start together
type ParallelCommands []RemoteCommand

// Eligible returns the commands of the batch that may start at now
func (p ParallelCommands) Eligible(now time.Time) ParallelCommands {
	out := make(ParallelCommands, 0, len(p))
	for _, c := range p {
		if c.Schedule().Eligible(now) {
			out = append(out, c)
		}
	}
	return out
}

// ShellCommand is accepted from the controller but never executed
type ShellCommand struct {
	Window
	Shell   *string
	Command string
	WorkDir *string
	Timeout *time.Duration
}

// Schedule returns the scheduling window
func (c *ShellCommand) Schedule() Window { return c.Window }

func (*ShellCommand) isRemoteCommand() {}

// Describe renders a command for logs
func Describe(c RemoteCommand) string {
	switch c := c.(type) {
	case *RequestCommand:
		kind := "request"
		if c.SingleRequest {
			kind = "single-request"
		}
		return fmt.Sprintf("%s %s %s x%d", kind, c.Method, c.URL, c.ConcurrentCount)
	case *ShellCommand:
		return "shell " + c.Command
	default:
		panic(fmt.Sprintf("unknown command %T", c))
	}
}
