package command

import (
	"fmt"
	"time"

	"l7agent/pkg/requester"
)

// Result is one item reported back to the controller. The set of
// implementations is closed: *RequestResult and *SingleResult.
type Result interface {
	isResult()
}

// RequestResult carries the status counters of the agent
type RequestResult struct {
	Stats     requester.Snapshot
	Timestamp time.Time
}

// SingleResult is the outcome of a single request command
type SingleResult struct {
	Code      uint32
	Content   string
	Timestamp time.Time
}

func (*RequestResult) isResult() {}
func (*SingleResult) isResult()  {}

// Status is the state of the executor. The set of implementations is closed:
// Idle, Executing and Waiting.
type Status interface {
	// RunID returns the active run, if any
	RunID() (uint64, bool)
	isStatus()
}

// Idle means no run is alive
type Idle struct{}

// Executing means the workers of a run are alive
type Executing struct {
	ID uint64
}

// Waiting means a run is scheduled to start at Until
type Waiting struct {
	ID    uint64
	Until time.Time
}

func (Idle) RunID() (uint64, bool)        { return 0, false }
func (s Executing) RunID() (uint64, bool) { return s.ID, true }
func (s Waiting) RunID() (uint64, bool)   { return s.ID, true }

func (Idle) isStatus()      {}
func (Executing) isStatus() {}
func (Waiting) isStatus()   {}

// StatusName renders a status for logs and the status API
func StatusName(s Status) string {
	switch s := s.(type) {
	case Idle:
		return "idle"
	case Executing:
		return "executing"
	case Waiting:
		return "waiting"
	default:
		panic(fmt.Sprintf("unknown status %T", s))
	}
}
