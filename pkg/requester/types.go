package requester

import (
	"encoding/json"
	"time"
)

// Summary describes one finished run of request workers
type Summary struct {
	RunID       string    `json:"run_id"`
	Target      string    `json:"target"`
	Method      string    `json:"method"`
	Concurrency int       `json:"concurrency"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Duration    float64   `json:"duration"` // in seconds
	Reason      string    `json:"reason,omitempty"`
	Stats       Snapshot  `json:"stats"`
	ActualQPS   float64   `json:"actual_qps"`
}

// NewSummary fills the derived fields of a summary from a final snapshot
func NewSummary(runID string, request *Request, concurrency int, start, end time.Time, reason error, stats Snapshot) *Summary {
	s := &Summary{
		RunID:       runID,
		Method:      request.Method,
		Concurrency: concurrency,
		StartTime:   start,
		EndTime:     end,
		Duration:    end.Sub(start).Seconds(),
		Stats:       stats,
	}
	s.Target = request.Describe()
	if reason != nil {
		s.Reason = reason.Error()
	}
	if s.Duration > 0 {
		s.ActualQPS = float64(stats.Requests) / s.Duration
	}
	return s
}

// MarshalJSON implements json.Marshaler interface for Summary
func (s Summary) MarshalJSON() ([]byte, error) {
	type Alias Summary
	return json.Marshal((Alias)(s))
}

// UnmarshalJSON implements json.Unmarshaler interface for Summary
func (s *Summary) UnmarshalJSON(data []byte) error {
	type Alias Summary
	return json.Unmarshal(data, (*Alias)(s))
}
