package requester

import (
	"sync/atomic"
	"time"
)

// Statistics aggregates the outcome of every request fired by the workers of
// one agent process. All counters are lock-free and only ever increase.
type Statistics struct {
	requests      atomic.Uint64
	bytes         atomic.Uint64
	status2xx     atomic.Uint64
	status3xx     atomic.Uint64
	status4xx     atomic.Uint64
	status5xx     atomic.Uint64
	other         atomic.Uint64
	drainTimeouts atomic.Uint64
	startTime     time.Time
}

// NewStatistics creates an empty statistics aggregator
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Bucket identifies one of the five mutually exclusive outcome classes
type Bucket int

const (
	Bucket2xx Bucket = iota
	Bucket3xx
	Bucket4xx
	Bucket5xx
	BucketOther
)

// BucketFor classifies an HTTP status code
func BucketFor(code int) Bucket {
	switch {
	case code >= 200 && code <= 299:
		return Bucket2xx
	case code >= 300 && code <= 399:
		return Bucket3xx
	case code >= 400 && code <= 499:
		return Bucket4xx
	case code >= 500 && code <= 599:
		return Bucket5xx
	default:
		return BucketOther
	}
}

// RecordResponse records a response whose headers were received. The status
// bucket reflects the headers; drainTimedOut is counted as a separate event.
func (s *Statistics) RecordResponse(code int, bodyBytes uint64, drainTimedOut bool) {
	s.bucket(BucketFor(code)).Add(1)
	s.bytes.Add(bodyBytes)
	s.requests.Add(1)
	if drainTimedOut {
		s.drainTimeouts.Add(1)
	}
}

// RecordFailure records a send that never produced a response
func (s *Statistics) RecordFailure() {
	s.other.Add(1)
}

func (s *Statistics) bucket(b Bucket) *atomic.Uint64 {
	switch b {
	case Bucket2xx:
		return &s.status2xx
	case Bucket3xx:
		return &s.status3xx
	case Bucket4xx:
		return &s.status4xx
	case Bucket5xx:
		return &s.status5xx
	default:
		return &s.other
	}
}

// Snapshot returns a point-in-time copy of all counters. Counters are loaded
// individually, so a snapshot taken while workers are running may be skewed by
// in-flight increments.
func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		Requests:      s.requests.Load(),
		Bytes:         s.bytes.Load(),
		Status2xx:     s.status2xx.Load(),
		Status3xx:     s.status3xx.Load(),
		Status4xx:     s.status4xx.Load(),
		Status5xx:     s.status5xx.Load(),
		Other:         s.other.Load(),
		DrainTimeouts: s.drainTimeouts.Load(),
		Elapsed:       time.Since(s.startTime),
		Timestamp:     time.Now().UTC(),
	}
}

// Snapshot is a plain copy of the statistics counters
type Snapshot struct {
	Requests      uint64        `json:"total_requests"`
	Bytes         uint64        `json:"network_traffic_bytes"`
	Status2xx     uint64        `json:"status_2xx"`
	Status3xx     uint64        `json:"status_3xx"`
	Status4xx     uint64        `json:"status_4xx"`
	Status5xx     uint64        `json:"status_5xx"`
	Other         uint64        `json:"status_other"`
	DrainTimeouts uint64        `json:"drain_timeouts"`
	Elapsed       time.Duration `json:"elapsed"`
	Timestamp     time.Time     `json:"timestamp"`
}

// BucketTotal returns the sum of all status buckets
func (s Snapshot) BucketTotal() uint64 {
	return s.Status2xx + s.Status3xx + s.Status4xx + s.Status5xx + s.Other
}

// RequestsPerSecond calculates the average throughput since the aggregator
// was created
func (s Snapshot) RequestsPerSecond() float64 {
	if s.Elapsed.Seconds() <= 0 {
		return 0
	}
	return float64(s.Requests) / s.Elapsed.Seconds()
}
