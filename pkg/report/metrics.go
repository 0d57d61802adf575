package report

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"l7agent/pkg/requester"
)

const namespace = "l7agent"

// StatsCollector exposes the request statistics as prometheus counters. The
// values are read from a fresh snapshot on every scrape.
type StatsCollector struct {
	stats *requester.Statistics

	requests      *prometheus.Desc
	bytes         *prometheus.Desc
	responses     *prometheus.Desc
	drainTimeouts *prometheus.Desc
}

// NewStatsCollector creates a collector over stats
func NewStatsCollector(stats *requester.Statistics) *StatsCollector {
	return &StatsCollector{
		stats: stats,
		requests: prometheus.NewDesc(namespace+"_requests_total",
			"Requests that received response headers.", nil, nil),
		bytes: prometheus.NewDesc(namespace+"_response_bytes_total",
			"Decoded response body bytes read.", nil, nil),
		responses: prometheus.NewDesc(namespace+"_responses_total",
			"Request outcomes by status class.", []string{"class"}, nil),
		drainTimeouts: prometheus.NewDesc(namespace+"_drain_timeouts_total",
			"Responses whose body could not be drained in time.", nil, nil),
	}
}

// Describe implements prometheus.Collector
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.bytes
	ch <- c.responses
	ch <- c.drainTimeouts
}

// Collect implements prometheus.Collector
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.Requests))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(snap.Bytes))
	ch <- prometheus.MustNewConstMetric(c.drainTimeouts, prometheus.CounterValue, float64(snap.DrainTimeouts))

	for _, class := range []struct {
		name  string
		value uint64
	}{
		{"2xx", snap.Status2xx},
		{"3xx", snap.Status3xx},
		{"4xx", snap.Status4xx},
		{"5xx", snap.Status5xx},
		{"other", snap.Other},
	} {
		ch <- prometheus.MustNewConstMetric(c.responses, prometheus.CounterValue, float64(class.value), class.name)
	}
}

// NewRegistry returns a registry with the statistics collector and the
// standard go and process collectors
func NewRegistry(stats *requester.Statistics) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewStatsCollector(stats),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
