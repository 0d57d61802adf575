package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"l7agent/pkg/requester"
)

const (
	// InitialDelay is the pause before the first report
	InitialDelay = 4 * time.Second
	// TerminalInterval is the redraw rate of the terminal view
	TerminalInterval = 200 * time.Millisecond
	// NormalInterval is the rate of report log lines
	NormalInterval = 2 * time.Second
)

// Reporter periodically prints the statistics of a running agent. In terminal
// mode the block is redrawn in place when out is a terminal and appended
// otherwise. In normal mode every report is one log line.
type Reporter struct {
	stats  *requester.Statistics
	method string
	normal bool
	redraw bool
	out    io.Writer
	clock  clock.Clock
	logger zerolog.Logger

	last     requester.Snapshot
	lastTime time.Time
	drawn    int
}

// NewReporter creates a reporter. out receives the terminal view and is unused
// in normal mode.
func NewReporter(stats *requester.Statistics, method string, normal bool, out io.Writer, clk clock.Clock, logger zerolog.Logger) *Reporter {
	if clk == nil {
		clk = clock.New()
	}
	return &Reporter{
		stats:  stats,
		method: method,
		normal: normal,
		redraw: isTerminal(out),
		out:    out,
		clock:  clk,
		logger: logger.With().Str("component", "reporter").Logger(),
	}
}

// Interval returns the pause between two reports
func (r *Reporter) Interval() time.Duration {
	if r.normal {
		return NormalInterval
	}
	return TerminalInterval
}

// Run reports until ctx is cancelled
func (r *Reporter) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clock.After(InitialDelay):
	}

	r.lastTime = r.clock.Now()
	ticker := r.clock.Ticker(r.Interval())
	defer ticker.Stop()

	for {
		r.Report()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Report emits the current statistics once
func (r *Reporter) Report() {
	now := r.clock.Now()
	snap := r.stats.Snapshot()

	var rate float64
	if elapsed := now.Sub(r.lastTime).Seconds(); !r.lastTime.IsZero() && elapsed > 0 {
		rate = float64(snap.Requests-r.last.Requests) / elapsed
	}
	r.last, r.lastTime = snap, now

	if r.normal {
		r.logger.Info().
			Str("method", r.method).
			Uint64("requests", snap.Requests).
			Uint64("status_2xx", snap.Status2xx).
			Uint64("status_3xx", snap.Status3xx).
			Uint64("status_4xx", snap.Status4xx).
			Uint64("status_5xx", snap.Status5xx).
			Uint64("status_other", snap.Other).
			Uint64("drain_timeouts", snap.DrainTimeouts).
			Uint64("bytes", snap.Bytes).
			Str("traffic", humanize.Bytes(snap.Bytes)).
			Str("rps", humanize.CommafWithDigits(rate, 1)).
			Msg("Request statistics")
		return
	}

	if r.redraw && r.drawn > 0 {
		fmt.Fprintf(r.out, "\x1b[%dA\x1b[J", r.drawn)
	}
	fmt.Fprintf(r.out, "The %s request has been sent %s times (%s/s)\n",
		r.method, humanize.Comma(int64(snap.Requests)), humanize.CommafWithDigits(rate, 1))
	fmt.Fprintf(r.out, "Status 2xx: %d 3xx: %d 4xx: %d 5xx: %d other: %d\n",
		snap.Status2xx, snap.Status3xx, snap.Status4xx, snap.Status5xx, snap.Other)
	fmt.Fprintf(r.out, "Network traffic: %d bytes (%s)\n", snap.Bytes, humanize.Bytes(snap.Bytes))
	r.drawn = 3
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
