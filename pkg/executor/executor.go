// Package executor turns command batches into running workers and tracks the
// resulting agent status.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"l7agent/pkg/client"
	"l7agent/pkg/command"
	"l7agent/pkg/requester"
)

// ResultBufferSize is the number of results kept between two PopResults calls
const ResultBufferSize = 100

type run struct {
	id        uint64
	startedAt time.Time
	shutdown  *requester.Shutdown
	group     errgroup.Group
	done      chan struct{}
}

func (r *run) alive() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Executor owns the workers of every run. Run bookkeeping goes through its
// mutex, so heartbeat handling and status reads never interleave. Results
// travel over a buffered channel and are drained without the mutex.
type Executor struct {
	mu sync.Mutex

	clock   clock.Clock
	logger  zerolog.Logger
	builder *client.Builder
	stats   *requester.Statistics

	runs    []*run
	offset  time.Duration
	results chan command.Result
}

// Option configures an Executor
type Option func(*Executor)

// WithClock replaces the wall clock
func WithClock(clk clock.Clock) Option {
	return func(e *Executor) { e.clock = clk }
}

// WithBuilder replaces the client pool builder
func WithBuilder(b *client.Builder) Option {
	return func(e *Executor) { e.builder = b }
}

// New creates an idle executor recording into stats
func New(stats *requester.Statistics, logger zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		clock:   clock.New(),
		logger:  logger.With().Str("component", "executor").Logger(),
		stats:   stats,
		results: make(chan command.Result, ResultBufferSize),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.builder == nil {
		e.builder = client.NewBuilder(logger)
	}
	return e
}

// Statistics returns the aggregator every worker records into
func (e *Executor) Statistics() *requester.Statistics {
	return e.stats
}

type readyCommand struct {
	command  *command.RequestCommand
	prepared *command.Prepared
}

// Execute starts the eligible commands of batch as run runID and returns the
// longest duration among them. Commands that fail to build are reported in the
// returned error and never prevent their siblings from starting.
// Client pools are built without holding the executor lock.
func (e *Executor) Execute(ctx context.Context, batch command.ParallelCommands, runID uint64) (time.Duration, error) {
	now := e.clock.Now()
	eligible := batch.Eligible(now)
	logger := e.logger.With().Uint64("run_id", runID).Logger()
	if skipped := len(batch) - len(eligible); skipped > 0 {
		logger.Warn().Int("skipped", skipped).Msg("Skipping commands outside their scheduling window")
	}

	var (
		errs    *multierror.Error
		pending []readyCommand
	)
	for _, c := range eligible {
		switch c := c.(type) {
		case *command.RequestCommand:
			p, err := c.Ready(ctx, e.builder, logger)
			if err != nil {
				logger.Error().Err(err).Str("command", command.Describe(c)).Msg("Failed to execute request command")
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", command.Describe(c), err))
				continue
			}
			pending = append(pending, readyCommand{c, p})
		case *command.ShellCommand:
			logger.Warn().Str("command", c.Command).Msg("Shell commands are not implemented, ignoring")
		default:
			panic(fmt.Sprintf("unknown command %T", c))
		}
	}

	r := &run{
		id:        runID,
		startedAt: now,
		shutdown:  requester.NewShutdown(context.Background()),
		done:      make(chan struct{}),
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var maxDur time.Duration
	for _, p := range pending {
		maxDur = max(maxDur, e.startRequest(r, p.command, p.prepared, logger))
	}

	go func() {
		_ = r.group.Wait()
		close(r.done)
		logger.Info().Msg("Run finished")
	}()

	e.runs = append(e.runs, r)

	logger.Info().
		Int("commands", len(eligible)).
		Dur("max_duration", maxDur).
		Msg("Run started")
	return maxDur, errs.ErrorOrNil()
}

// startRequest must be called with e.mu held
func (e *Executor) startRequest(r *run, c *command.RequestCommand, prepared *command.Prepared, logger zerolog.Logger) time.Duration {
	if c.SingleRequest {
		r.group.Go(func() error {
			res, err := prepared.Single(r.shutdown.Context(), e.clock.Now)
			if err != nil {
				logger.Error().Err(err).Str("url", c.URL).Msg("Single request failed")
				return nil
			}
			e.pushResult(res)
			return nil
		})
		return 0
	}

	// every command gets its own timer, the run shutdown stops all of them
	shutdown := requester.NewShutdown(r.shutdown.Context())
	pool := prepared.Pool
	flood := requester.StartFlood(
		prepared.Request,
		prepared.Concurrency,
		func() requester.Sender { return pool.Pick(nil) },
		e.stats,
		shutdown,
		logger,
	)
	if prepared.Duration > 0 {
		shutdown.AfterDuration(e.clock, prepared.Duration)
	}
	r.group.Go(func() error {
		<-flood.Done()
		if reason := shutdown.Reason(); reason != nil {
			logger.Info().Str("reason", reason.Error()).Str("url", c.URL).Msg("Workers stopped")
		}
		return nil
	})
	return prepared.Duration
}

func (e *Executor) pushResult(r command.Result) {
	select {
	case e.results <- r:
	default:
		e.logger.Warn().Msg("Result buffer full, dropping result")
	}
}

// ShutdownWorkers stops every run and waits for their workers to exit. It is
// safe to call when nothing is running.
func (e *Executor) ShutdownWorkers(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	runs := e.runs
	for _, r := range runs {
		r.shutdown.Trigger(requester.ErrStopRequested)
	}
	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return fmt.Errorf("failed to join run %d: %w", r.id, ctx.Err())
		}
	}

	e.runs = nil
	if len(runs) > 0 {
		e.logger.Info().Int("runs", len(runs)).Msg("Workers shut down")
	}
	return nil
}

// PopResults drains the buffered results and appends a fresh statistics
// snapshot. It never blocks.
func (e *Executor) PopResults() []command.Result {
	var out []command.Result
	for {
		select {
		case r := <-e.results:
			out = append(out, r)
			continue
		default:
		}
		break
	}
	return append(out, &command.RequestResult{
		Stats:     e.stats.Snapshot(),
		Timestamp: e.clock.Now().UTC(),
	})
}

// ClockSync records the offset between the controller clock and ours
func (e *Executor) ClockSync(server, local time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.offset = server.Sub(local)
	e.logger.Debug().Dur("offset", e.offset).Msg("Clock synchronized")
}

// ClockOffset returns the last recorded controller minus local offset
func (e *Executor) ClockOffset() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offset
}

// Status returns the current status. Runs whose workers all exited are
// dropped first and the newest run still alive names the status.
func (e *Executor) Status() command.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	alive := e.runs[:0]
	for _, r := range e.runs {
		if r.alive() {
			alive = append(alive, r)
		}
	}
	clear(e.runs[len(alive):])
	e.runs = alive
	if len(e.runs) == 0 {
		return command.Idle{}
	}
	return command.Executing{ID: e.runs[len(e.runs)-1].id}
}

// Wait blocks until every run started so far has finished
func (e *Executor) Wait(ctx context.Context) error {
	e.mu.Lock()
	runs := append([]*run(nil), e.runs...)
	e.mu.Unlock()

	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
