// Package heartbeat drives the executor from a remote controller.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"l7agent/pkg/api/heartbeatpb"
	"l7agent/pkg/command"
)

const (
	// DefaultInterval is the pause between two heartbeats
	DefaultInterval = 20 * time.Second
	// DefaultRetryDelay is the pause before retrying a failed heartbeat call
	DefaultRetryDelay = 10 * time.Second
	// DefaultCallTimeout bounds a single heartbeat call
	DefaultCallTimeout = 10 * time.Second
)

// ErrInvalidServerTimestamp is returned when the controller sends a timestamp
// that is zero or beyond year 9999
var ErrInvalidServerTimestamp = errors.New("invalid server timestamp")

// Executor is the part of the command executor the heartbeat loop drives
type Executor interface {
	Execute(ctx context.Context, batch command.ParallelCommands, runID uint64) (time.Duration, error)
	ShutdownWorkers(ctx context.Context) error
	PopResults() []command.Result
	ClockSync(server, local time.Time)
	Status() command.Status
}

// Config holds the heartbeat loop settings
type Config struct {
	Interval    time.Duration
	RetryDelay  time.Duration
	CallTimeout time.Duration
	// IPLookupURL is queried once for the public address of the agent; empty
	// disables the lookup
	IPLookupURL string
}

// DefaultConfig returns the settings used against a real controller
func DefaultConfig() Config {
	return Config{
		Interval:    DefaultInterval,
		RetryDelay:  DefaultRetryDelay,
		CallTimeout: DefaultCallTimeout,
		IPLookupURL: DefaultIPLookupURL,
	}
}

// Client round-trips heartbeats and applies the controller's next operation
type Client struct {
	rpc      heartbeatpb.HeartbeatServiceClient
	executor Executor
	config   Config
	clock    clock.Clock
	logger   zerolog.Logger

	selfIP string
	seq    uint64
}

// NewClient creates a heartbeat loop
func NewClient(rpc heartbeatpb.HeartbeatServiceClient, executor Executor, config Config, clk clock.Clock, logger zerolog.Logger) *Client {
	if clk == nil {
		clk = clock.New()
	}
	return &Client{
		rpc:      rpc,
		executor: executor,
		config:   config,
		clock:    clk,
		logger:   logger.With().Str("component", "heartbeat").Logger(),
	}
}

// Run sends heartbeats until ctx is cancelled
func (c *Client) Run(ctx context.Context) error {
	if c.config.IPLookupURL != "" {
		ip, err := LookupSelfIP(ctx, http.DefaultClient, c.config.IPLookupURL)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to resolve public ip, reporting none")
		} else {
			c.selfIP = ip
			c.logger.Info().Str("ip", ip).Msg("Resolved public ip")
		}
	}

	for {
		if err := c.Beat(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error().Err(err).Msg("Heartbeat iteration aborted")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(c.config.Interval):
		}
	}
}

// Beat performs one heartbeat round trip and applies its outcome. Transport
// failures are retried until the call succeeds or ctx is cancelled.
func (c *Client) Beat(ctx context.Context) error {
	now := c.clock.Now()
	status := c.executor.Status()

	hb := &heartbeatpb.HeartBeat{
		Timestamp: uint64(now.Unix()),
		Status:    command.StatusToWire(status),
		Ip:        c.selfIP,
	}
	if id, ok := status.RunID(); ok {
		hb.CurrentCommandId = &id
	}
	for _, r := range c.executor.PopResults() {
		hb.CommandResult = append(hb.CommandResult, command.ResultToWire(r))
	}

	resp, err := c.send(ctx, hb)
	if err != nil {
		return err
	}

	if resp.ServerTimestamp == 0 {
		return fmt.Errorf("%w: 0", ErrInvalidServerTimestamp)
	}
	serverTime, err := command.EpochToTime(resp.ServerTimestamp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidServerTimestamp, err)
	}
	c.executor.ClockSync(serverTime, now)

	return c.apply(ctx, resp)
}

func (c *Client) send(ctx context.Context, hb *heartbeatpb.HeartBeat) (*heartbeatpb.ServerResponse, error) {
	var resp *heartbeatpb.ServerResponse
	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
		defer cancel()

		var err error
		resp, err = c.rpc.Heartbeat(callCtx, hb)
		return err
	}
	notify := func(err error, next time.Duration) {
		c.logger.Error().Err(err).Dur("retry_in", next).Msg("Failed to send heartbeat")
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(c.config.RetryDelay), ctx)
	if err := backoff.RetryNotifyWithTimer(operation, b, notify, &clockTimer{clock: c.clock}); err != nil {
		return nil, fmt.Errorf("failed to send heartbeat: %w", err)
	}
	return resp, nil
}

func (c *Client) apply(ctx context.Context, resp *heartbeatpb.ServerResponse) error {
	switch op := resp.NextOperation.(type) {
	case nil, *heartbeatpb.KeepIdle, *heartbeatpb.ContinueCurrent:
		return nil
	case *heartbeatpb.StopCurrent:
		return c.executor.ShutdownWorkers(ctx)
	case *heartbeatpb.StopAndExecute:
		if err := c.executor.ShutdownWorkers(ctx); err != nil {
			return err
		}
		return c.execute(ctx, op.Group, resp.CommandId)
	case *heartbeatpb.Execute:
		return c.execute(ctx, op.Group, resp.CommandId)
	default:
		panic(fmt.Sprintf("unknown next operation %T", op))
	}
}

func (c *Client) execute(ctx context.Context, group *heartbeatpb.ExecuteGroup, commandID *uint64) error {
	runID := c.nextRunID(commandID)
	batch, errs := command.BatchFromWire(group)
	for _, err := range errs {
		c.logger.Error().Err(err).Uint64("run_id", runID).Msg("Rejected command")
	}

	maxDur, err := c.executor.Execute(ctx, batch, runID)
	if err != nil {
		return fmt.Errorf("failed to execute commands: %w", err)
	}
	c.logger.Info().Uint64("run_id", runID).Dur("max_duration", maxDur).Msg("Executing commands")
	return nil
}

func (c *Client) nextRunID(commandID *uint64) uint64 {
	if commandID != nil {
		return *commandID
	}
	c.seq++
	return c.seq
}

// clockTimer lets backoff wait on the injected clock
type clockTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.Timer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}
