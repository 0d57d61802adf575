package heartbeat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"l7agent/pkg/api/heartbeatpb"
	"l7agent/pkg/command"
	"l7agent/pkg/executor"
	"l7agent/pkg/requester"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func u64(v uint64) *uint64 { return &v }

func testConfig() Config {
	return Config{
		Interval:    20 * time.Millisecond,
		RetryDelay:  10 * time.Millisecond,
		CallTimeout: time.Second,
	}
}

// controller answers heartbeats from a script and records what it received
type controller struct {
	heartbeatpb.UnimplementedHeartbeatServiceServer

	mu       sync.Mutex
	script   []heartbeatpb.NextOperation
	ids      []*uint64
	received []*heartbeatpb.HeartBeat
}

func (c *controller) Heartbeat(_ context.Context, in *heartbeatpb.HeartBeat) (*heartbeatpb.ServerResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.received = append(c.received, in)
	resp := &heartbeatpb.ServerResponse{
		ServerTimestamp: uint64(time.Now().Unix()),
		NextOperation:   &heartbeatpb.KeepIdle{},
	}
	if len(c.script) > 0 {
		resp.NextOperation = c.script[0]
		resp.CommandId = c.ids[0]
		c.script = c.script[1:]
		c.ids = c.ids[1:]
	}
	return resp, nil
}

func (c *controller) heartbeats() []*heartbeatpb.HeartBeat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*heartbeatpb.HeartBeat(nil), c.received...)
}

func startController(t *testing.T, srv heartbeatpb.HeartbeatServiceServer) heartbeatpb.HeartbeatServiceClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(grpc.ForceServerCodec(heartbeatpb.Codec{}))
	heartbeatpb.RegisterHeartbeatServiceServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return heartbeatpb.NewHeartbeatServiceClient(conn)
}

func TestRun_AppliesOperationsFromController(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer target.Close()

	ipinfo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ip":"203.0.113.9","city":"nowhere"}`))
	}))
	defer ipinfo.Close()

	group := &heartbeatpb.ExecuteGroup{Commands: []*heartbeatpb.Command{
		{Request: &heartbeatpb.RequestCommand{ConcurrentCount: 2, Url: target.URL, Time: u64(60)}},
	}}
	ctrl := &controller{
		script: []heartbeatpb.NextOperation{
			&heartbeatpb.StopAndExecute{Group: group},
			&heartbeatpb.ContinueCurrent{},
			&heartbeatpb.ContinueCurrent{},
			&heartbeatpb.StopCurrent{},
		},
		ids: []*uint64{u64(5), nil, nil, nil},
	}
	rpc := startController(t, ctrl)

	exec := executor.New(requester.NewStatistics(), testLogger())
	cfg := testConfig()
	cfg.IPLookupURL = ipinfo.URL
	hc := NewClient(rpc, exec, cfg, clock.New(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hc.Run(ctx) }()

	require.Eventually(t, func() bool { return len(ctrl.heartbeats()) >= 7 }, 10*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	hbs := ctrl.heartbeats()

	first := hbs[0]
	assert.Equal(t, heartbeatpb.ClientStatus_IDLE, first.Status)
	assert.Nil(t, first.CurrentCommandId)
	assert.Equal(t, "203.0.113.9", first.Ip)
	require.NotEmpty(t, first.CommandResult)
	assert.NotNil(t, first.CommandResult[len(first.CommandResult)-1].Request, "statistics are always reported")

	second := hbs[1]
	assert.Equal(t, heartbeatpb.ClientStatus_REQUESTING, second.Status)
	require.NotNil(t, second.CurrentCommandId)
	assert.Equal(t, uint64(5), *second.CurrentCommandId)

	// after StopCurrent the agent reports idle with the accumulated counters
	last := hbs[len(hbs)-1]
	assert.Equal(t, heartbeatpb.ClientStatus_IDLE, last.Status)
	assert.Nil(t, last.CurrentCommandId)
	stats := last.CommandResult[len(last.CommandResult)-1].Request
	require.NotNil(t, stats)
	assert.Positive(t, stats.Code_2)
	assert.Equal(t, command.Idle{}, exec.Status())
}

// fakeExecutor records the calls of the heartbeat loop
type fakeExecutor struct {
	mu        sync.Mutex
	runIDs    []uint64
	shutdowns int
	synced    bool
	status    command.Status
}

func (f *fakeExecutor) Execute(_ context.Context, _ command.ParallelCommands, runID uint64) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runIDs = append(f.runIDs, runID)
	f.status = command.Executing{ID: runID}
	return 0, nil
}

func (f *fakeExecutor) ShutdownWorkers(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	f.status = command.Idle{}
	return nil
}

func (f *fakeExecutor) PopResults() []command.Result {
	return []command.Result{&command.RequestResult{Timestamp: time.Now()}}
}

func (f *fakeExecutor) ClockSync(time.Time, time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = true
}

func (f *fakeExecutor) Status() command.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == nil {
		return command.Idle{}
	}
	return f.status
}

// scriptedRPC returns canned responses without a grpc server
type scriptedRPC struct {
	mu        sync.Mutex
	failures  int
	calls     int
	responses []*heartbeatpb.ServerResponse
}

func (s *scriptedRPC) Heartbeat(context.Context, *heartbeatpb.HeartBeat, ...grpc.CallOption) (*heartbeatpb.ServerResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("connection refused")
	}
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

func TestBeat_RetriesTransportFailures(t *testing.T) {
	rpc := &scriptedRPC{
		failures:  2,
		responses: []*heartbeatpb.ServerResponse{{ServerTimestamp: uint64(time.Now().Unix())}},
	}
	exec := &fakeExecutor{}
	hc := NewClient(rpc, exec, testConfig(), clock.New(), testLogger())

	require.NoError(t, hc.Beat(context.Background()))
	assert.Equal(t, 3, rpc.calls)
	assert.True(t, exec.synced)
}

func TestBeat_RetryUsesInjectedClock(t *testing.T) {
	rpc := &scriptedRPC{
		failures:  1,
		responses: []*heartbeatpb.ServerResponse{{ServerTimestamp: 1}},
	}
	mock := clock.NewMock()
	cfg := testConfig()
	cfg.RetryDelay = 10 * time.Second
	hc := NewClient(rpc, &fakeExecutor{}, cfg, mock, testLogger())

	done := make(chan error, 1)
	go func() { done <- hc.Beat(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("beat returned before the retry delay elapsed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	mock.Add(10 * time.Second)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("beat did not retry after the delay")
	}
}

func TestBeat_InvalidServerTimestamp(t *testing.T) {
	for _, ts := range []uint64{0, 253402300800, 1 << 63} {
		rpc := &scriptedRPC{responses: []*heartbeatpb.ServerResponse{{
			ServerTimestamp: ts,
			NextOperation:   &heartbeatpb.StopCurrent{},
		}}}
		exec := &fakeExecutor{}
		hc := NewClient(rpc, exec, testConfig(), clock.New(), testLogger())

		err := hc.Beat(context.Background())
		assert.ErrorIs(t, err, ErrInvalidServerTimestamp, "timestamp %d", ts)
		assert.Zero(t, exec.shutdowns, "the operation of a malformed response must not be applied")
		assert.False(t, exec.synced)
	}
}

func TestBeat_RunIDs(t *testing.T) {
	now := uint64(time.Now().Unix())
	group := &heartbeatpb.ExecuteGroup{}
	rpc := &scriptedRPC{responses: []*heartbeatpb.ServerResponse{
		{ServerTimestamp: now, NextOperation: &heartbeatpb.Execute{Group: group}},
		{ServerTimestamp: now, NextOperation: &heartbeatpb.StopAndExecute{Group: group}, CommandId: u64(40)},
		{ServerTimestamp: now, NextOperation: &heartbeatpb.Execute{Group: group}},
	}}
	exec := &fakeExecutor{}
	hc := NewClient(rpc, exec, testConfig(), clock.New(), testLogger())

	for i := 0; i < 3; i++ {
		require.NoError(t, hc.Beat(context.Background()))
	}

	assert.Equal(t, []uint64{1, 40, 2}, exec.runIDs)
	assert.Equal(t, 1, exec.shutdowns)
}

func TestLookupSelfIP(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ip":"198.51.100.4"}`))
	}))
	defer ok.Close()

	ip, err := LookupSelfIP(context.Background(), ok.Client(), ok.URL)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.4", ip)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer broken.Close()

	_, err = LookupSelfIP(context.Background(), broken.Client(), broken.URL)
	assert.Error(t, err)
}

func TestDial(t *testing.T) {
	conn, err := Dial("http://controller.invalid:50051")
	require.NoError(t, err)
	assert.Equal(t, "controller.invalid:50051", conn.Target())
	require.NoError(t, conn.Close())

	conn, err = Dial("https://controller.invalid")
	require.NoError(t, err)
	assert.Equal(t, "controller.invalid:443", conn.Target())
	require.NoError(t, conn.Close())

	_, err = Dial("ftp://controller.invalid")
	assert.Error(t, err)
}
