package command

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l7agent/pkg/api/heartbeatpb"
	"l7agent/pkg/client"
)

func u64(v uint64) *uint64 { return &v }
func str(v string) *string { return &v }

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func TestWindow_Eligible(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, Window{}.Eligible(now))
	assert.True(t, Window{AbortIfAfter: &future}.Eligible(now))
	assert.False(t, Window{AbortIfAfter: &past}.Eligible(now))
	assert.False(t, Window{AbortIfAfter: &now}.Eligible(now))
	assert.False(t, Window{StartAt: &future}.Eligible(now), "delayed starts are skipped")
	assert.False(t, Window{StartAt: &past, AbortIfAfter: &future}.Eligible(now))
}

func TestParallelCommands_Eligible(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	stale := &RequestCommand{URL: "http://stale", Window: Window{AbortIfAfter: &past}}
	fresh := &RequestCommand{URL: "http://fresh", Window: Window{AbortIfAfter: &future}}
	shell := &ShellCommand{Command: "true"}

	got := ParallelCommands{stale, fresh, shell}.Eligible(now)
	assert.Equal(t, ParallelCommands{fresh, shell}, got)
}

func TestFromWire_Request(t *testing.T) {
	wire := &heartbeatpb.Command{Request: &heartbeatpb.RequestCommand{
		ConcurrentCount: 16,
		Url:             "https://example.com/",
		Time:            u64(30),
		Ip:              str("192.0.2.10"),
		Header:          []*heartbeatpb.HttpHeader{{Key: "X-A", Value: "1"}},
		Method:          heartbeatpb.RequestMethod_POST,
		Body:            str("{}"),
		Timeout:         u64(3),
		AbortIfAfter:    u64(1800000000),
		EnableRandom:    true,
		SingleRequest:   true,
	}}

	rc, err := FromWire(wire)
	require.NoError(t, err)

	r, ok := rc.(*RequestCommand)
	require.True(t, ok)
	assert.Equal(t, uint32(16), r.ConcurrentCount)
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, 30*time.Second, r.Duration())
	assert.Equal(t, 3*time.Second, *r.Timeout)
	assert.Equal(t, netip.MustParseAddr("192.0.2.10"), *r.IP)
	assert.Equal(t, []client.Header{{Key: "X-A", Value: "1"}}, r.Headers)
	assert.Equal(t, time.Unix(1800000000, 0).UTC(), *r.AbortIfAfter)
	assert.Nil(t, r.StartAt)
	assert.True(t, r.EnableRandom)
	assert.False(t, r.SingleRequest, "the oneof member decides single request mode")

	back, err := ToWire(r)
	require.NoError(t, err)
	wire.Request.SingleRequest = false
	assert.Equal(t, wire, back)
}

func TestFromWire_SingleRequest(t *testing.T) {
	rc, err := FromWire(&heartbeatpb.Command{SingleRequest: &heartbeatpb.RequestCommand{Url: "http://example.com"}})
	require.NoError(t, err)
	r := rc.(*RequestCommand)
	assert.True(t, r.SingleRequest)
	assert.Equal(t, http.MethodGet, r.Method)
	assert.Zero(t, r.Duration())

	back, err := ToWire(r)
	require.NoError(t, err)
	assert.NotNil(t, back.SingleRequest)
	assert.Nil(t, back.Request)
}

func TestFromWire_Shell(t *testing.T) {
	rc, err := FromWire(&heartbeatpb.Command{Shell: &heartbeatpb.ShellCommand{
		Command: "uptime",
		Timeout: u64(5),
		StartAt: u64(1700000000),
	}})
	require.NoError(t, err)
	s := rc.(*ShellCommand)
	assert.Equal(t, "uptime", s.Command)
	assert.Equal(t, 5*time.Second, *s.Timeout)
	assert.False(t, s.Schedule().Eligible(time.Now()))
}

func TestFromWire_Invalid(t *testing.T) {
	cases := map[string]*heartbeatpb.Command{
		"empty":          {},
		"nil":            nil,
		"bad method":     {Request: &heartbeatpb.RequestCommand{Url: "http://x", Method: 7}},
		"bad ip":         {Request: &heartbeatpb.RequestCommand{Url: "http://x", Ip: str("999.1.1.1")}},
		"bad start":      {Request: &heartbeatpb.RequestCommand{Url: "http://x", StartAt: u64(1 << 62)}},
		"bad shell time": {Shell: &heartbeatpb.ShellCommand{AbortIfAfter: u64(300000000000)}},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromWire(c)
			assert.ErrorIs(t, err, ErrInvalidCommand)
		})
	}
}

func TestBatchFromWire_KeepsValidSiblings(t *testing.T) {
	g := &heartbeatpb.ExecuteGroup{Commands: []*heartbeatpb.Command{
		{Request: &heartbeatpb.RequestCommand{Url: "http://a"}},
		{Request: &heartbeatpb.RequestCommand{Url: "http://b", Ip: str("nope")}},
		{Shell: &heartbeatpb.ShellCommand{Command: "c"}},
	}}

	batch, errs := BatchFromWire(g)
	assert.Len(t, batch, 2)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrInvalidCommand)

	back, err := BatchToWire(batch)
	require.NoError(t, err)
	assert.Len(t, back.Commands, 2)
}

func TestToWire_UnsupportedMethod(t *testing.T) {
	_, err := ToWire(&RequestCommand{URL: "http://x", Method: http.MethodDelete})
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestEpochToTime(t *testing.T) {
	got, err := EpochToTime(253402300799)
	require.NoError(t, err)
	assert.Equal(t, 9999, got.Year())

	_, err = EpochToTime(253402300800)
	assert.Error(t, err)
}

func TestResultAndStatusToWire(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	single := ResultToWire(&SingleResult{Code: 418, Content: "teapot", Timestamp: ts})
	require.NotNil(t, single.SingleRequest)
	assert.Equal(t, uint32(418), single.SingleRequest.Code)
	assert.Equal(t, uint64(1700000000), single.SingleRequest.Timestamp)

	assert.Equal(t, heartbeatpb.ClientStatus_IDLE, StatusToWire(Idle{}))
	assert.Equal(t, heartbeatpb.ClientStatus_REQUESTING, StatusToWire(Executing{ID: 1}))
	assert.Equal(t, heartbeatpb.ClientStatus_REQUEST_PREPARING, StatusToWire(Waiting{ID: 1}))

	_, ok := Idle{}.RunID()
	assert.False(t, ok)
	id, ok := Executing{ID: 9}.RunID()
	assert.True(t, ok)
	assert.Equal(t, uint64(9), id)
}

func TestRequestCommand_ReadyAndSingle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Trace") != "on" || r.Header.Get("User-Agent") != "agent/1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("pong"))
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	ip := netip.MustParseAddr("127.0.0.1")
	timeout := 2 * time.Second

	cmd := &RequestCommand{
		ConcurrentCount: 3,
		URL:             "http://agent.invalid:" + u.Port() + "/ping",
		Method:          http.MethodGet,
		IP:              &ip,
		Headers: []client.Header{
			{Key: "x-trace", Value: "on"},
			{Key: "user-agent", Value: "agent/1"},
		},
		Timeout:       &timeout,
		SingleRequest: true,
	}

	prepared, err := cmd.Ready(context.Background(), client.NewBuilder(testLogger()), testLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, prepared.Concurrency)
	assert.Equal(t, 1, prepared.Pool.Len())
	assert.Empty(t, prepared.Request.Header.Get("User-Agent"), "special headers stay out of the residual map")

	ts := time.Unix(1700000000, 0)
	res, err := prepared.Single(context.Background(), func() time.Time { return ts })
	require.NoError(t, err)
	assert.Equal(t, uint32(http.StatusOK), res.Code)
	assert.Equal(t, "pong", res.Content)
	assert.Equal(t, ts.UTC(), res.Timestamp)
}

func TestRequestCommand_ReadyFromIPFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.txt")
	require.NoError(t, os.WriteFile(path, []byte("192.0.2.1\n192.0.2.2\n192.0.2.1\n"), 0644))

	cmd := &RequestCommand{ConcurrentCount: 1, URL: "http://example.com/", IPFile: path}
	prepared, err := cmd.Ready(context.Background(), client.NewBuilder(testLogger()), testLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, prepared.Pool.Len())
}

func TestRequestCommand_ReadyRandomTemplate(t *testing.T) {
	ip := netip.MustParseAddr("127.0.0.1")
	builder := client.NewBuilder(testLogger())

	random := &RequestCommand{ConcurrentCount: 1, URL: "http://example.com/[a-z]{4}", IP: &ip, EnableRandom: true}
	prepared, err := random.Ready(context.Background(), builder, testLogger())
	require.NoError(t, err)
	require.NotNil(t, prepared.Request.Template)

	static := &RequestCommand{ConcurrentCount: 1, URL: "http://example.com/fixed", IP: &ip, EnableRandom: true}
	prepared, err = static.Ready(context.Background(), builder, testLogger())
	require.NoError(t, err)
	assert.Nil(t, prepared.Request.Template, "a url without patterns is sent as is")
	assert.Equal(t, "http://example.com/fixed", prepared.Request.URL)
}

func TestRequestCommand_ReadyErrors(t *testing.T) {
	builder := client.NewBuilder(testLogger())

	_, err := (&RequestCommand{URL: "https://example.com/[a-z", EnableRandom: true}).Ready(context.Background(), builder, testLogger())
	assert.ErrorIs(t, err, ErrInvalidCommand)

	_, err = (&RequestCommand{URL: "/no-host"}).Ready(context.Background(), builder, testLogger())
	var missing *client.MissingFieldError
	assert.True(t, errors.As(err, &missing), "expected missing field error, got %v", err)

	_, err = (&RequestCommand{URL: "http://example.com", IPFile: filepath.Join(t.TempDir(), "absent")}).Ready(context.Background(), builder, testLogger())
	assert.Error(t, err)
}
