package command

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"l7agent/pkg/client"
	"l7agent/pkg/randurl"
	"l7agent/pkg/requester"
)

// RequestCommand floods a target, or sends it a single request
type RequestCommand struct {
	Window
	ConcurrentCount uint32
	URL             string
	Method          string
	// Time bounds the run; nil or zero runs until stopped
	Time    *time.Duration
	IP      *netip.Addr
	IPFile  string
	Headers []client.Header
	Body    *string
	Timeout *time.Duration

	EnableRandom  bool
	SingleRequest bool
}

// Schedule returns the scheduling window
func (c *RequestCommand) Schedule() Window { return c.Window }

func (*RequestCommand) isRemoteCommand() {}

// Duration returns the run duration, or 0 when unbounded
func (c *RequestCommand) Duration() time.Duration {
	if c.Time == nil || *c.Time < 0 {
		return 0
	}
	return *c.Time
}

// Prepared is a request command whose clients are built and ready to fire
type Prepared struct {
	Pool        *client.Pool
	Request     *requester.Request
	Concurrency int
	Duration    time.Duration
}

// Ready builds the client pool and the request definition of the command
func (c *RequestCommand) Ready(ctx context.Context, builder *client.Builder, logger zerolog.Logger) (*Prepared, error) {
	method := c.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: url %q: %v", ErrInvalidCommand, c.URL, err)
	}

	request := &requester.Request{
		Method: method,
		URL:    c.URL,
	}
	if c.EnableRandom {
		tmpl, err := randurl.Compile(c.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		if tmpl.IsStatic() {
			logger.Warn().Str("url", c.URL).Msg("Random mode without patterns, sending the literal url")
		} else {
			request.Template = tmpl
		}
	}
	if c.Body != nil {
		request.Body = []byte(*c.Body)
	}
	if c.Timeout != nil {
		request.Timeout = *c.Timeout
	}

	headers := client.NewHeaderConfig(c.Headers)
	request.Header = headers.Other

	var mode client.IPMode = client.Resolve{}
	switch {
	case c.IP != nil:
		mode = client.Locked{Addr: *c.IP}
	case c.IPFile != "":
		addrs, err := client.LoadIPPool(c.IPFile, logger)
		if err != nil {
			return nil, err
		}
		if mode, err = client.NewRandom(addrs); err != nil {
			return nil, err
		}
	}

	pool, err := builder.Build(ctx, client.PoolConfig{
		URL:     target,
		Method:  method,
		IPMode:  mode,
		Headers: headers,
	})
	if err != nil {
		return nil, err
	}

	return &Prepared{
		Pool:        pool,
		Request:     request,
		Concurrency: int(c.ConcurrentCount),
		Duration:    c.Duration(),
	}, nil
}

// Single sends one request to a client of the pool and reports the outcome
func (p *Prepared) Single(ctx context.Context, now func() time.Time) (*SingleResult, error) {
	code, content, err := requester.SendOnce(ctx, p.Pool.Pick(nil), p.Request)
	if err != nil {
		return nil, err
	}
	return &SingleResult{
		Code:      uint32(code),
		Content:   string(content),
		Timestamp: now().UTC(),
	}, nil
}
