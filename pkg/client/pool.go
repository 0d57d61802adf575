// Package client builds pools of HTTP clients, each pinned to one address of
// the target host.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
)

var (
	// ErrClientBuildFailed is returned when the client for one address cannot be built
	ErrClientBuildFailed = errors.New("client build failed")
	// ErrNoClientsBuilt is returned when no address produced a client
	ErrNoClientsBuilt = errors.New("no clients built")
)

// MissingFieldError names the required PoolConfig field that was not set
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// PoolConfig is the input of Builder.Build
type PoolConfig struct {
	URL    *url.URL
	Method string
	// IPMode defaults to Resolve
	IPMode  IPMode
	Headers HeaderConfig
}

// Validate reports the first missing required field
func (c PoolConfig) Validate() error {
	if c.URL == nil {
		return &MissingFieldError{Field: "url"}
	}
	if c.URL.Hostname() == "" {
		return &MissingFieldError{Field: "host"}
	}
	return nil
}

// Port returns the explicit port of the target or the default of its scheme
func (c PoolConfig) Port() (uint16, error) {
	if p := c.URL.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid port %q: %w", p, err)
		}
		return uint16(port), nil
	}
	switch strings.ToLower(c.URL.Scheme) {
	case "https":
		return 443, nil
	case "http", "":
		return 80, nil
	default:
		return 0, fmt.Errorf("unsupported scheme %q", c.URL.Scheme)
	}
}

// Settings is what every client of a pool shares
type Settings struct {
	Host           string
	UserAgent      *string
	AcceptEncoding string
	Cookies        []*http.Cookie
	CookieURL      *url.URL
}

// Factory builds the http.Client pinned to addr
type Factory func(addr netip.AddrPort, settings Settings) (*http.Client, error)

// Client is one pooled sender pinned to one address
type Client struct {
	Addr           netip.AddrPort
	httpClient     *http.Client
	userAgent      *string
	acceptEncoding string
}

// Do sends req, applying the pool wide user agent and encoding negotiation
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.userAgent != nil {
		req.Header.Set("User-Agent", *c.userAgent)
	}
	if c.acceptEncoding != "" {
		req.Header.Set("Accept-Encoding", c.acceptEncoding)
	}
	return c.httpClient.Do(req)
}

// Pool is the read-only set of clients of one command
type Pool struct {
	clients []*Client
}

// Len returns the number of clients
func (p *Pool) Len() int {
	return len(p.clients)
}

// Clients returns the clients of the pool
func (p *Pool) Clients() []*Client {
	return p.clients
}

// Pick samples a client uniformly with replacement. A nil rng uses the
// process-wide source.
func (p *Pool) Pick(rng *rand.Rand) *Client {
	if rng == nil {
		return p.clients[rand.IntN(len(p.clients))]
	}
	return p.clients[rng.IntN(len(p.clients))]
}

// Builder turns a PoolConfig into a Pool
type Builder struct {
	logger  zerolog.Logger
	factory Factory
}

// NewBuilder creates a builder using PinnedClient as factory
func NewBuilder(logger zerolog.Logger) *Builder {
	return &Builder{
		logger:  logger.With().Str("component", "client-pool").Logger(),
		factory: PinnedClient,
	}
}

// WithFactory replaces the client factory
func (b *Builder) WithFactory(f Factory) *Builder {
	b.factory = f
	return b
}

// Build resolves the target according to the IP mode and builds one client per
// address. Addresses whose client cannot be built are logged and dropped.
func (b *Builder) Build(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	port, err := cfg.Port()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientBuildFailed, err)
	}

	mode := cfg.IPMode
	if mode == nil {
		mode = Resolve{}
	}

	host := cfg.URL.Hostname()
	addrs, err := mode.Addresses(ctx, host)
	if err != nil {
		return nil, err
	}

	settings := Settings{
		Host:           host,
		UserAgent:      cfg.Headers.UserAgent,
		AcceptEncoding: cfg.Headers.AcceptEncoding(),
		CookieURL:      cfg.URL,
	}
	if cfg.Headers.Cookie != nil {
		cookies, skipped := ParseCookies(*cfg.Headers.Cookie)
		for _, part := range skipped {
			b.logger.Warn().Str("cookie", part).Msg("Skipping malformed cookie")
		}
		settings.Cookies = cookies
	}

	pool := &Pool{}
	for _, addr := range addrs {
		pinned := netip.AddrPortFrom(addr, port)
		hc, err := b.factory(pinned, settings)
		if err != nil {
			b.logger.Error().
				Err(fmt.Errorf("%w: %v", ErrClientBuildFailed, err)).
				Str("addr", pinned.String()).
				Msg("Dropping address from client pool")
			continue
		}
		pool.clients = append(pool.clients, &Client{
			Addr:           pinned,
			httpClient:     hc,
			userAgent:      settings.UserAgent,
			acceptEncoding: settings.AcceptEncoding,
		})
	}

	if len(pool.clients) == 0 {
		return nil, fmt.Errorf("%w: %d addresses tried", ErrNoClientsBuilt, len(addrs))
	}

	b.logger.Info().
		Str("host", host).
		Str("ip_mode", Describe(mode)).
		Int("clients", len(pool.clients)).
		Msg("Client pool built")
	return pool, nil
}

// ParseCookies splits a Cookie header value into cookies. Parts that are not
// name=value pairs are returned in skipped instead of failing the whole value.
func ParseCookies(raw string) (cookies []*http.Cookie, skipped []string) {
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parsed, err := http.ParseCookie(part)
		if err != nil {
			skipped = append(skipped, part)
			continue
		}
		cookies = append(cookies, parsed...)
	}
	return cookies, skipped
}

// PinnedClient builds an http.Client whose connections to settings.Host go to
// addr. TLS still verifies and sends the original host name.
func PinnedClient(addr netip.AddrPort, settings Settings) (*http.Client, error) {
	if !addr.IsValid() {
		return nil, fmt.Errorf("invalid address %v", addr)
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	target := addr.String()

	// Configure HTTP transport for connection pooling with keep-alive
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(address)
			if err == nil && strings.EqualFold(host, settings.Host) {
				address = target
			}
			return dialer.DialContext(ctx, network, address)
		},
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableKeepAlives:   false,
		// encodings are negotiated explicitly and decoded by the worker
		DisableCompression: true,
	}

	hc := &http.Client{Transport: transport}

	if len(settings.Cookies) > 0 {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		jar.SetCookies(settings.CookieURL, settings.Cookies)
		hc.Jar = jar
	}

	return hc, nil
}
