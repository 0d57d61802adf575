package config

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"l7agent/pkg/client"
)

func TestDefaults(t *testing.T) {
	t.Setenv(EnvServer, "")
	t.Setenv(EnvLogLevel, "")

	o := Defaults()
	if o.ConcurrentCount != 2 || o.TimeSeconds != 60 || o.TimeoutSeconds != 10 {
		t.Errorf("Unexpected defaults: %+v", o)
	}
	if o.Method != "GET" || o.URL != "https://www.google.com" {
		t.Errorf("Unexpected defaults: %+v", o)
	}
	if o.Controlled() {
		t.Error("Expected stand-alone mode without a server")
	}
	if err := o.Validate(); err != nil {
		t.Errorf("Defaults must validate: %v", err)
	}
}

func TestDefaults_Environment(t *testing.T) {
	t.Setenv(EnvServer, "https://controller.example:8443")
	t.Setenv(EnvLogLevel, "debug")

	o := Defaults()
	if !o.Controlled() || o.Server != "https://controller.example:8443" {
		t.Errorf("Expected server from environment, got %q", o.Server)
	}
	level, err := o.Level()
	if err != nil || level != zerolog.DebugLevel {
		t.Errorf("Expected debug level, got %v (%v)", level, err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"empty url", func(o *Options) { o.URL = "" }},
		{"zero concurrency", func(o *Options) { o.ConcurrentCount = 0 }},
		{"ip and ip file", func(o *Options) { o.IP = "1.1.1.1"; o.IPFile = "ips.txt" }},
		{"bad method", func(o *Options) { o.Method = "GE T" }},
		{"bad log level", func(o *Options) { o.LogLevel = "loud" }},
		{"server without host", func(o *Options) { o.Server = "http://" }},
		{"server scheme", func(o *Options) { o.Server = "grpc://controller:1" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Options{ConcurrentCount: 2, URL: "http://example.com", Method: "GET", LogLevel: "info"}
			tt.modify(&o)
			if err := o.Validate(); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("Expected ErrInvalidOptions, got %v", err)
			}
		})
	}

	single := Options{URL: "http://example.com", Method: "GET", LogLevel: "info", Test: true}
	if err := single.Validate(); err != nil {
		t.Errorf("A single request needs no concurrency: %v", err)
	}
}

func TestCommand(t *testing.T) {
	o := Options{
		ConcurrentCount: 8,
		URL:             "http://example.com/[a-z]{4}",
		TimeSeconds:     30,
		IP:              "10.0.0.1",
		Headers:         []string{"User-Agent: agent", "X-Trace: 1"},
		Body:            "payload",
		Method:          "post",
		TimeoutSeconds:  5,
		Random:          true,
	}

	c, err := o.Command()
	if err != nil {
		t.Fatalf("Failed to build command: %v", err)
	}
	if c.ConcurrentCount != 8 || c.Method != "POST" || !c.EnableRandom || c.SingleRequest {
		t.Errorf("Unexpected command: %+v", c)
	}
	if c.IP == nil || *c.IP != netip.MustParseAddr("10.0.0.1") {
		t.Errorf("Unexpected ip: %v", c.IP)
	}
	if c.Duration() != 30*time.Second {
		t.Errorf("Expected 30s, got %v", c.Duration())
	}
	if c.Timeout == nil || *c.Timeout != 5*time.Second {
		t.Errorf("Unexpected timeout: %v", c.Timeout)
	}
	if c.Body == nil || *c.Body != "payload" {
		t.Errorf("Unexpected body: %v", c.Body)
	}
	if len(c.Headers) != 2 || c.Headers[1].Key != "X-Trace" || c.Headers[1].Value != "1" {
		t.Errorf("Unexpected headers: %+v", c.Headers)
	}
}

func TestCommand_Unbounded(t *testing.T) {
	c, err := Options{URL: "http://example.com", Method: "GET"}.Command()
	if err != nil {
		t.Fatalf("Failed to build command: %v", err)
	}
	if c.Time != nil || c.Body != nil || c.IP != nil {
		t.Errorf("Expected unset optional fields: %+v", c)
	}
	if c.Duration() != 0 {
		t.Errorf("Expected unbounded duration, got %v", c.Duration())
	}
}

func TestCommand_Errors(t *testing.T) {
	if _, err := (Options{URL: "http://x", IP: "not-an-ip"}).Command(); !errors.Is(err, client.ErrInvalidAddressFormat) {
		t.Errorf("Expected ErrInvalidAddressFormat, got %v", err)
	}
	if _, err := (Options{URL: "http://x", Headers: []string{"no colon"}}).Command(); !errors.Is(err, client.ErrInvalidHeader) {
		t.Errorf("Expected ErrInvalidHeader, got %v", err)
	}
}
