// Package config holds the command line options of the agent.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"l7agent/pkg/client"
	"l7agent/pkg/command"
)

// Environment variables read by Defaults
const (
	EnvServer     = "L7_SERVER"
	EnvStatusAddr = "L7_STATUS_ADDR"
	EnvReportDir  = "L7_REPORT_DIR"
	EnvLogLevel   = "L7_LOG_LEVEL"
)

const (
	defaultConcurrentCount = 2
	defaultURL             = "https://www.google.com"
	defaultTimeSeconds     = 60
	defaultTimeoutSeconds  = 10
	defaultMethod          = "GET"
	defaultLogLevel        = "info"
)

// ErrInvalidOptions is returned by Validate
var ErrInvalidOptions = errors.New("invalid options")

// Options are the settings of one agent process
type Options struct {
	ConcurrentCount uint32
	URL             string
	// TimeSeconds bounds a stand-alone run, 0 runs until interrupted
	TimeSeconds    uint64
	IP             string
	IPFile         string
	Headers        []string
	Body           string
	Method         string
	TimeoutSeconds uint64
	Random         bool
	Test           bool

	Server       string
	LogLevel     string
	NormalOutput bool
	ReportDir    string
	StatusAddr   string
}

// Defaults returns the default options, with the controller address and the
// ambient settings taken from the environment when present
func Defaults() Options {
	return Options{
		ConcurrentCount: defaultConcurrentCount,
		URL:             defaultURL,
		TimeSeconds:     defaultTimeSeconds,
		Method:          defaultMethod,
		TimeoutSeconds:  defaultTimeoutSeconds,
		Server:          getEnv(EnvServer, ""),
		LogLevel:        getEnv(EnvLogLevel, defaultLogLevel),
		ReportDir:       getEnv(EnvReportDir, ""),
		StatusAddr:      getEnv(EnvStatusAddr, ""),
	}
}

// Controlled reports whether the agent takes its commands from a controller
func (o Options) Controlled() bool {
	return o.Server != ""
}

// Validate checks the options that do not depend on the network
func (o Options) Validate() error {
	if _, err := o.Level(); err != nil {
		return err
	}

	if o.Controlled() {
		u, err := url.Parse(o.Server)
		if err != nil || u.Host == "" {
			return fmt.Errorf("%w: server %q", ErrInvalidOptions, o.Server)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%w: server scheme must be http or https", ErrInvalidOptions)
		}
		return nil
	}

	if o.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidOptions)
	}
	if !o.Test && o.ConcurrentCount == 0 {
		return fmt.Errorf("%w: concurrent count must be positive", ErrInvalidOptions)
	}
	if o.IP != "" && o.IPFile != "" {
		return fmt.Errorf("%w: ip and ip file are mutually exclusive", ErrInvalidOptions)
	}
	if o.Method == "" || strings.ContainsAny(o.Method, " \t\r\n") {
		return fmt.Errorf("%w: method %q", ErrInvalidOptions, o.Method)
	}
	return nil
}

// Level parses the log level
func (o Options) Level() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(o.LogLevel))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("%w: log level %q", ErrInvalidOptions, o.LogLevel)
	}
	return level, nil
}

// Command converts the options into the request command of a stand-alone run
func (o Options) Command() (*command.RequestCommand, error) {
	headers, err := client.ParseHeaders(o.Headers)
	if err != nil {
		return nil, err
	}

	c := &command.RequestCommand{
		ConcurrentCount: o.ConcurrentCount,
		URL:             o.URL,
		Method:          strings.ToUpper(o.Method),
		IPFile:          o.IPFile,
		Headers:         headers,
		EnableRandom:    o.Random,
		SingleRequest:   o.Test,
	}

	if o.IP != "" {
		addr, err := netip.ParseAddr(o.IP)
		if err != nil {
			return nil, fmt.Errorf("%w: ip %q", client.ErrInvalidAddressFormat, o.IP)
		}
		c.IP = &addr
	}
	if o.TimeSeconds > 0 {
		d := time.Duration(o.TimeSeconds) * time.Second
		c.Time = &d
	}
	if o.TimeoutSeconds > 0 {
		d := time.Duration(o.TimeoutSeconds) * time.Second
		c.Timeout = &d
	}
	if o.Body != "" {
		body := o.Body
		c.Body = &body
	}
	return c, nil
}

// Describe renders the options for the startup log line
func (o Options) Describe() string {
	if o.Controlled() {
		return "controlled by " + o.Server
	}
	return o.Method + " " + o.URL + " x" + strconv.FormatUint(uint64(o.ConcurrentCount), 10)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
