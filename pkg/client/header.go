package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrInvalidHeader is returned for header lines without a colon
var ErrInvalidHeader = errors.New("invalid header")

// Header is one raw name/value pair
type Header struct {
	Key   string
	Value string
}

// ParseHeader splits a "Name: Value" line
func ParseHeader(line string) (Header, error) {
	key, value, ok := strings.Cut(line, ":")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return Header{}, fmt.Errorf("%w: %q", ErrInvalidHeader, line)
	}
	return Header{Key: key, Value: strings.TrimSpace(value)}, nil
}

// ParseHeaders parses a list of "Name: Value" lines
func ParseHeaders(lines []string) ([]Header, error) {
	headers := make([]Header, 0, len(lines))
	for _, line := range lines {
		h, err := ParseHeader(line)
		if err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return headers, nil
}

// HeaderConfig is the split form of a header list. User-Agent, Accept-Encoding
// and Cookie configure the clients; everything else is sent with every
// request.
type HeaderConfig struct {
	UserAgent *string
	Gzip      bool
	Deflate   bool
	Cookie    *string
	Other     http.Header
}

// NewHeaderConfig splits headers. Special keys are matched case-insensitively
// and never copied into Other.
func NewHeaderConfig(headers []Header) HeaderConfig {
	cfg := HeaderConfig{Other: make(http.Header)}
	for _, h := range headers {
		switch strings.ToLower(h.Key) {
		case "user-agent":
			ua := h.Value
			cfg.UserAgent = &ua
		case "accept-encoding":
			enc := strings.ToLower(h.Value)
			cfg.Gzip = strings.Contains(enc, "gzip")
			cfg.Deflate = strings.Contains(enc, "deflate")
		case "cookie":
			cookie := h.Value
			cfg.Cookie = &cookie
		default:
			cfg.Other.Add(h.Key, h.Value)
		}
	}
	return cfg
}

// AcceptEncoding renders the negotiated encodings, or "" when none is enabled
func (c HeaderConfig) AcceptEncoding() string {
	switch {
	case c.Gzip && c.Deflate:
		return "gzip, deflate"
	case c.Gzip:
		return "gzip"
	case c.Deflate:
		return "deflate"
	default:
		return ""
	}
}
