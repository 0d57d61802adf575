package heartbeat

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"l7agent/pkg/api/heartbeatpb"
)

// Dial creates a grpc connection to the controller. http URLs use plaintext,
// https URLs use TLS. The connection is established lazily.
func Dial(serverURL string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid controller url %q: %w", serverURL, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid controller url %q: missing host", serverURL)
	}

	var (
		creds       credentials.TransportCredentials
		defaultPort string
	)
	switch strings.ToLower(u.Scheme) {
	case "http":
		creds = insecure.NewCredentials()
		defaultPort = "80"
	case "https":
		creds = credentials.NewTLS(&tls.Config{ServerName: u.Hostname(), MinVersion: tls.VersionTLS12})
		defaultPort = "443"
	default:
		return nil, fmt.Errorf("invalid controller url %q: unsupported scheme %q", serverURL, u.Scheme)
	}

	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	target := net.JoinHostPort(u.Hostname(), port)

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(heartbeatpb.Codec{})),
	}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}
	return conn, nil
}
