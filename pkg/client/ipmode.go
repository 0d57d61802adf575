package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

var (
	// ErrDNSLookupFailed is returned when the system resolver fails
	ErrDNSLookupFailed = errors.New("dns lookup failed")
	// ErrNoAddressesFound is returned when the resolver returns no address
	ErrNoAddressesFound = errors.New("no addresses found")
	// ErrEmptyPool is returned when a random pool is created without addresses
	ErrEmptyPool = errors.New("address pool is empty")
)

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// IPMode decides which addresses the clients of a pool are pinned to. The set
// of implementations is closed: Resolve, Locked and Random.
type IPMode interface {
	// Addresses returns a non-empty set of addresses for host
	Addresses(ctx context.Context, host string) ([]netip.Addr, error)
	ipMode()
}

// Resolve asks DNS at build time
type Resolve struct {
	// Resolver defaults to net.DefaultResolver
	Resolver Resolver
}

// Locked pins every client to one operator supplied address
type Locked struct {
	Addr netip.Addr
}

// Random pins one client per address of a pre-loaded pool
type Random struct {
	pool []netip.Addr
}

// NewRandom creates a random mode over a non-empty pool
func NewRandom(pool []netip.Addr) (Random, error) {
	if len(pool) == 0 {
		return Random{}, ErrEmptyPool
	}
	return Random{pool: append([]netip.Addr(nil), pool...)}, nil
}

func (Resolve) ipMode() {}
func (Locked) ipMode()  {}
func (Random) ipMode()  {}

// Addresses performs a DNS lookup. IP literals are returned without I/O.
func (m Resolve) Addresses(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr.Unmap()}, nil
	}

	resolver := m.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	addrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDNSLookupFailed, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddressesFound, host)
	}

	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Unmap())
	}
	return out, nil
}

// Addresses returns the locked address
func (m Locked) Addresses(context.Context, string) ([]netip.Addr, error) {
	return []netip.Addr{m.Addr}, nil
}

// Addresses returns the pool verbatim
func (m Random) Addresses(context.Context, string) ([]netip.Addr, error) {
	if len(m.pool) == 0 {
		return nil, ErrEmptyPool
	}
	return append([]netip.Addr(nil), m.pool...), nil
}

// Describe names the mode for logs
func Describe(m IPMode) string {
	switch m := m.(type) {
	case Resolve:
		return "resolve"
	case Locked:
		return "locked:" + m.Addr.String()
	case Random:
		return fmt.Sprintf("random:%d", len(m.pool))
	default:
		panic(fmt.Sprintf("unknown ip mode %T", m))
	}
}
