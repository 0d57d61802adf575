package client

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrInvalidAddressFormat is returned when a line of an address file is not an IP
	ErrInvalidAddressFormat = errors.New("invalid address format")
	// ErrNoValidAddressesInFile is returned when an address file holds no address
	ErrNoValidAddressesInFile = errors.New("no valid addresses in file")
)

// LoadIPPool reads one address per line from path. Blank lines are ignored,
// duplicates are removed keeping the first occurrence, and the normalized set
// is written back to path. A failed rewrite is logged and does not fail the
// load.
func LoadIPPool(path string, logger zerolog.Logger) ([]netip.Addr, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read address file: %w", err)
	}

	addrs, err := parseIPPool(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if err := writeIPPool(path, addrs); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Failed to rewrite normalized address file")
	}

	logger.Info().Str("path", path).Int("addresses", len(addrs)).Msg("Loaded address pool")
	return addrs, nil
}

func parseIPPool(data []byte) ([]netip.Addr, error) {
	seen := make(map[netip.Addr]struct{})
	var addrs []netip.Addr

	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		addr, err := netip.ParseAddr(text)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %q", ErrInvalidAddressFormat, line, text)
		}
		addr = addr.Unmap()

		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		addrs = append(addrs, addr)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan address file: %w", err)
	}

	if len(addrs) == 0 {
		return nil, ErrNoValidAddressesInFile
	}
	return addrs, nil
}

func writeIPPool(path string, addrs []netip.Addr) error {
	var b strings.Builder
	for _, a := range addrs {
		b.WriteString(a.String())
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}
