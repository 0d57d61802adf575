package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultIPLookupURL answers with a JSON document holding the caller's public IP
const DefaultIPLookupURL = "https://ipinfo.io"

type ipInfoResponse struct {
	IP string `json:"ip"`
}

// LookupSelfIP asks lookupURL for the public address of this host
func LookupSelfIP(ctx context.Context, httpClient *http.Client, lookupURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query %s: %w", lookupURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, lookupURL)
	}

	var info ipInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if info.IP == "" {
		return "", fmt.Errorf("no ip in response from %s", lookupURL)
	}
	return info.IP, nil
}
