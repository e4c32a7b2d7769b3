package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxHealthBody = 64 << 10

// FetchHealth queries a server's health endpoint and reports the round trip
// time alongside the decoded body.
func FetchHealth(ctx context.Context, client *http.Client, baseURL string) (HealthResponse, time.Duration, error) {
	if client == nil {
		client = http.DefaultClient
	}

	url := strings.TrimRight(baseURL, "/") + HealthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthResponse{}, 0, fmt.Errorf("build health request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return HealthResponse{}, 0, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHealthBody))
	if err != nil {
		return HealthResponse{}, latency, fmt.Errorf("read health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return HealthResponse{}, latency, fmt.Errorf("health endpoint returned %s", resp.Status)
	}

	var health HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return HealthResponse{}, latency, fmt.Errorf("decode health response: %w", err)
	}

	return health, latency, nil
}

// ParseTimestamp reads the health timestamp, which carries millisecond
// precision.
func (h HealthResponse) ParseTimestamp() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, h.Timestamp)
}
