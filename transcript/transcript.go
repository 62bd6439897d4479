// Package transcript contains a minimal client for the third-party captioning
// service. A fetched transcript is classified as Ready or NotYetAvailable;
// network and auth problems surface as errors. Captions commonly lag a new
// upload by several minutes, so NotYetAvailable is an expected outcome, not
// a failure.
package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Status tags a fetched transcript outcome.
type Status int

const (
	// StatusReady means the service returned caption text.
	StatusReady Status = iota
	// StatusNotYetAvailable means the request succeeded but no captions exist yet.
	StatusNotYetAvailable
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusNotYetAvailable:
		return "not_yet_available"
	default:
		return "unknown"
	}
}

// Result is the outcome of a successful transcript request.
type Result struct {
	Status Status
	Text   string
}

// Client calls the captioning API.
type Client struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Fetch requests the transcript for a video. The service accepts a batch of
// ids; we always send one. Empty or absent caption text maps to
// StatusNotYetAvailable.
func (c *Client) Fetch(ctx context.Context, videoID string) (Result, error) {
	if videoID == "" {
		return Result{}, fmt.Errorf("videoID empty")
	}
	if c.Token == "" {
		return Result{}, fmt.Errorf("transcript api token not configured")
	}
	payload, err := json.Marshal(map[string][]string{"ids": {videoID}})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Basic "+c.Token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("transcript request failed: %s: %s", resp.Status, string(b))
	}
	var body any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("decode transcript response: %w", err)
	}
	text := strings.TrimSpace(ExtractText(body))
	if text == "" {
		return Result{Status: StatusNotYetAvailable}, nil
	}
	return Result{Status: StatusReady, Text: text}, nil
}

// ExtractText walks an arbitrarily nested JSON payload and joins caption text.
// The service's response shape has changed more than once; rather than pin a
// schema we collect every "text" field plus any free-standing string longer
// than a few words.
func ExtractText(data any) string {
	var parts []string
	var collect func(obj any)
	collect = func(obj any) {
		switch v := obj.(type) {
		case map[string]any:
			if t, ok := v["text"].(string); ok {
				parts = append(parts, t)
			}
			for k, val := range v {
				if k == "text" {
					continue
				}
				if s, ok := val.(string); ok {
					if len(strings.Fields(s)) > 5 {
						parts = append(parts, s)
					}
					continue
				}
				collect(val)
			}
		case []any:
			for _, item := range v {
				collect(item)
			}
		}
	}
	collect(data)
	return strings.Join(parts, " ")
}
