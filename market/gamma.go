// Package market talks to the prediction-market APIs: Gamma for event and
// market discovery, the CLOB for prices and orders, plus the keyword mapping
// and auto-trade engine that turn buzzword counts into buy decisions.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Market is one tradeable question inside an event. The API encodes outcomes
// and token ids as JSON strings inside JSON, so both get normalized on decode.
type Market struct {
	ID           string          `json:"id"`
	Question     string          `json:"question"`
	Active       bool            `json:"active"`
	Closed       bool            `json:"closed"`
	RawOutcomes  json.RawMessage `json:"outcomes"`
	RawTokenIDs  json.RawMessage `json:"clobTokenIds"`
	outcomes     []string
	clobTokenIDs []string
}

// Outcomes returns the decoded outcome labels.
func (m *Market) Outcomes() []string { return m.outcomes }

// TokenIDs returns the decoded CLOB token ids, parallel to Outcomes.
func (m *Market) TokenIDs() []string { return m.clobTokenIDs }

// YesTokenID returns the CLOB token for the "Yes" outcome, or "" when the
// market has no Yes side.
func (m *Market) YesTokenID() string {
	for i, o := range m.outcomes {
		if strings.EqualFold(o, "Yes") && i < len(m.clobTokenIDs) {
			return m.clobTokenIDs[i]
		}
	}
	return ""
}

func (m *Market) normalize() {
	m.outcomes = decodeStringArray(m.RawOutcomes)
	m.clobTokenIDs = decodeStringArray(m.RawTokenIDs)
}

// decodeStringArray handles both a real JSON array and the API's
// string-encoded array ("[\"Yes\",\"No\"]").
func decodeStringArray(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return nil
	}
	return arr
}

// GammaClient reads event and market data from the Gamma API.
type GammaClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (c *GammaClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// ActiveMarkets returns the open, unclosed markets of the event with the
// given slug.
func (c *GammaClient) ActiveMarkets(ctx context.Context, slug string) ([]Market, error) {
	u := fmt.Sprintf("%s/events?slug=%s", strings.TrimRight(c.BaseURL, "/"), url.QueryEscape(slug))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gamma events request failed: %s: %s", resp.Status, string(b))
	}
	var events []struct {
		Markets []Market `json:"markets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode gamma events: %w", err)
	}
	var out []Market
	for _, ev := range events {
		for _, m := range ev.Markets {
			if m.Closed || !m.Active {
				continue
			}
			m.normalize()
			out = append(out, m)
		}
	}
	return out, nil
}
