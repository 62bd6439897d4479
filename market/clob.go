package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ClobClient reads prices from the central limit order book.
type ClobClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (c *ClobClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Midpoint returns the mid price (0..1) for an outcome token.
func (c *ClobClient) Midpoint(ctx context.Context, tokenID string) (float64, error) {
	u := fmt.Sprintf("%s/midpoint?token_id=%s", strings.TrimRight(c.BaseURL, "/"), url.QueryEscape(tokenID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("midpoint request failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Mid string `json:"mid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode midpoint: %w", err)
	}
	mid, err := strconv.ParseFloat(body.Mid, 64)
	if err != nil {
		return 0, fmt.Errorf("parse midpoint %q: %w", body.Mid, err)
	}
	return mid, nil
}

// Order is a market buy by notional amount.
type Order struct {
	TokenID string
	USDC    float64
}

// OrderPlacer executes (or simulates) a market order and returns an order id.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, o Order) (string, error)
}

// DryRunPlacer logs the order without touching the exchange. This is the
// default placer; live execution has to be opted into.
type DryRunPlacer struct{}

func (DryRunPlacer) PlaceOrder(_ context.Context, o Order) (string, error) {
	id := "dry-" + uuid.New().String()
	slog.Info("dry-run order", slog.String("token_id", o.TokenID), slog.Float64("usdc", o.USDC), slog.String("order_id", id))
	return id, nil
}

// HTTPPlacer posts market orders to the CLOB order endpoint. The exchange
// additionally requires request signing configured out of band (API
// credentials on the HTTP client's transport).
type HTTPPlacer struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (p *HTTPPlacer) http() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

func (p *HTTPPlacer) PlaceOrder(ctx context.Context, o Order) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"token_id": o.TokenID,
		"amount":   o.USDC,
		"side":     "BUY",
		"type":     "market",
	})
	if err != nil {
		return "", err
	}
	u := strings.TrimRight(p.BaseURL, "/") + "/order"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.http().Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("order request failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		OrderID string `json:"orderID"`
		ID      string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode order response: %w", err)
	}
	if body.OrderID != "" {
		return body.OrderID, nil
	}
	return body.ID, nil
}
