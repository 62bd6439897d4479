package chat

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
)

// TelegramClient is a minimal Bot API client: long-poll updates in, messages
// out. No webhooks.
type TelegramClient struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// TgUpdate is one long-poll update.
type TgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *TgMessage `json:"message"`
}

// TgMessage is an incoming chat message.
type TgMessage struct {
	MessageID int64  `json:"message_id"`
	Chat      TgChat `json:"chat"`
	Text      string `json:"text"`
}

// TgChat identifies the conversation.
type TgChat struct {
	ID int64 `json:"id"`
}

func (c *TelegramClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *TelegramClient) methodURL(method string) string {
	base := c.BaseURL
	if base == "" {
		base = "https://api.telegram.org"
	}
	return fmt.Sprintf("%s/bot%s/%s", base, c.Token, method)
}

// GetUpdates long-polls for updates after offset. timeoutSec is the server
// hold time; the HTTP client must allow at least that much.
func (c *TelegramClient) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]TgUpdate, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("timeout", strconv.Itoa(timeoutSec))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.methodURL("getUpdates")+"?"+q.Encode(), nil)
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
		return nil, fmt.Errorf("getUpdates failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		OK     bool       `json:"ok"`
		Result []TgUpdate `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode getUpdates: %w", err)
	}
	if !body.OK {
		return nil, fmt.Errorf("getUpdates returned ok=false")
	}
	return body.Result, nil
}

// SendMessage sends text to a chat. parseMode may be "" or "HTML".
func (c *TelegramClient) SendMessage(ctx context.Context, chatID int64, text, parseMode string) error {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendMessage"), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sendMessage failed: %s: %s", resp.Status, string(b))
	}
	return nil
}
