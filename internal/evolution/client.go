// Package evolution is the HTTP client for the Evolution API WhatsApp
// provider. All outbound sends and media fetches for one instance go through
// a single Client, which paces requests and absorbs provider throttling.
package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dgarduno-ZAPATA/tono-gateway/internal/config"
)

// maxSendAttempts bounds retries for one logical send. Attempts beyond the
// first happen only on throttling or transient transport failures.
const maxSendAttempts = 3

// SendResult carries the provider-assigned identity of an accepted message.
// The message id feeds echo tracking so the webhook can recognize our own
// sends when they come back.
type SendResult struct {
	MessageID string
	Status    string
}

// Client talks to one Evolution API instance.
type Client struct {
	baseURL  string
	apiKey   string
	instance string
	http     *http.Client
	limiter  *rate.Limiter
	sleep    func(context.Context, time.Duration) error
}

// NewClient builds a client from provider config. Send pacing defaults to
// 2 req/s when unconfigured.
func NewClient(cfg config.ProviderConfig) *Client {
	perSecond := cfg.SendRatePerSecond
	if perSecond <= 0 {
		perSecond = 2
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		instance: cfg.Instance,
		http:     &http.Client{Timeout: cfg.ProviderTimeout()},
		limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SendText delivers a plain text message to a conversation.
func (c *Client) SendText(ctx context.Context, to, text string) (*SendResult, error) {
	return c.send(ctx, "/message/sendText/", map[string]any{
		"number": to,
		"text":   text,
	})
}

// SendImage delivers one image by URL with an optional caption.
func (c *Client) SendImage(ctx context.Context, to, mediaURL, caption string) (*SendResult, error) {
	body := map[string]any{
		"number":    to,
		"mediatype": "image",
		"media":     mediaURL,
	}
	if caption != "" {
		body["caption"] = caption
	}
	return c.send(ctx, "/message/sendMedia/", body)
}

// SendDocument delivers a document (PDF spec sheet) by URL.
func (c *Client) SendDocument(ctx context.Context, to, fileURL, fileName string) (*SendResult, error) {
	return c.send(ctx, "/message/sendMedia/", map[string]any{
		"number":    to,
		"mediatype": "document",
		"media":     fileURL,
		"fileName":  fileName,
	})
}

// FetchMediaBase64 downloads the media content of a received message as
// base64, used for voice note transcription.
func (c *Client) FetchMediaBase64(ctx context.Context, messageID string) (string, error) {
	raw, err := c.post(ctx, "/chat/getBase64FromMediaMessage/", map[string]any{
		"message": map[string]any{
			"key": map[string]any{"id": messageID},
		},
		"convertToMp4": false,
	})
	if err != nil {
		return "", err
	}
	var decoded struct {
		Base64 string `json:"base64"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode media response: %w", err)
	}
	if decoded.Base64 == "" {
		return "", fmt.Errorf("media response for %s has no base64 content", messageID)
	}
	return decoded.Base64, nil
}

// send posts with retry on throttling and transient transport failures.
// Retry-After from the provider takes precedence over the exponential
// fallback of 2^(attempt+1) seconds.
func (c *Client) send(ctx context.Context, path string, body map[string]any) (*SendResult, error) {
	var lastErr error
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff(attempt, lastErr)); err != nil {
				return nil, err
			}
		}

		raw, err := c.post(ctx, path, body)
		if err == nil {
			return decodeSendResult(raw), nil
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
		slog.Warn("provider send retrying",
			"path", path,
			"attempt", attempt+1,
			"error", err)
	}
	return nil, fmt.Errorf("send failed after %d attempts: %w", maxSendAttempts, lastErr)
}

func (c *Client) backoff(attempt int, lastErr error) time.Duration {
	var throttled *ThrottledError
	if asThrottled(lastErr, &throttled) && throttled.RetryAfter > 0 {
		return throttled.RetryAfter
	}
	return time.Duration(1<<uint(attempt+1)) * time.Second
}

// post issues one rate-limited request and returns the raw response body.
func (c *Client) post(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + path + c.instance
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ThrottledError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= 500:
		return nil, &TransportError{Err: fmt.Errorf("provider returned %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("provider rejected request: %d %s", resp.StatusCode, truncate(string(raw), 200))
	}
	return raw, nil
}

func decodeSendResult(raw []byte) *SendResult {
	var resp struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
		Status string `json:"status"`
	}
	// Responses without a key are still accepted sends; the echo layer just
	// falls back to text matching for them.
	_ = json.Unmarshal(raw, &resp)
	return &SendResult{MessageID: resp.Key.ID, Status: resp.Status}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
