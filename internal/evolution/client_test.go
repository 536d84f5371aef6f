package evolution

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgarduno-ZAPATA/tono-gateway/internal/config"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(config.ProviderConfig{
		BaseURL:           srv.URL,
		APIKey:            "test-key",
		Instance:          "tractos",
		SendRatePerSecond: 1000,
	})
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestSendText_RetriesThrottlingThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	c, slept := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "test-key" {
			t.Errorf("apikey header = %q", r.Header.Get("apikey"))
		}
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"key":{"id":"PROVIDER_MSG_1"},"status":"PENDING"}`))
	}))

	res, err := c.SendText(context.Background(), "521555@s.whatsapp.net", "hola")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if res.MessageID != "PROVIDER_MSG_1" {
		t.Errorf("MessageID = %q, want PROVIDER_MSG_1", res.MessageID)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	// No Retry-After, so exponential fallback: 4s then 8s.
	want := []time.Duration{4 * time.Second, 8 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("backoffs = %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Errorf("backoff[%d] = %v, want %v", i, (*slept)[i], want[i])
		}
	}
}

func TestSendText_RetryAfterTakesPrecedence(t *testing.T) {
	var calls atomic.Int32
	c, slept := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"key":{"id":"ID"}}`))
	}))

	if _, err := c.SendText(context.Background(), "conv", "hola"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(*slept) != 1 || (*slept)[0] != 7*time.Second {
		t.Errorf("backoffs = %v, want [7s]", *slept)
	}
}

func TestSendText_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	if _, err := c.SendText(context.Background(), "conv", "hola"); err == nil {
		t.Fatal("want error after exhausting retries")
	}
	if calls.Load() != maxSendAttempts {
		t.Errorf("calls = %d, want %d", calls.Load(), maxSendAttempts)
	}
}

func TestSendText_RejectionDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid number"}`))
	}))

	if _, err := c.SendText(context.Background(), "conv", "hola"); err == nil {
		t.Fatal("want error on 400")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on rejection)", calls.Load())
	}
}

func TestSendText_ServerErrorIsTransient(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"key":{"id":"ID2"}}`))
	}))

	res, err := c.SendText(context.Background(), "conv", "hola")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if res.MessageID != "ID2" {
		t.Errorf("MessageID = %q, want ID2", res.MessageID)
	}
}

func TestFetchMediaBase64(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/getBase64FromMediaMessage/tractos" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"base64":"T0dH"}`))
	}))

	b64, err := c.FetchMediaBase64(context.Background(), "AUDIO_MSG")
	if err != nil {
		t.Fatalf("FetchMediaBase64: %v", err)
	}
	if b64 != "T0dH" {
		t.Errorf("base64 = %q, want T0dH", b64)
	}
}
