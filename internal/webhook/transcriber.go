package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/dgarduno-ZAPATA/tono-gateway/internal/config"
)

const (
	defaultSTTTimeoutSeconds = 30
	sttTranscribeEndpoint    = "/transcribe_audio"
)

// Transcriber converts a base64-encoded voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioBase64 string) (string, error)
}

// STTProxy posts audio to an external speech-to-text proxy service.
type STTProxy struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewSTTProxy returns nil when no proxy URL is configured; callers treat a
// nil Transcriber as "audio unsupported".
func NewSTTProxy(cfg config.ProviderConfig) *STTProxy {
	if cfg.STTProxyURL == "" {
		return nil
	}
	timeoutSec := cfg.STTTimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = defaultSTTTimeoutSeconds
	}
	return &STTProxy{
		url:     cfg.STTProxyURL + sttTranscribeEndpoint,
		timeout: time.Duration(timeoutSec) * time.Second,
		client:  &http.Client{},
	}
}

type sttResponse struct {
	Transcript string `json:"transcript"`
}

// Transcribe decodes the audio and posts it as multipart form data. Any HTTP
// or parse error is returned so the caller can log it and skip the message.
func (s *STTProxy) Transcribe(ctx context.Context, audioBase64 string) (string, error) {
	audio, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return "", fmt.Errorf("stt: decode audio: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", "voice-note.ogg")
	if err != nil {
		return "", fmt.Errorf("stt: create form file field: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("stt: write audio bytes to form: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("stt: close multipart writer: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.url, &body)
	if err != nil {
		return "", fmt.Errorf("stt: build request to %q: %w", s.url, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: request to %q failed: %w", s.url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("stt: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt: upstream returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result sttResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("stt: parse response JSON: %w", err)
	}
	return result.Transcript, nil
}
