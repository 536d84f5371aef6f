package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgarduno-ZAPATA/tono-gateway/internal/bus"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/cache"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/config"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/debounce"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/handoff"
)

type turnRecorder struct {
	mu    sync.Mutex
	turns []string
}

func (r *turnRecorder) flush(conversation, combined string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, conversation+": "+combined)
}

func (r *turnRecorder) wait(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.turns) >= n {
			turns := append([]string(nil), r.turns...)
			r.mu.Unlock()
			return turns
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d turns", n)
	return nil
}

func (r *turnRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns)
}

type testHarness struct {
	intake      *Intake
	silences    *handoff.SilenceRegistry
	echoes      *handoff.EchoTracker
	messageIDs  *cache.BoundedSet
	accumulator *debounce.Accumulator
	turns       *turnRecorder
	server      *Server
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		silences:   handoff.NewSilenceRegistry(),
		echoes:     handoff.NewEchoTracker(100, 3*time.Second),
		messageIDs: cache.NewBoundedSet(100),
		turns:      &turnRecorder{},
	}
	h.accumulator = debounce.New(20*time.Millisecond, h.turns.flush)
	t.Cleanup(h.accumulator.Stop)

	events := bus.New()
	h.intake = NewIntake(config.HandoffConfig{}, h.messageIDs, h.echoes, h.silences,
		h.accumulator, events, nil, nil, nil)

	cfg := config.Default()
	h.server = NewServer(cfg, h.intake, events, h.silences, h.messageIDs,
		h.echoes, h.accumulator, nil)
	return h
}

func textEvent(conversation, msgID, text string, fromMe bool) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"key":{"remoteJid":%q,"fromMe":%v,"id":%q},"pushName":"Cliente","message":{"conversation":%q}}`,
		conversation, fromMe, msgID, text))
}

func TestProcessEvent_CustomerTextReachesTurn(t *testing.T) {
	h := newHarness(t)

	h.intake.ProcessEvent(context.Background(), textEvent("5215550001@s.whatsapp.net", "M1", "hola", false))
	h.intake.ProcessEvent(context.Background(), textEvent("5215550001@s.whatsapp.net", "M2", "precio del auman?", false))

	turns := h.turns.wait(t, 1)
	want := "5215550001@s.whatsapp.net: hola | precio del auman?"
	if turns[0] != want {
		t.Errorf("turn = %q, want %q", turns[0], want)
	}
	if got := h.intake.Counters().Accepted.Load(); got != 2 {
		t.Errorf("accepted = %d, want 2", got)
	}
}

func TestProcessEvent_DuplicateIDIgnored(t *testing.T) {
	h := newHarness(t)

	ev := textEvent("conv@s.whatsapp.net", "DUP", "hola", false)
	h.intake.ProcessEvent(context.Background(), ev)
	h.intake.ProcessEvent(context.Background(), ev)

	turns := h.turns.wait(t, 1)
	if len(turns) != 1 || !strings.HasSuffix(turns[0], ": hola") {
		t.Errorf("turns = %v, want one turn of just hola", turns)
	}
	if got := h.intake.Counters().Ignored.Load(); got != 1 {
		t.Errorf("ignored = %d, want 1", got)
	}
}

func TestProcessEvent_GroupDiscarded(t *testing.T) {
	h := newHarness(t)

	h.intake.ProcessEvent(context.Background(), textEvent("12036@g.us", "G1", "hola grupo", false))

	time.Sleep(60 * time.Millisecond)
	if h.turns.count() != 0 {
		t.Error("group message must not produce a turn")
	}
	if got := h.intake.Counters().Ignored.Load(); got != 1 {
		t.Errorf("ignored = %d, want 1", got)
	}
}

func TestProcessEvent_HumanTakeoverSilences(t *testing.T) {
	h := newHarness(t)
	conv := "5215550001@s.whatsapp.net"

	h.intake.ProcessEvent(context.Background(),
		textEvent(conv, "H1", "aquí Adrián, ahorita te mando las fotos", true))

	if !h.silences.IsSilenced(conv) {
		t.Fatal("unrecognized outbound message should silence the conversation")
	}
	left, permanent, ok := h.silences.Remaining(conv)
	if !ok || permanent {
		t.Fatalf("Remaining = (%v, %v, %v), want temporary silence", left, permanent, ok)
	}
	if left > time.Hour || left < 59*time.Minute {
		t.Errorf("silence left = %v, want about 60m", left)
	}
}

func TestProcessEvent_BotEchoDoesNotSilence(t *testing.T) {
	h := newHarness(t)
	conv := "5215550001@s.whatsapp.net"

	h.echoes.RecordSend(conv, "BOT1", "Claro, te comparto el precio")

	h.intake.ProcessEvent(context.Background(),
		textEvent(conv, "BOT1", "Claro, te comparto el precio", true))

	if h.silences.IsSilenced(conv) {
		t.Error("our own echo must not trigger a takeover")
	}
}

func TestProcessEvent_AutomatedNoticeDoesNotSilence(t *testing.T) {
	h := newHarness(t)
	conv := "5215550002@s.whatsapp.net"

	h.intake.ProcessEvent(context.Background(),
		textEvent(conv, "AUTO1", "¡Bienvenido! Consulta el catálogo en wa.me/c/5215550001", true))

	if h.silences.IsSilenced(conv) {
		t.Error("an automated notice must not trigger a takeover")
	}
}

func TestWebhook_AlwaysAcks200(t *testing.T) {
	h := newHarness(t)
	mux := h.server.BuildMux()

	tests := []struct {
		name       string
		body       string
		wantStatus string
	}{
		{"valid event", `{"event":"messages.upsert","data":{"key":{"remoteJid":"c@s.whatsapp.net","id":"W1"},"message":{"conversation":"hola"}}}`, "accepted"},
		{"event list", `{"data":[{"key":{"remoteJid":"c@s.whatsapp.net","id":"W2"},"message":{"conversation":"hola"}}]}`, "accepted"},
		{"invalid json", `{{{`, "ignored"},
		{"no data", `{"event":"connection.update"}`, "ignored"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			var resp map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp["status"] != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp["status"], tt.wantStatus)
			}
		})
	}
}

func TestHealth_ReportsStructuralCounts(t *testing.T) {
	h := newHarness(t)
	h.silences.SilencePermanent("quiet@s.whatsapp.net")
	h.messageIDs.Add("M1")
	h.echoes.RecordSend("c", "B1", "texto")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.server.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var health map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("status = %v, want ok", health["status"])
	}
	if health["silenced_chats"] != float64(1) {
		t.Errorf("silenced_chats = %v, want 1", health["silenced_chats"])
	}
	if health["processed_msgs_cache"] != float64(1) {
		t.Errorf("processed_msgs_cache = %v, want 1", health["processed_msgs_cache"])
	}
	if health["bot_messages_tracked"] != float64(1) {
		t.Errorf("bot_messages_tracked = %v, want 1", health["bot_messages_tracked"])
	}
}

func TestExtract_MessageShapes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind string
		wantText string
	}{
		{
			"plain conversation",
			`{"data":{"key":{"remoteJid":"c@s.whatsapp.net","id":"1"},"message":{"conversation":"hola"}}}`,
			KindText, "hola",
		},
		{
			"extended text",
			`{"data":{"key":{"remoteJid":"c@s.whatsapp.net","id":"2"},"message":{"extendedTextMessage":{"text":"link reply"}}}}`,
			KindText, "link reply",
		},
		{
			"audio",
			`{"data":{"key":{"remoteJid":"c@s.whatsapp.net","id":"3"},"message":{"audioMessage":{"seconds":4}}}}`,
			KindAudio, "",
		},
		{
			"voice note ptt",
			`{"data":{"key":{"remoteJid":"c@s.whatsapp.net","id":"4"},"message":{"pttMessage":{"seconds":7}}}}`,
			KindAudio, "",
		},
		{
			"image caption",
			`{"data":{"key":{"remoteJid":"c@s.whatsapp.net","id":"5"},"message":{"imageMessage":{"caption":"mira esta"}}}}`,
			KindImage, "mira esta",
		},
		{
			"captionless image",
			`{"data":{"key":{"remoteJid":"c@s.whatsapp.net","id":"6"},"message":{"imageMessage":{}}}}`,
			KindImage, "(Envió una foto)",
		},
		{
			"sticker",
			`{"data":{"key":{"remoteJid":"c@s.whatsapp.net","id":"7"},"message":{"stickerMessage":{}}}}`,
			KindOther, "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := Extract([]byte(tt.body))
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if in.Kind != tt.wantKind || in.Text != tt.wantText {
				t.Errorf("got (%s, %q), want (%s, %q)", in.Kind, in.Text, tt.wantKind, tt.wantText)
			}
		})
	}
}

func TestExtract_MissingConversation(t *testing.T) {
	if _, err := Extract([]byte(`{"data":{"key":{}}}`)); err == nil {
		t.Error("want error for payload without conversation id")
	}
}

func TestSanitizePayload(t *testing.T) {
	body := []byte(`{"apikey":"SECRET","data":{"token":"TKN","text":"hola"}}`)
	got := SanitizePayload(body, 0)
	if strings.Contains(got, "SECRET") || strings.Contains(got, "TKN") {
		t.Errorf("sanitized payload leaks secrets: %s", got)
	}
	if !strings.Contains(got, `"***"`) {
		t.Errorf("expected masked fields, got %s", got)
	}

	long := []byte(`{"text":"` + strings.Repeat("x", 7000) + `"}`)
	if truncated := SanitizePayload(long, 0); len(truncated) > defaultLogMaxChars+20 {
		t.Errorf("payload not truncated, len = %d", len(truncated))
	}
}
