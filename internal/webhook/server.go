package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dgarduno-ZAPATA/tono-gateway/internal/bus"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/cache"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/config"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/debounce"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/handoff"
)

// maxWebhookBody caps request bodies; provider events are small JSON
// documents.
const maxWebhookBody = 2 << 20

// InventoryCounter reports catalog size for the health endpoint.
type InventoryCounter interface {
	Len() int
}

// Server is the HTTP surface of the gateway: the provider webhook, a health
// endpoint and a websocket event feed.
type Server struct {
	cfg         *config.Config
	intake      *Intake
	events      *bus.Bus
	silences    *handoff.SilenceRegistry
	messageIDs  *cache.BoundedSet
	echoes      *handoff.EchoTracker
	accumulator *debounce.Accumulator
	inventory   InventoryCounter

	upgrader   websocket.Upgrader
	httpServer *http.Server
}

func NewServer(
	cfg *config.Config,
	intake *Intake,
	events *bus.Bus,
	silences *handoff.SilenceRegistry,
	messageIDs *cache.BoundedSet,
	echoes *handoff.EchoTracker,
	accumulator *debounce.Accumulator,
	inventory InventoryCounter,
) *Server {
	s := &Server{
		cfg:         cfg,
		intake:      intake,
		events:      events,
		silences:    silences,
		messageIDs:  messageIDs,
		echoes:      echoes,
		accumulator: accumulator,
		inventory:   inventory,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates websocket origins against the allowed list. No
// configured origins allows all; an empty Origin header (non-browser
// clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("websocket origin rejected", "origin", origin)
	return false
}

// BuildMux registers all routes.
func (s *Server) BuildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// handleWebhook acknowledges every delivery with 200 immediately and
// processes events in the background so the provider never retries.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.ack(w, "error_but_acked", "read_failed")
		return
	}

	if s.cfg.Provider.LogPayloads {
		slog.Info("webhook payload",
			"body", SanitizePayload(body, s.cfg.Provider.LogPayloadMaxChars))
	}

	events, err := ExtractEvents(body)
	if err != nil {
		slog.Error("webhook body is not valid JSON", "error", err)
		s.ack(w, "ignored", "invalid_json")
		return
	}
	if len(events) == 0 {
		s.ack(w, "ignored", "no_data")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		for _, ev := range events {
			s.intake.ProcessEvent(ctx, ev)
		}
	}()
	s.ack(w, "accepted", "")
}

func (s *Server) ack(w http.ResponseWriter, status, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	resp := map[string]string{"status": status}
	if reason != "" {
		resp["reason"] = reason
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counters := s.intake.Counters()
	inventoryCount := 0
	if s.inventory != nil {
		inventoryCount = s.inventory.Len()
	}
	health := map[string]any{
		"status":                       "ok",
		"instance":                     s.cfg.Provider.Instance,
		"inventory_count":              inventoryCount,
		"silenced_chats":               s.silences.Count(),
		"processed_msgs_cache":         s.messageIDs.Len(),
		"bot_messages_tracked":         s.echoes.TrackedIDs(),
		"pending_message_queues":       s.accumulator.Pending(),
		"event_subscribers":            s.events.SubscriberCount(),
		"messages_accepted":            counters.Accepted.Load(),
		"messages_ignored":             counters.Ignored.Load(),
		"messages_errored":             counters.Errors.Load(),
		"auto_reactivate_minutes":      int(s.cfg.Handoff.SilenceDuration().Minutes()),
		"message_accumulation_seconds": s.cfg.Debounce.Window().Seconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

// handleWebSocket streams operational events to an observer until it
// disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.events.Subscribe()
	defer s.events.Unsubscribe(sub)

	// Drain reads so close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// Start serves until the context is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return nil
}
