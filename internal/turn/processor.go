package turn

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dgarduno-ZAPATA/tono-gateway/internal/bus"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/cache"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/catalog"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/config"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/dispatch"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/funnel"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/handoff"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/store"
)

// fallbackReply goes out when the responder fails; the customer should never
// see an error.
const fallbackReply = "Dame un momento..."

const (
	silenceCommand    = "/silencio"
	activateCommand   = "/activar"
	silencedReply     = "Bot desactivado. Un asesor humano te atenderá en breve."
	activatedReply    = "Bot activado de nuevo. ¿En qué te ayudo?"
	turnTimeout       = 3 * time.Minute
	leadAlertTemplate = "*NUEVO LEAD*\n\nCliente: wa.me/%s\nEl bot cerró una cita. Revisa el tablero."
)

// interestKeywords trigger a soft owner alert even without a qualified lead.
var interestKeywords = []string{
	"precio", "cuanto", "cuánto", "interesa", "verlo", "ubicacion", "ubicación",
	"dónde", "donde", "trato", "comprar", "informes", "info",
}

// Processor runs complete turns. Its Handle method matches the accumulator's
// flush callback.
type Processor struct {
	cfg        *config.Config
	sessions   store.SessionStore
	responder  Responder
	dispatcher *dispatch.Dispatcher
	silences   *handoff.SilenceRegistry
	inventory  *catalog.Catalog
	notifier   funnel.Notifier
	funnelKeys *cache.BoundedSet
	events     *bus.Bus
	tracer     trace.Tracer

	sleep func(context.Context, time.Duration) error
	rand  func() float64
}

func NewProcessor(
	cfg *config.Config,
	sessions store.SessionStore,
	responder Responder,
	dispatcher *dispatch.Dispatcher,
	silences *handoff.SilenceRegistry,
	inventory *catalog.Catalog,
	notifier funnel.Notifier,
	funnelKeys *cache.BoundedSet,
	events *bus.Bus,
) *Processor {
	return &Processor{
		cfg:        cfg,
		sessions:   sessions,
		responder:  responder,
		dispatcher: dispatcher,
		silences:   silences,
		inventory:  inventory,
		notifier:   notifier,
		funnelKeys: funnelKeys,
		events:     events,
		tracer:     otel.Tracer("tono-gateway/turn"),
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
		rand: rand.Float64,
	}
}

// Handle processes one flushed turn. Signature matches debounce.FlushFunc.
func (p *Processor) Handle(conversation, combined string, count int) {
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	ctx, span := p.tracer.Start(ctx, "turn.process",
		trace.WithAttributes(
			attribute.String("conversation", conversation),
			attribute.Int("message_count", count),
		))
	defer span.End()

	p.process(ctx, conversation, combined)
}

func (p *Processor) process(ctx context.Context, conversation, combined string) {
	command := strings.ToLower(strings.TrimSpace(combined))
	switch command {
	case silenceCommand:
		p.handleSilenceCommand(ctx, conversation)
		return
	case activateCommand:
		p.handleActivateCommand(ctx, conversation)
		return
	}

	if p.silences.IsSilenced(conversation) {
		left, permanent, _ := p.silences.Remaining(conversation)
		slog.Info("turn suppressed, conversation is silenced",
			"conversation", conversation,
			"permanent", permanent,
			"minutes_left", int(left.Minutes()))
		return
	}

	if err := p.inventory.EnsureLoaded(ctx); err != nil {
		slog.Warn("inventory refresh failed, continuing with last snapshot", "error", err)
	}

	session := p.loadSession(ctx, conversation)

	p.typingDelay(ctx)

	resp := p.respond(ctx, Request{
		Conversation: conversation,
		Message:      combined,
		State:        session.State,
		Context:      session.Context,
		Inventory:    p.inventory.Items(),
	})

	// Responders may alias the session context, so the previous stage must be
	// read before saveSession writes the new one into the map.
	previousStage, _ := session.Context["funnel_stage"].(string)

	p.saveSession(ctx, conversation, resp)

	if err := p.dispatcher.Deliver(ctx, conversation, replyFor(resp)); err != nil {
		slog.Error("turn delivery failed", "conversation", conversation, "error", err)
	}

	p.syncFunnel(ctx, conversation, previousStage, resp)
	p.notifyOwner(ctx, conversation, combined, resp)

	p.events.Publish(bus.EventTurnFlushed, conversation, map[string]any{
		"state": resp.NewState,
	})
}

func (p *Processor) handleSilenceCommand(ctx context.Context, conversation string) {
	p.silences.SilencePermanent(conversation)
	p.events.Publish(bus.EventSilenceStarted, conversation, map[string]any{"permanent": true})

	if err := p.dispatcher.Deliver(ctx, conversation, dispatch.Reply{Text: silencedReply}); err != nil {
		slog.Error("silence confirmation failed", "error", err)
	}
	if owner := p.cfg.Provider.OwnerPhone; owner != "" {
		alert := fmt.Sprintf("*HANDOFF ACTIVADO*\n\nEl chat con wa.me/%s ha sido pausado.",
			cleanPhone(conversation))
		if err := p.dispatcher.Deliver(ctx, owner, dispatch.Reply{Text: alert}); err != nil {
			slog.Error("handoff alert failed", "error", err)
		}
	}
}

func (p *Processor) handleActivateCommand(ctx context.Context, conversation string) {
	p.silences.Unsilence(conversation)
	p.events.Publish(bus.EventSilenceLifted, conversation, nil)

	if err := p.dispatcher.Deliver(ctx, conversation, dispatch.Reply{Text: activatedReply}); err != nil {
		slog.Error("activation confirmation failed", "error", err)
	}
}

func (p *Processor) loadSession(ctx context.Context, conversation string) *store.Session {
	session, err := p.sessions.Get(ctx, conversation)
	if err != nil {
		slog.Error("session load failed, starting fresh", "conversation", conversation, "error", err)
		session = nil
	}
	if session == nil {
		session = &store.Session{
			Conversation: conversation,
			State:        store.DefaultState,
			Context:      map[string]any{},
		}
	}
	if session.Context == nil {
		session.Context = map[string]any{}
	}
	return session
}

// typingDelay pauses 5 to 8 seconds so replies land at a human pace.
func (p *Processor) typingDelay(ctx context.Context) {
	if p.cfg.Gateway.DisableTypingDelay {
		return
	}
	min := float64(p.cfg.Gateway.TypingDelayMinSeconds)
	max := float64(p.cfg.Gateway.TypingDelayMaxSeconds)
	if max <= min {
		max = min + 1
	}
	delay := time.Duration((min + p.rand()*(max-min)) * float64(time.Second))
	_ = p.sleep(ctx, delay)
}

func (p *Processor) respond(ctx context.Context, req Request) *Response {
	resp, err := p.responder.Respond(ctx, req)
	if err != nil || resp == nil {
		slog.Error("responder failed, using fallback", "conversation", req.Conversation, "error", err)
		return &Response{
			Reply:      fallbackReply,
			NewState:   req.State,
			NewContext: req.Context,
		}
	}
	if resp.NewState == "" {
		resp.NewState = req.State
	}
	if resp.NewContext == nil {
		resp.NewContext = req.Context
	}
	return resp
}

// saveSession is best effort; a storage failure must not block the reply.
func (p *Processor) saveSession(ctx context.Context, conversation string, resp *Response) {
	newContext := resp.NewContext
	if resp.FunnelStage != "" {
		newContext["funnel_stage"] = resp.FunnelStage
	}
	if err := p.sessions.Upsert(ctx, conversation, resp.NewState, newContext); err != nil {
		slog.Error("session save failed", "conversation", conversation, "error", err)
	}
}

func replyFor(resp *Response) dispatch.Reply {
	if resp.PDFURL != "" {
		name := resp.PDFName
		if name == "" {
			name = "documento.pdf"
		}
		return dispatch.Reply{Text: resp.Reply, DocumentURL: resp.PDFURL, DocumentName: name}
	}
	return dispatch.Reply{Text: resp.Reply, Images: resp.MediaURLs}
}

// syncFunnel pushes a stage transition to the board at most once per
// conversation and stage.
func (p *Processor) syncFunnel(ctx context.Context, conversation, previousStage string, resp *Response) {
	stage := resp.FunnelStage
	if !funnel.SyncableStage(stage) {
		return
	}
	if stage == previousStage {
		return
	}

	key := conversation + "|" + stage
	if p.funnelKeys.Contains(key) {
		return
	}
	p.funnelKeys.Add(key)

	data := resp.FunnelData
	lead := funnel.Lead{
		Phone:       cleanPhone(conversation),
		ExternalID:  uuid.NewString(),
		Name:        data["nombre"],
		Interest:    data["interes"],
		Appointment: data["cita"],
		Payment:     data["pago"],
	}
	note := stageNote(stage, data)

	slog.Info("funnel stage transition", "conversation", conversation, "stage", stage)
	if err := p.notifier.UpsertLead(ctx, lead, stage, note); err != nil {
		slog.Error("funnel sync failed", "conversation", conversation, "stage", stage, "error", err)
	}
}

func stageNote(stage string, data map[string]string) string {
	switch stage {
	case funnel.StageEnganche:
		return "Cliente interactuando"
	case funnel.StageIntencion:
		return "Interesado en: " + orUnknown(data["interes"])
	case funnel.StageCita:
		return "Cita confirmada: " + orUnknown(data["cita"])
	}
	return ""
}

func orUnknown(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// notifyOwner alerts the business owner about qualified leads, and about
// plain interest keywords otherwise. Lead alerts fire once per conversation.
func (p *Processor) notifyOwner(ctx context.Context, conversation, userMessage string, resp *Response) {
	owner := p.cfg.Provider.OwnerPhone
	if owner == "" {
		return
	}

	if resp.Lead {
		key := conversation + "|lead"
		if p.funnelKeys.Contains(key) {
			return
		}
		p.funnelKeys.Add(key)
		alert := fmt.Sprintf(leadAlertTemplate, cleanPhone(conversation))
		if err := p.dispatcher.Deliver(ctx, owner, dispatch.Reply{Text: alert}); err != nil {
			slog.Error("lead alert failed", "error", err)
		}
		return
	}

	lower := strings.ToLower(userMessage)
	for _, kw := range interestKeywords {
		if strings.Contains(lower, kw) {
			alert := fmt.Sprintf("*Interés Detectado*\nCliente: wa.me/%s\nDijo: %q\nBot: %q",
				cleanPhone(conversation), userMessage, truncateReply(resp.Reply, 60))
			if err := p.dispatcher.Deliver(ctx, owner, dispatch.Reply{Text: alert}); err != nil {
				slog.Error("interest alert failed", "error", err)
			}
			return
		}
	}
}

func truncateReply(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func cleanPhone(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}
