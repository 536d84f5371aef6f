package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/dgarduno-ZAPATA/tono-gateway/internal/bus"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/cache"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/config"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/debounce"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/handoff"
)

// audioApology is sent when a voice note cannot be transcribed.
const audioApology = "Tuve un problema escuchando el audio. ¿Me lo puedes escribir o mandar de nuevo?"

// MediaFetcher downloads received media as base64. *evolution.Client
// satisfies it.
type MediaFetcher interface {
	FetchMediaBase64(ctx context.Context, messageID string) (string, error)
}

// TextSender is the minimal send surface the intake needs for the audio
// apology.
type TextSender interface {
	SendTextMessage(ctx context.Context, conversation, text string) error
}

// Counters tracks intake dispositions for the health endpoint.
type Counters struct {
	Accepted atomic.Int64
	Ignored  atomic.Int64
	Errors   atomic.Int64
}

// Intake normalizes provider events and routes them: customer messages into
// the debounce accumulator, business-side messages into handoff detection.
type Intake struct {
	cfg         config.HandoffConfig
	messageIDs  *cache.BoundedSet
	echoes      *handoff.EchoTracker
	silences    *handoff.SilenceRegistry
	accumulator *debounce.Accumulator
	events      *bus.Bus
	media       MediaFetcher
	transcriber Transcriber
	apologize   TextSender
	counters    *Counters
}

func NewIntake(
	cfg config.HandoffConfig,
	messageIDs *cache.BoundedSet,
	echoes *handoff.EchoTracker,
	silences *handoff.SilenceRegistry,
	accumulator *debounce.Accumulator,
	events *bus.Bus,
	media MediaFetcher,
	transcriber Transcriber,
	apologize TextSender,
) *Intake {
	return &Intake{
		cfg:         cfg,
		messageIDs:  messageIDs,
		echoes:      echoes,
		silences:    silences,
		accumulator: accumulator,
		events:      events,
		media:       media,
		transcriber: transcriber,
		apologize:   apologize,
		counters:    &Counters{},
	}
}

func (i *Intake) Counters() *Counters { return i.counters }

// ExtractEvents pulls the event list out of a webhook body. Providers send
// data as either a single object or an array.
func ExtractEvents(body []byte) ([]json.RawMessage, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Data) == 0 {
		return nil, nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(envelope.Data, &list); err == nil {
		return list, nil
	}
	return []json.RawMessage{envelope.Data}, nil
}

// ProcessEvent routes one normalized event. It never returns an error; a
// failed event is counted and logged, the provider already got its ACK.
func (i *Intake) ProcessEvent(ctx context.Context, event json.RawMessage) {
	// Events arrive as bare data objects; wrap so Extract sees the
	// envelope shape.
	in, err := Extract([]byte(`{"data":` + string(event) + `}`))
	if err != nil {
		slog.Warn("webhook event dropped", "error", err)
		i.counters.Errors.Add(1)
		return
	}

	if in.IsGroup() {
		slog.Debug("group or broadcast message ignored", "conversation", in.Conversation)
		i.counters.Ignored.Add(1)
		return
	}

	if in.MessageID != "" {
		if i.messageIDs.Contains(in.MessageID) {
			slog.Debug("duplicate message ignored", "message_id", in.MessageID)
			i.counters.Ignored.Add(1)
			return
		}
		i.messageIDs.Add(in.MessageID)
	}

	if in.FromMe {
		i.handleOutbound(in)
		return
	}
	i.handleInbound(ctx, in)
}

// handleOutbound classifies a business-side message. Bot echoes and
// automated notices pass through; anything else is a human advisor taking
// over, which silences the bot for the configured duration.
func (i *Intake) handleOutbound(in *Inbound) {
	if i.echoes.IsBotMessage(in.Conversation, in.MessageID, in.Text) {
		i.counters.Ignored.Add(1)
		return
	}
	if handoff.IsAutomatedNotice(in.Text) {
		slog.Info("automated notice ignored", "conversation", in.Conversation)
		i.counters.Ignored.Add(1)
		return
	}

	d := i.cfg.SilenceDuration()
	slog.Info("human advisor detected, silencing bot",
		"conversation", in.Conversation,
		"duration", d,
		"looks_human", handoff.LooksHuman(in.Text))
	i.silences.Silence(in.Conversation, d)
	i.events.Publish(bus.EventHandoffDetected, in.Conversation, map[string]any{
		"silence_minutes": int(d.Minutes()),
	})
	i.counters.Ignored.Add(1)
}

func (i *Intake) handleInbound(ctx context.Context, in *Inbound) {
	text := in.Text

	if text == "" && in.Kind == KindAudio {
		text = i.transcribeAudio(ctx, in)
		if text == "" {
			if i.apologize != nil {
				if err := i.apologize.SendTextMessage(ctx, in.Conversation, audioApology); err != nil {
					slog.Error("audio apology failed", "error", err)
				}
			}
			i.counters.Errors.Add(1)
			return
		}
	}

	if text == "" {
		slog.Debug("message without usable text ignored",
			"conversation", in.Conversation, "kind", in.Kind)
		i.counters.Ignored.Add(1)
		return
	}

	i.accumulator.Append(in.Conversation, text)
	i.events.Publish(bus.EventMessageAccepted, in.Conversation, map[string]any{
		"kind": in.Kind,
	})
	i.counters.Accepted.Add(1)
}

func (i *Intake) transcribeAudio(ctx context.Context, in *Inbound) string {
	if i.media == nil || i.transcriber == nil {
		slog.Info("voice note received but transcription is not configured",
			"conversation", in.Conversation)
		return ""
	}
	audioBase64, err := i.media.FetchMediaBase64(ctx, in.MessageID)
	if err != nil {
		slog.Error("media download failed", "message_id", in.MessageID, "error", err)
		return ""
	}
	text, err := i.transcriber.Transcribe(ctx, audioBase64)
	if err != nil {
		slog.Error("transcription failed", "message_id", in.MessageID, "error", err)
		return ""
	}
	return text
}
