package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message kinds after normalization.
const (
	KindText  = "text"
	KindAudio = "audio"
	KindImage = "image"
	KindOther = "other"
)

// imagePlaceholder stands in for a photo without caption so the conversation
// still registers that the customer sent something.
const imagePlaceholder = "(Envió una foto)"

// Inbound is one normalized provider event.
type Inbound struct {
	Event        string
	Instance     string
	Conversation string // remote JID
	MessageID    string
	FromMe       bool
	PushName     string
	Kind         string
	Text         string // body, caption, or empty for audio until transcribed
}

// rawPayload mirrors the provider's messages.upsert envelope. Unknown fields
// are ignored.
type rawPayload struct {
	Event    string `json:"event"`
	Instance string `json:"instance"`
	Data     struct {
		Key struct {
			RemoteJID string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
			ID        string `json:"id"`
		} `json:"key"`
		PushName string `json:"pushName"`
		Message  struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
			ImageMessage *struct {
				Caption string `json:"caption"`
			} `json:"imageMessage"`
			AudioMessage *struct {
				Seconds int `json:"seconds"`
			} `json:"audioMessage"`
			PTTMessage *struct {
				Seconds int `json:"seconds"`
			} `json:"pttMessage"`
		} `json:"message"`
		MessageType string `json:"messageType"`
	} `json:"data"`
}

// Extract normalizes a raw webhook body. It fails only on malformed JSON or
// a missing conversation id; unsupported message shapes come back as
// KindOther so the caller can count and skip them.
func Extract(body []byte) (*Inbound, error) {
	var raw rawPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}
	if raw.Data.Key.RemoteJID == "" {
		return nil, fmt.Errorf("webhook payload has no conversation id")
	}

	in := &Inbound{
		Event:        raw.Event,
		Instance:     raw.Instance,
		Conversation: raw.Data.Key.RemoteJID,
		MessageID:    raw.Data.Key.ID,
		FromMe:       raw.Data.Key.FromMe,
		PushName:     raw.Data.PushName,
	}

	switch {
	case raw.Data.Message.Conversation != "":
		in.Kind = KindText
		in.Text = raw.Data.Message.Conversation
	case raw.Data.Message.ExtendedTextMessage.Text != "":
		in.Kind = KindText
		in.Text = raw.Data.Message.ExtendedTextMessage.Text
	case raw.Data.Message.ImageMessage != nil:
		in.Kind = KindImage
		in.Text = raw.Data.Message.ImageMessage.Caption
		if in.Text == "" {
			in.Text = imagePlaceholder
		}
	case raw.Data.Message.AudioMessage != nil || raw.Data.Message.PTTMessage != nil:
		in.Kind = KindAudio
	default:
		in.Kind = KindOther
	}
	return in, nil
}

// IsGroup reports whether the conversation is a group or broadcast list.
// The gateway only serves direct chats.
func (m *Inbound) IsGroup() bool {
	return strings.HasSuffix(m.Conversation, "@g.us") ||
		strings.Contains(m.Conversation, "@broadcast")
}
