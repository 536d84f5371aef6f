// Package dispatch turns a composed reply into the ordered sequence of
// provider sends it requires, and registers every accepted send with the echo
// tracker so the webhook can tell our own messages apart from a human
// advisor's.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgarduno-ZAPATA/tono-gateway/internal/bus"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/evolution"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/handoff"
)

const (
	// imageGap spaces consecutive image sends so they arrive in order on
	// the recipient's device.
	imageGap = 500 * time.Millisecond

	// documentGap separates the intro text from the document that follows
	// it.
	documentGap = 1200 * time.Millisecond
)

// Sender is the provider surface the dispatcher needs. *evolution.Client
// satisfies it.
type Sender interface {
	SendText(ctx context.Context, to, text string) (*evolution.SendResult, error)
	SendImage(ctx context.Context, to, mediaURL, caption string) (*evolution.SendResult, error)
	SendDocument(ctx context.Context, to, fileURL, fileName string) (*evolution.SendResult, error)
}

// Reply is one composed response for a conversation. At most one of the
// media forms is set: Images are sent in order with Text as the caption of
// the last one; a Document is preceded by Text as a separate message.
type Reply struct {
	Text         string
	Images       []string
	DocumentURL  string
	DocumentName string
}

// Dispatcher delivers replies through the provider.
type Dispatcher struct {
	sender Sender
	echoes *handoff.EchoTracker
	events *bus.Bus
	sleep  func(context.Context, time.Duration) error
}

func New(sender Sender, echoes *handoff.EchoTracker, events *bus.Bus) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		echoes: echoes,
		events: events,
		sleep:  sleepCtx,
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

// Deliver sends the reply to the conversation. Partial delivery is possible;
// the first failed send aborts the remainder and is reported.
func (d *Dispatcher) Deliver(ctx context.Context, conversation string, reply Reply) error {
	var err error
	switch {
	case reply.DocumentURL != "":
		err = d.deliverDocument(ctx, conversation, reply)
	case len(reply.Images) > 0:
		err = d.deliverImages(ctx, conversation, reply)
	default:
		err = d.deliverText(ctx, conversation, reply.Text)
	}

	if err != nil {
		d.events.Publish(bus.EventDeliveryFailed, conversation, map[string]any{
			"error": err.Error(),
		})
		return err
	}
	d.events.Publish(bus.EventDeliverySent, conversation, map[string]any{
		"images":   len(reply.Images),
		"document": reply.DocumentURL != "",
	})
	return nil
}

func (d *Dispatcher) deliverText(ctx context.Context, conversation, text string) error {
	if text == "" {
		return nil
	}
	res, err := d.sender.SendText(ctx, conversation, text)
	if err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	d.record(conversation, res, text)
	return nil
}

// deliverImages sends the images in order, attaching the reply text as the
// caption of the last one so the text lands next to the final picture.
func (d *Dispatcher) deliverImages(ctx context.Context, conversation string, reply Reply) error {
	for i, url := range reply.Images {
		caption := ""
		if i == len(reply.Images)-1 {
			caption = reply.Text
		}
		res, err := d.sender.SendImage(ctx, conversation, url, caption)
		if err != nil {
			return fmt.Errorf("send image %d/%d: %w", i+1, len(reply.Images), err)
		}
		d.record(conversation, res, caption)

		if i < len(reply.Images)-1 {
			if err := d.sleep(ctx, imageGap); err != nil {
				return err
			}
		}
	}
	return nil
}

// deliverDocument sends the intro text first, then the document after a
// short gap.
func (d *Dispatcher) deliverDocument(ctx context.Context, conversation string, reply Reply) error {
	if err := d.deliverText(ctx, conversation, reply.Text); err != nil {
		return err
	}
	if reply.Text != "" {
		if err := d.sleep(ctx, documentGap); err != nil {
			return err
		}
	}
	res, err := d.sender.SendDocument(ctx, conversation, reply.DocumentURL, reply.DocumentName)
	if err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	d.record(conversation, res, "")
	return nil
}

func (d *Dispatcher) record(conversation string, res *evolution.SendResult, text string) {
	if res == nil {
		return
	}
	if res.MessageID == "" {
		slog.Debug("send accepted without message id", "conversation", conversation)
	}
	d.echoes.RecordSend(conversation, res.MessageID, text)
}
