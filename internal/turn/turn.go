// Package turn processes one debounced conversation turn end to end: command
// handling, silence gating, session load, reply composition, delivery,
// funnel sync and owner alerts.
package turn

import (
	"context"

	"github.com/dgarduno-ZAPATA/tono-gateway/internal/catalog"
)

// Request is one combined turn handed to the Responder.
type Request struct {
	Conversation string
	Message      string
	State        string
	Context      map[string]any
	Inventory    []catalog.Item
}

// Response is what the Responder composed. NewState and NewContext replace
// the stored session; FunnelStage and FunnelData drive board sync; Lead marks
// a closed appointment worth an owner alert.
type Response struct {
	Reply       string
	NewState    string
	NewContext  map[string]any
	MediaURLs   []string
	PDFURL      string
	PDFName     string
	FunnelStage string
	FunnelData  map[string]string
	Lead        bool
}

// Responder composes the reply for one turn. Implementations own the sales
// conversation logic; the processor owns everything around it.
type Responder interface {
	Respond(ctx context.Context, req Request) (*Response, error)
}
