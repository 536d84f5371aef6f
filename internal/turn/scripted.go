package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgarduno-ZAPATA/tono-gateway/internal/catalog"
	"github.com/dgarduno-ZAPATA/tono-gateway/internal/funnel"
)

// ScriptedResponder is the built-in rule-based sales flow: greet, match a
// model against the inventory, share photos and the spec sheet, and escalate
// the funnel stage as intent firms up. Deployments with an external brain
// replace it behind the Responder interface.
type ScriptedResponder struct{}

const scriptedGreeting = "¡Hola! Soy el asistente de ventas. ¿Qué modelo te interesa o qué tipo de unidad buscas?"

var appointmentWords = []string{"cita", "agendar", "visitar", "cuando puedo ir", "mañana voy"}

func (ScriptedResponder) Respond(_ context.Context, req Request) (*Response, error) {
	message := strings.ToLower(req.Message)
	sessionContext := cloneContext(req.Context)

	turnCount, _ := sessionContext["turn_count"].(float64)
	turnCount++
	sessionContext["turn_count"] = turnCount

	if matched := matchInventory(req.Inventory, message); matched != nil {
		sessionContext["interes"] = matched.Model
		resp := &Response{
			Reply:       describeItem(*matched),
			NewState:    "quoted",
			NewContext:  sessionContext,
			MediaURLs:   matched.Photos,
			FunnelStage: funnel.StageIntencion,
			FunnelData:  map[string]string{"interes": matched.Model},
		}
		if matched.PDFURL != "" {
			resp.PDFURL = matched.PDFURL
			resp.PDFName = strings.ToLower(strings.ReplaceAll(matched.Model, " ", "-")) + ".pdf"
			resp.MediaURLs = nil
		}
		return resp, nil
	}

	for _, w := range appointmentWords {
		if strings.Contains(message, w) {
			interest, _ := sessionContext["interes"].(string)
			return &Response{
				Reply:       "Perfecto, agendamos tu visita. Un asesor te confirma el horario en breve.",
				NewState:    "appointment",
				NewContext:  sessionContext,
				FunnelStage: funnel.StageCita,
				FunnelData:  map[string]string{"interes": interest, "cita": req.Message},
				Lead:        true,
			}, nil
		}
	}

	if req.State == "start" && turnCount <= 1 {
		return &Response{
			Reply:      scriptedGreeting,
			NewState:   "browsing",
			NewContext: sessionContext,
		}, nil
	}

	return &Response{
		Reply:       "Cuéntame qué modelo o capacidad de carga necesitas y te paso precios y fotos.",
		NewState:    req.State,
		NewContext:  sessionContext,
		FunnelStage: funnel.StageEnganche,
		FunnelData:  map[string]string{"turn_count": fmt.Sprintf("%.0f", turnCount)},
	}, nil
}

func matchInventory(items []catalog.Item, message string) *catalog.Item {
	for i := range items {
		model := strings.ToLower(items[i].Model)
		if model != "" && strings.Contains(message, model) {
			return &items[i]
		}
	}
	// Second pass on the first word of each model name ("auman", "view").
	for i := range items {
		fields := strings.Fields(strings.ToLower(items[i].Model))
		if len(fields) > 0 && strings.Contains(message, fields[0]) {
			return &items[i]
		}
	}
	return nil
}

func describeItem(item catalog.Item) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s", item.Brand, item.Model, item.Year)
	if item.Price != "" {
		fmt.Fprintf(&sb, ", precio $%s %s", item.Price, item.Currency)
	}
	if item.Description != "" {
		fmt.Fprintf(&sb, ". %s", item.Description)
	}
	if item.Location != "" {
		fmt.Fprintf(&sb, " Disponible en %s.", item.Location)
	}
	return sb.String()
}

func cloneContext(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src)+2)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
