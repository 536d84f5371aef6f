// Package funnel syncs conversation progress to an external lead board.
// Stage transitions are reported once per conversation and stage; the board
// itself deduplicates leads by phone number.
package funnel

import (
	"context"
	"log/slog"
	"regexp"
)

// Funnel stages, in progression order. Mensaje is the implicit first contact
// and is never synced.
const (
	StageMensaje   = "Mensaje"
	StageEnganche  = "Enganche"
	StageIntencion = "Intención"
	StageCita      = "Cita agendada"
)

// SyncableStage reports whether a stage transition is worth pushing to the
// board.
func SyncableStage(stage string) bool {
	switch stage {
	case StageEnganche, StageIntencion, StageCita:
		return true
	}
	return false
}

// Lead is the board-facing view of a conversation.
type Lead struct {
	Phone       string
	ExternalID  string
	Name        string
	Interest    string
	Appointment string
	Payment     string
}

// Notifier pushes a lead into the external board.
type Notifier interface {
	UpsertLead(ctx context.Context, lead Lead, stage, note string) error
}

// LogNotifier is the no-board fallback: stage transitions are only logged.
type LogNotifier struct{}

func (LogNotifier) UpsertLead(_ context.Context, lead Lead, stage, note string) error {
	slog.Info("funnel stage transition",
		"phone", lead.Phone,
		"stage", stage,
		"interest", lead.Interest,
		"note", note)
	return nil
}

var nonDigits = regexp.MustCompile(`\D`)

// SanitizePhone strips everything but digits so board lookups are exact.
func SanitizePhone(phone string) string {
	return nonDigits.ReplaceAllString(phone, "")
}
