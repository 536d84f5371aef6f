package handoff

import (
	"testing"
	"time"
)

func TestEchoTracker_IDMatch(t *testing.T) {
	e := NewEchoTracker(100, 3*time.Second)
	base := time.Now()
	e.now = func() time.Time { return base }

	e.RecordSend("521555@s.whatsapp.net", "MSG1", "hola, ¿en qué te ayudo?")

	// Move past the recency window so only the id layer can match.
	e.now = func() time.Time { return base.Add(time.Minute) }

	if !e.IsBotMessage("521555@s.whatsapp.net", "MSG1", "totally different text") {
		t.Error("id recorded as sent should classify as bot")
	}
	if e.IsBotMessage("521555@s.whatsapp.net", "MSG2", "unknown") {
		t.Error("unknown id outside the window should classify as human")
	}
}

func TestEchoTracker_TextMatch(t *testing.T) {
	e := NewEchoTracker(100, 3*time.Second)
	base := time.Now()
	e.now = func() time.Time { return base }

	e.RecordSend("conv", "ID1", "gracias por tu mensaje")
	e.now = func() time.Time { return base.Add(time.Minute) }

	if !e.IsBotMessage("conv", "", "gracias por tu mensaje") {
		t.Error("exact recent text should classify as bot")
	}
	if e.IsBotMessage("otra", "", "gracias por tu mensaje") {
		t.Error("text ring is per conversation")
	}
}

func TestEchoTracker_RecencyWindow(t *testing.T) {
	e := NewEchoTracker(100, 3*time.Second)
	base := time.Now()
	e.now = func() time.Time { return base }

	e.RecordSend("conv", "ID1", "algo")

	e.now = func() time.Time { return base.Add(2 * time.Second) }
	if !e.IsBotMessage("conv", "", "provider ack artifact") {
		t.Error("message within the recognition window should classify as bot")
	}

	e.now = func() time.Time { return base.Add(4 * time.Second) }
	if e.IsBotMessage("conv", "", "aquí Adrián, ahorita te atiendo") {
		t.Error("message past the window with no id/text match should classify as human")
	}
}

func TestEchoTracker_TextRingBounded(t *testing.T) {
	e := NewEchoTracker(100, time.Second)
	base := time.Now()
	e.now = func() time.Time { return base }

	for i := 0; i < recentTextCap+5; i++ {
		e.RecordSend("conv", "", string(rune('a'+i)))
	}
	e.now = func() time.Time { return base.Add(time.Hour) }

	if e.IsBotMessage("conv", "", "a") {
		t.Error("oldest text should have been displaced from the ring")
	}
	if !e.IsBotMessage("conv", "", string(rune('a'+recentTextCap+4))) {
		t.Error("newest text should still match")
	}
}

func TestSilenceRegistry_Expiry(t *testing.T) {
	r := NewSilenceRegistry()
	base := time.Now()
	r.now = func() time.Time { return base }

	r.Silence("conv", 60*time.Second)

	r.now = func() time.Time { return base.Add(59 * time.Second) }
	if !r.IsSilenced("conv") {
		t.Error("should still be silenced before expiry")
	}

	r.now = func() time.Time { return base.Add(61 * time.Second) }
	if r.IsSilenced("conv") {
		t.Error("should auto-reactivate after expiry")
	}
	if r.Count() != 0 {
		t.Error("expired entry should be lazily removed")
	}
}

func TestSilenceRegistry_Permanent(t *testing.T) {
	r := NewSilenceRegistry()
	base := time.Now()
	r.now = func() time.Time { return base }

	r.SilencePermanent("conv")

	r.now = func() time.Time { return base.Add(24 * time.Hour) }
	if !r.IsSilenced("conv") {
		t.Error("permanent silence must not expire")
	}

	r.Unsilence("conv")
	if r.IsSilenced("conv") {
		t.Error("explicit unsilence should reactivate")
	}
}

func TestSilenceRegistry_Remaining(t *testing.T) {
	r := NewSilenceRegistry()
	base := time.Now()
	r.now = func() time.Time { return base }

	r.Silence("conv", 10*time.Minute)
	left, permanent, ok := r.Remaining("conv")
	if !ok || permanent {
		t.Fatalf("Remaining() = (%v, %v, %v), want temporary entry", left, permanent, ok)
	}
	if left != 10*time.Minute {
		t.Errorf("left = %v, want 10m", left)
	}

	if _, _, ok := r.Remaining("other"); ok {
		t.Error("unknown conversation should not be silenced")
	}
}

func TestIsAutomatedNotice(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"¡Bienvenido! Mira nuestro catálogo en wa.me/c/5215550001", true},
		{"No estamos disponibles en este momento", true},
		{"Gracias, te contactaremos pronto", true},
		{"Hola, bienvenido a Tractos del Norte", true},
		{"Claro, el Foton Auman cuesta $980,000", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsAutomatedNotice(tt.text); got != tt.want {
			t.Errorf("IsAutomatedNotice(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestLooksHuman(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"dame un segundo, estoy revisando", true},
		{"👍 ahorita lo checo", true},
		{"aver dejame ver", true},
		{"El modelo 2023 está disponible en color blanco.", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := LooksHuman(tt.text); got != tt.want {
			t.Errorf("LooksHuman(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
