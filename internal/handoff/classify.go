package handoff

import "strings"

// automatedMarkers flag provider-side notices (WhatsApp Business greetings,
// catalog links, out-of-office templates) that arrive marked as sent by the
// business line but must not silence the gateway.
var (
	automatedPairs = [][2]string{
		{"bienvenido", "wa.me"},
		{"catálogo", "wa.me"},
		{"catalogo", "wa.me"},
		{"te contactaremos", "pronto"},
	}
	automatedSubstrings = []string{
		"wa.me/c/",
		"no estamos disponibles",
		"fuera de horario",
	}
)

// IsAutomatedNotice reports whether an outbound text is an automated
// provider-side notice rather than a human advisor reply.
func IsAutomatedNotice(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)

	for _, pair := range automatedPairs {
		if strings.Contains(lower, pair[0]) && strings.Contains(lower, pair[1]) {
			return true
		}
	}
	for _, sub := range automatedSubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	// Short generic welcome messages without further context.
	if strings.HasPrefix(lower, "hola") && strings.Contains(lower, "bienvenido") && len(text) < 200 {
		return true
	}
	return false
}

// Markers the automated pipeline never produces: emojis, advisor phrases and
// informal typos. Used as a supporting signal when classifying outbound
// messages on the business line.
var (
	humanEmojis = []string{
		"😊", "👍", "🙏", "💪", "🚚", "✅", "❤️", "🔥", "👌", "😉",
		"😅", "🤝", "📞", "📱", "🎉", "💯",
	}
	humanPhrases = []string{
		"un momento", "déjame verificar", "déjame revisar", "te marco", "te llamo",
		"te hablo", "estoy revisando", "dame un segundo", "te contacto",
		"te escribo", "ahora te", "espérame", "un sec",
	}
	humanTypos = []string{
		"aver", "haber si", "ps si", "nel", "simon", "sisas", "ok ok", "oks",
	}
)

// LooksHuman reports whether a text carries markers the automated pipeline
// would never emit.
func LooksHuman(text string) bool {
	if text == "" {
		return false
	}
	for _, emoji := range humanEmojis {
		if strings.Contains(text, emoji) {
			return true
		}
	}
	lower := strings.ToLower(text)
	for _, phrase := range humanPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	for _, typo := range humanTypos {
		if strings.Contains(lower, typo) {
			return true
		}
	}
	return false
}
