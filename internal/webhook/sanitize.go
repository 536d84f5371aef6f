package webhook

import (
	"regexp"
)

// defaultLogMaxChars caps logged payloads so a large media blob cannot flood
// the log stream.
const defaultLogMaxChars = 6000

var sensitiveFields = regexp.MustCompile(`(?i)("(?:apikey|api_key|token|password|authorization)"\s*:\s*)"[^"]*"`)

// SanitizePayload masks credential-bearing fields and truncates the payload
// for logging. maxChars <= 0 applies the default cap.
func SanitizePayload(body []byte, maxChars int) string {
	if maxChars <= 0 {
		maxChars = defaultLogMaxChars
	}
	masked := sensitiveFields.ReplaceAllString(string(body), `$1"***"`)
	if len(masked) > maxChars {
		return masked[:maxChars] + "...(truncated)"
	}
	return masked
}
