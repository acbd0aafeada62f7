// Package privacy scrubs prompts and error text before they are
// persisted. Prompts routinely quote shell output and file contents,
// so credential-shaped substrings and explicitly private spans are
// removed at the write path rather than at query time.
package privacy

import (
	"regexp"
	"strings"
)

// Mask replaces redacted spans.
const Mask = "[redacted]"

var (
	// privateSpan matches <private>...</private> blocks.
	privateSpan = regexp.MustCompile(`(?s)<private>.*?</private>`)

	// credentialPatterns match common secret shapes: provider API keys,
	// bearer headers, and key=value assignments of secret-named vars.
	credentialPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`),
		regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{30,}\b`),
		regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{16,}=*`),
		regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token|password|passwd)\s*[=:]\s*\S+`),
	}
)

// StripPrivate removes explicitly private spans entirely.
func StripPrivate(text string) string {
	return privateSpan.ReplaceAllString(text, "")
}

// RedactCredentials masks credential-shaped substrings in place.
func RedactCredentials(text string) string {
	for _, re := range credentialPatterns {
		text = re.ReplaceAllString(text, Mask)
	}
	return text
}

// EntirelyPrivate reports whether nothing remains after stripping
// private spans.
func EntirelyPrivate(text string) bool {
	return strings.TrimSpace(StripPrivate(text)) == ""
}

// Clean is the write-path entry point: private spans dropped,
// credentials masked, whitespace trimmed.
func Clean(text string) string {
	text = StripPrivate(text)
	text = RedactCredentials(text)
	return strings.TrimSpace(text)
}
