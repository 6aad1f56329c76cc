package buffer

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	questionRE = regexp.MustCompile(`(?i)\b(cómo|como|qué|que|cuál|cual|cuánto|cuanto|dónde|donde|cuándo|cuando)\b.*\?`)
	requestRE  = regexp.MustCompile(`(?i)\b(quiero|necesito|dame|envía|envia|manda|busco|por favor)\s+.{10,}`)
	digitRE    = regexp.MustCompile(`\d`)
	yesNoRE    = regexp.MustCompile(`\b(si|sí|no|claro|ok)\b`)
)

var simpleGreetings = []string{
	"hola", "hello", "hi", "hey", "buenas", "buen dia",
	"buenos dias", "buenos días", "buenas tardes", "buenas noches",
	"saludos", "que tal", "qué tal", "ola", "ey", "como estas", "cómo estás",
}

// IsSimpleGreeting reports whether the message is just a greeting: an exact
// match against the greeting vocabulary, or a short message starting with
// one. Greetings need no conversational context and skip both buffering and
// the classification model.
func IsSimpleGreeting(message string) bool {
	lower := strings.ToLower(strings.TrimSpace(message))
	if lower == "" {
		return false
	}
	short := utf8.RuneCountInString(message) < 25
	for _, g := range simpleGreetings {
		if lower == g || lower == g+"!" {
			return true
		}
		if short && strings.HasPrefix(lower, g+" ") {
			return true
		}
	}
	return false
}
