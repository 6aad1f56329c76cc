// Package humanize post-processes model output before it reaches WhatsApp:
// trims boilerplate closings, rewrites replies that are too similar to recent
// ones, and computes a typing delay so the bot does not answer instantly.
package humanize

import (
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// similarityThreshold is the Jaccard score above which a reply is
	// considered a repeat of a recent one and gets varied.
	similarityThreshold = 0.7
	// maxTypingDelay caps the simulated typing pause.
	maxTypingDelay = 5 * time.Second
)

var closingPhrases = []string{
	"¿hay algo más en lo que pueda ayudarte?",
	"¿puedo ayudarte en algo más?",
	"¿necesitas algo más?",
	"¿te puedo ayudar en algo más?",
	"estoy aquí para ayudarte.",
	"no dudes en preguntar.",
	"quedo atento a tus comentarios.",
	"quedo atenta a tus comentarios.",
}

var conversationalPrefixes = []string{
	"Claro, ",
	"Por supuesto, ",
	"Con gusto, ",
	"Mira, ",
	"Perfecto, ",
}

// accentFolder maps Spanish accented vowels so token comparison survives
// inconsistent accent usage from both the model and customers.
var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
)

// Pipeline finalizes outbound replies. The random source is injectable so
// tests are deterministic; the mutex makes it safe from concurrent flush
// goroutines.
type Pipeline struct {
	mu   sync.Mutex
	rand *rand.Rand
}

// New creates a Pipeline with its own random source.
func New() *Pipeline {
	return NewWithRand(rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithRand creates a Pipeline using the given random source.
func NewWithRand(r *rand.Rand) *Pipeline {
	return &Pipeline{rand: r}
}

// fallbackReply goes out when trimming leaves nothing, so the customer never
// gets silence.
const fallbackReply = "¿Me cuentas un poco más para poder ayudarte? 🌹"

// Finalize trims closings and, when the reply repeats a recent one, applies a
// variation so consecutive answers do not read copy-pasted. recent should be
// the last few assistant replies, newest last. The result is never empty.
func (p *Pipeline) Finalize(raw string, recent []string) string {
	out := TrimClosings(raw)
	if out == "" {
		return fallbackReply
	}
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	for _, prev := range recent {
		if Jaccard(out, prev) > similarityThreshold {
			out = p.vary(out)
			break
		}
	}
	return out
}

// TrimClosings removes stock closing questions the model likes to append.
func TrimClosings(s string) string {
	out := strings.TrimSpace(s)
	lower := strings.ToLower(out)
	for _, phrase := range closingPhrases {
		if idx := strings.LastIndex(lower, phrase); idx >= 0 && idx+len(phrase) >= len(lower)-2 {
			out = strings.TrimSpace(out[:idx])
			lower = strings.ToLower(out)
		}
	}
	return strings.TrimRight(strings.TrimSpace(out), ",")
}

// Jaccard computes word-set similarity between two texts, accent-folded and
// case-insensitive.
func Jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	folded := accentFolder.Replace(strings.ToLower(s))
	set := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(folded, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		set[tok] = struct{}{}
	}
	return set
}

// vary applies one randomly chosen rewording technique.
func (p *Pipeline) vary(s string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.rand.Intn(3) {
	case 0:
		return reorderSentences(s, p.rand)
	case 1:
		return togglePrefix(s, p.rand)
	default:
		return swapFormality(s)
	}
}

// reorderSentences swaps the first two sentences when there are at least two.
func reorderSentences(s string, r *rand.Rand) string {
	sentences := splitSentences(s)
	if len(sentences) < 2 {
		return togglePrefix(s, r)
	}
	sentences[0], sentences[1] = sentences[1], sentences[0]
	return strings.Join(sentences, " ")
}

// togglePrefix adds a conversational opener, or strips one already present.
func togglePrefix(s string, r *rand.Rand) string {
	for _, pfx := range conversationalPrefixes {
		if rest := strings.TrimPrefix(s, pfx); rest != s && rest != "" {
			return strings.ToUpper(rest[:1]) + rest[1:]
		}
	}
	if s == "" {
		return s
	}
	pfx := conversationalPrefixes[r.Intn(len(conversationalPrefixes))]
	return pfx + strings.ToLower(s[:1]) + s[1:]
}

var formalitySwaps = [][2]string{
	{"puedes", "podrías"},
	{"quieres", "deseas"},
	{"tienes", "cuentas con"},
	{"dime", "cuéntame"},
	{"mira", "fíjate"},
}

// swapFormality replaces a few informal verbs with more formal variants.
func swapFormality(s string) string {
	for _, pair := range formalitySwaps {
		if strings.Contains(s, pair[0]) {
			return strings.Replace(s, pair[0], pair[1], 1)
		}
	}
	return s + " 🌹"
}

func splitSentences(s string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range s {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if trimmed := strings.TrimSpace(cur.String()); trimmed != "" {
				out = append(out, trimmed)
			}
			cur.Reset()
		}
	}
	if trimmed := strings.TrimSpace(cur.String()); trimmed != "" {
		out = append(out, trimmed)
	}
	return out
}

// TypingDelay estimates how long a human would take to type the reply,
// roughly 60ms per rune, capped.
func TypingDelay(reply string) time.Duration {
	d := time.Duration(utf8.RuneCountInString(reply)) * 60 * time.Millisecond
	if d > maxTypingDelay {
		return maxTypingDelay
	}
	return d
}
