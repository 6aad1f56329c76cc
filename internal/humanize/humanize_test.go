package humanize

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrimClosings(t *testing.T) {
	in := "La rosa premium cuesta $150.000. ¿Hay algo más en lo que pueda ayudarte?"
	assert.Equal(t, "La rosa premium cuesta $150.000.", TrimClosings(in))

	// No closing, untouched.
	assert.Equal(t, "Tenemos envíos a toda Colombia.", TrimClosings("Tenemos envíos a toda Colombia."))
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, Jaccard("la rosa roja", "la rosa roja"), 0.001)
	assert.Equal(t, 0.0, Jaccard("", "hola"))

	// Accent folding: "envío" and "envio" are the same token.
	sim := Jaccard("el envío llega mañana", "el envio llega manana")
	assert.InDelta(t, 1.0, sim, 0.001)

	low := Jaccard("la rosa roja preservada", "el girasol amarillo natural")
	assert.Less(t, low, 0.2)
}

func TestFinalizeLeavesDistinctReplyAlone(t *testing.T) {
	p := NewWithRand(rand.New(rand.NewSource(1)))
	recent := []string{"Tenemos rosas rojas y azules."}
	out := p.Finalize("El domo de vidrio mide 20cm de alto.", recent)
	assert.Equal(t, "El domo de vidrio mide 20cm de alto.", out)
}

func TestFinalizeVariesRepeatedReply(t *testing.T) {
	p := NewWithRand(rand.New(rand.NewSource(1)))
	reply := "La rosa premium cuesta $150.000. Incluye el domo de vidrio."
	out := p.Finalize(reply, []string{reply})
	assert.NotEqual(t, reply, out)
	assert.NotEmpty(t, out)
}

func TestFinalizeOnlyChecksLastThree(t *testing.T) {
	p := NewWithRand(rand.New(rand.NewSource(1)))
	reply := "La rosa premium cuesta $150.000."
	recent := []string{reply, "otra cosa", "otra más", "y otra", "última distinta"}
	out := p.Finalize(reply, recent)
	assert.Equal(t, reply, out)
}

func TestFinalizeNeverReturnsEmpty(t *testing.T) {
	p := NewWithRand(rand.New(rand.NewSource(1)))
	out := p.Finalize("   ", nil)
	assert.NotEmpty(t, out)
}

func TestTogglePrefixStripsExistingPrefix(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	out := togglePrefix("Claro, tenemos envíos el mismo día.", r)
	assert.Equal(t, "Tenemos envíos el mismo día.", out)
}

func TestReorderSentences(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	out := reorderSentences("Primera frase. Segunda frase.", r)
	assert.True(t, strings.HasPrefix(out, "Segunda frase."), out)
}

func TestTypingDelayCapped(t *testing.T) {
	assert.Equal(t, 5*time.Second, TypingDelay(strings.Repeat("a", 500)))
	assert.Equal(t, 600*time.Millisecond, TypingDelay("hola mundo"))
	assert.Equal(t, time.Duration(0), TypingDelay(""))
}
