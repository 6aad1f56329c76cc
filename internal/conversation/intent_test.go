package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dommoco/whatsapp-concierge/internal/llm"
	"github.com/dommoco/whatsapp-concierge/pkg/logging"
)

type scriptedLLM struct {
	replies map[llm.Task]string
	err     error
	calls   int
	lastReq llm.Request
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return "", s.err
	}
	return s.replies[req.Task], nil
}

func TestClassifyGreetingSkipsModel(t *testing.T) {
	fake := &scriptedLLM{}
	r := NewRouter(fake, NewStateStore(), logging.Default(), nil)

	ic := r.Classify(context.Background(), "u1", "hola")
	assert.Equal(t, "saludo", ic.MessageType)
	assert.Equal(t, "responder_saludo", ic.SpecificAction)
	assert.Zero(t, fake.calls, "greetings must not hit the model")
}

func TestClassifyParsesModelJSON(t *testing.T) {
	fake := &scriptedLLM{replies: map[llm.Task]string{
		llm.TaskContextAnalysis: "```json\n{\"messageType\":\"solicitud\",\"topics\":[\"catalogo\"],\"purchaseStage\":\"consulta\",\"suggestedFlow\":\"ventas\",\"specificAction\":\"enviar_catalogo\"}\n```",
	}}
	r := NewRouter(fake, NewStateStore(), logging.Default(), nil)

	ic := r.Classify(context.Background(), "u1", "me muestras qué tienen?")
	assert.Equal(t, "enviar_catalogo", ic.SpecificAction)
	assert.Equal(t, []string{"catalogo"}, ic.Topics)
}

func TestClassifyFallsBackOnError(t *testing.T) {
	fake := &scriptedLLM{err: errors.New("timeout")}
	r := NewRouter(fake, NewStateStore(), logging.Default(), nil)

	ic := r.Classify(context.Background(), "u1", "necesito algo bonito")
	assert.Equal(t, DefaultContext(), ic)
}

func TestClassifyFallsBackOnGarbage(t *testing.T) {
	fake := &scriptedLLM{replies: map[llm.Task]string{llm.TaskContextAnalysis: "no soy json"}}
	r := NewRouter(fake, NewStateStore(), logging.Default(), nil)

	ic := r.Classify(context.Background(), "u1", "necesito algo bonito")
	assert.Equal(t, DefaultContext(), ic)
}

func TestClassifyCachesIdenticalText(t *testing.T) {
	fake := &scriptedLLM{replies: map[llm.Task]string{
		llm.TaskContextAnalysis: `{"messageType":"pregunta","specificAction":"responder_consulta"}`,
	}}
	r := NewRouter(fake, NewStateStore(), logging.Default(), nil)

	first := r.Classify(context.Background(), "u1", "cuánto vale la premium?")
	second := r.Classify(context.Background(), "u1", "cuánto vale la premium?")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.calls)
}

func TestClassifyTrimsHistory(t *testing.T) {
	fake := &scriptedLLM{replies: map[llm.Task]string{
		llm.TaskContextAnalysis: `{"messageType":"pregunta"}`,
	}}
	state := NewStateStore()
	for i := 0; i < 8; i++ {
		state.AppendHistory("u1", "user", string(rune('a'+i)))
	}
	r := NewRouter(fake, state, logging.Default(), nil)

	r.Classify(context.Background(), "u1", "y el envío?")
	assert.LessOrEqual(t, len(fake.lastReq.Conversation), maxIntentHistory)
}

type spyLLMObserver struct {
	counts map[string]int
}

func (s *spyLLMObserver) ObserveLLMCall(task, status string) {
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[task+"/"+status]++
}

func TestClassifyCountsOnlyRealModelCalls(t *testing.T) {
	obs := &spyLLMObserver{}
	fake := &scriptedLLM{replies: map[llm.Task]string{
		llm.TaskContextAnalysis: `{"messageType":"pregunta"}`,
	}}
	r := NewRouter(fake, NewStateStore(), logging.Default(), obs)

	r.Classify(context.Background(), "u1", "hola")
	r.Classify(context.Background(), "u1", "cuánto vale la premium?")
	r.Classify(context.Background(), "u1", "cuánto vale la premium?")

	key := string(llm.TaskContextAnalysis)
	assert.Equal(t, 1, obs.counts[key+"/ok"], "greeting and cache hit must not count")
	assert.Len(t, obs.counts, 1)

	fake.err = errors.New("timeout")
	r.Classify(context.Background(), "u1", "otra cosa")
	assert.Equal(t, 1, obs.counts[key+"/error"])
}
