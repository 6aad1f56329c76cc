package llm

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dommoco/whatsapp-concierge/pkg/logging"
)

type fakeChat struct {
	lastReq openai.ChatCompletionRequest
	reply   string
	err     error
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.reply}},
		},
	}, nil
}

func TestCompleteSendsSystemAndUserMessages(t *testing.T) {
	fake := &fakeChat{reply: "Claro, con gusto."}
	c := NewWithChatClient(fake, "deepseek-chat", 800, logging.Default())

	out, err := c.Complete(context.Background(), Request{
		Task:           TaskResponseGeneration,
		SpecificPrompt: "Responde sobre precios",
		ResponseType:   "informativa",
		Conversation:   []Turn{{Role: "user", Content: "cuánto vale la rosa?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Claro, con gusto.", out)

	require.Len(t, fake.lastReq.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, fake.lastReq.Messages[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, fake.lastReq.Messages[1].Role)
	assert.Contains(t, fake.lastReq.Messages[1].Content, "Responde sobre precios")
	assert.Contains(t, fake.lastReq.Messages[1].Content, "Cliente: cuánto vale la rosa?")
	assert.Equal(t, "deepseek-chat", fake.lastReq.Model)
	assert.Equal(t, 800, fake.lastReq.MaxTokens)
}

func TestCompleteContextAnalysisSanitizesFences(t *testing.T) {
	fake := &fakeChat{reply: "```json\n{\"messageType\":\"pregunta\"}\n```"}
	c := NewWithChatClient(fake, "", 0, nil)

	out, err := c.Complete(context.Background(), Request{
		Task:           TaskContextAnalysis,
		CurrentMessage: "cuánto cuesta?",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"messageType":"pregunta"}`, out)
}

func TestCompleteWrapsTransportError(t *testing.T) {
	fake := &fakeChat{err: errors.New("boom")}
	c := NewWithChatClient(fake, "", 0, nil)

	_, err := c.Complete(context.Background(), Request{Task: TaskDateValidation, Date: "mañana"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validacion_fecha")
}

func TestCompleteNoChoices(t *testing.T) {
	c := NewWithChatClient(noChoiceChat{}, "", 0, nil)
	_, err := c.Complete(context.Background(), Request{Task: TaskTimeSlotValidation, TimeSlot: "por la tarde"})
	require.Error(t, err)
}

type noChoiceChat struct{}

func (noChoiceChat) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, nil
}

func TestSanitizeJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"Claro, aquí tienes: {\"a\":1} espero que sirva", "{\"a\":1}"},
		{"sin json", "sin json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeJSON(tt.in))
	}
}

func TestDateAndSlotPromptsCarryInput(t *testing.T) {
	fake := &fakeChat{reply: `{"valid":true,"formattedDate":"15/09/2026"}`}
	c := NewWithChatClient(fake, "", 0, nil)

	_, err := c.Complete(context.Background(), Request{Task: TaskDateValidation, Date: "15 de septiembre"})
	require.NoError(t, err)
	assert.Contains(t, fake.lastReq.Messages[1].Content, "15 de septiembre")

	_, err = c.Complete(context.Background(), Request{Task: TaskTimeSlotValidation, TimeSlot: "en la nochecita"})
	require.NoError(t, err)
	assert.Contains(t, fake.lastReq.Messages[1].Content, "en la nochecita")
}
