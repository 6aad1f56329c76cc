// Package llm talks to DeepSeek's OpenAI-compatible chat completions API.
// Each task carries its own prompt contract; callers are responsible for
// sanitizing and parsing the (hopefully) JSON replies and for substituting a
// safe default when the model misbehaves.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dommoco/whatsapp-concierge/pkg/logging"
)

var tracer = otel.Tracer("concierge.internal.llm")

// Task selects the prompt contract for a request.
type Task string

const (
	TaskContextAnalysis    Task = "analisis_contexto"
	TaskResponseGeneration Task = "generacion_respuesta"
	TaskDateValidation     Task = "validacion_fecha"
	TaskTimeSlotValidation Task = "validacion_franja"
)

// Turn is one message of conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the structured prompt input for a single completion.
type Request struct {
	Task           Task
	SystemPrompt   string
	SpecificPrompt string
	ResponseType   string
	Conversation   []Turn
	CurrentMessage string
	StateInfo      any
	KnowledgeBase  any
	Date           string
	TimeSlot       string
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client wraps the chat completions API with per-task prompt construction.
type Client struct {
	chat      chatClient
	model     string
	maxTokens int
	logger    *logging.Logger
}

// New creates a Client against an OpenAI-compatible endpoint.
func New(apiKey, baseURL, model string, maxTokens int, logger *logging.Logger) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewWithChatClient(openai.NewClientWithConfig(cfg), model, maxTokens, logger)
}

// NewWithChatClient creates a Client around an existing chat client. Tests
// inject fakes here.
func NewWithChatClient(chat chatClient, model string, maxTokens int, logger *logging.Logger) *Client {
	if chat == nil {
		panic("llm: chat client cannot be nil")
	}
	if model == "" {
		model = "deepseek-chat"
	}
	if maxTokens <= 0 {
		maxTokens = 800
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{chat: chat, model: model, maxTokens: maxTokens, logger: logger}
}

// Complete runs one completion and returns the trimmed assistant text.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracer.Start(ctx, "llm.complete")
	span.SetAttributes(attribute.String("task", string(req.Task)))
	defer span.End()

	system, user := buildPrompts(req)
	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("llm: completion for task %s: %w", req.Task, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: completion returned no choices")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if req.Task == TaskContextAnalysis {
		out = SanitizeJSON(out)
	}
	return out, nil
}

// SanitizeJSON strips markdown code fences and trims to the first '{' .. last
// '}' span so defensive parsers get their best shot at the payload.
func SanitizeJSON(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func buildPrompts(req Request) (system, user string) {
	switch req.Task {
	case TaskContextAnalysis:
		system = req.SystemPrompt
		if system == "" {
			system = contextAnalysisSystemPrompt
		}
		user = fmt.Sprintf(`HISTORIAL DE CONVERSACIÓN:
%s

MENSAJE ACTUAL DEL CLIENTE:
%s

Analiza esta conversación y devuelve DIRECTAMENTE un objeto JSON con:
{"messageType":"pregunta|solicitud|afirmacion|saludo","topics":["tema1","tema2"],"purchaseStage":"exploracion|consulta|decision|agendamiento|pago","suggestedFlow":"ventas|consulta|agendamiento|pago|none","nextActionSuggestion":true|false,"specificAction":"valor"}

NO USES BLOQUES DE CÓDIGO MARKDOWN. DEVUELVE SOLO EL OBJETO JSON.`,
			formatConversation(req.Conversation), req.CurrentMessage)

	case TaskResponseGeneration:
		system = req.SystemPrompt
		if system == "" {
			system = responseGenerationSystemPrompt
		}
		user = fmt.Sprintf(`INFORMACIÓN DE LA TIENDA:
%s

HISTORIAL DE CONVERSACIÓN RECIENTE:
%s

ESTADO ACTUAL DEL USUARIO:
%s

INSTRUCCIONES ESPECÍFICAS:
%s

TIPO DE RESPUESTA SOLICITADA: %s

INSTRUCCIÓN CRÍTICA:
- NO repitas el mensaje del usuario en tu respuesta
- NO comiences tus respuestas con "Dices que...", "Mencionas que...", etc.
- Responde directamente a la consulta sin reiterarlo
- Mantén tus respuestas concisas (máximo 4 oraciones)`,
			marshalForPrompt(req.KnowledgeBase), formatNumberedConversation(req.Conversation),
			marshalForPrompt(req.StateInfo), req.SpecificPrompt, req.ResponseType)

	case TaskDateValidation:
		system = `Eres un asistente que valida formatos de fecha. Analiza la entrada del usuario y determina si es una fecha válida en cualquier formato común. Si es válida, conviértela al formato DD/MM/YYYY.`
		user = fmt.Sprintf(`Fecha proporcionada por el usuario: "%s"

Valida si esto es una fecha válida en cualquier formato (DD/MM/YYYY, D/M/YYYY, etc.).
Si es válida, formátala como DD/MM/YYYY.

Responde con un JSON así:
{"valid": true|false, "formattedDate": "DD/MM/YYYY", "error": "mensaje de error si hay uno"}`, req.Date)

	case TaskTimeSlotValidation:
		system = `Eres un asistente que valida franjas horarias. Analiza la entrada del usuario y determina si corresponde a mañana, tarde o noche.`
		user = fmt.Sprintf(`Franja horaria proporcionada por el usuario: "%s"

Determina si corresponde a "mañana", "tarde" o "noche".
Considera variaciones como "en la mañana", "por la tarde", etc.

Responde con un JSON así:
{"valid": true|false, "normalizedValue": "mañana|tarde|noche", "error": "mensaje de error si hay uno"}`, req.TimeSlot)

	default:
		system = `Eres un asistente virtual para una tienda de regalos. Responde de forma amable y concisa.`
		user = req.SpecificPrompt
		if user == "" {
			user = req.CurrentMessage
		}
	}
	return system, user
}

const contextAnalysisSystemPrompt = `Eres un asistente de WhatsApp para una tienda de rosas preservadas que analiza conversaciones.
Analiza el historial de conversación y el mensaje actual del usuario.
Determina lo siguiente:
1. Tipo de mensaje (pregunta, afirmación, solicitud, etc.)
2. Temas principales mencionados (rosas, precios, entrega, etc.)
3. Etapa de compra (exploración, consulta, decisión, agendamiento, pago)
4. Flujo sugerido a seguir (ventas, consulta, agendamiento, pago)
5. Si se debe sugerir un siguiente paso
6. ACCIÓN ESPECÍFICA a tomar (enviar_catalogo, responder_consulta, iniciar_agendamiento, continuar_agendamiento, consultar_pedido, responder_saludo)

IMPORTANTE: EVALÚA SI EL USUARIO ESTÁ SOLICITANDO O HA ACEPTADO VER EL CATÁLOGO

Responde con un objeto JSON sin formato de código.
NO uses bloques de código markdown al principio ni al final.`

const responseGenerationSystemPrompt = `Eres un asistente virtual de WhatsApp para una tienda de rosas preservadas. Tu objetivo es ser amable, útil y conciso. Las respuestas deben ser naturales y conversacionales, entre 1-4 oraciones.

IMPORTANTE:
1. Nunca inventes información que no esté en la base de conocimiento.
2. Si no sabes algo, sugiere preguntar a un agente humano.
3. Respuestas breves y concisas, máximo 4 oraciones.
4. No incluyas emojis excesivos, solo 1-2 si son relevantes.
5. No te presentes ni te despidas en cada mensaje.`

func formatConversation(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		role := "Asistente"
		if t.Role == "user" {
			role = "Cliente"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, t.Content)
	}
	return b.String()
}

func formatNumberedConversation(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		role := "Asistente"
		if t.Role == "user" {
			role = "Cliente"
		}
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, role, t.Content)
	}
	return b.String()
}

func marshalForPrompt(v any) string {
	if v == nil {
		return "{}"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
