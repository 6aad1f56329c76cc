package conversation

import (
	"context"
	"encoding/json"

	"github.com/dommoco/whatsapp-concierge/internal/buffer"
	"github.com/dommoco/whatsapp-concierge/internal/llm"
	"github.com/dommoco/whatsapp-concierge/pkg/logging"
)

// maxIntentHistory caps how much history goes into a classification prompt.
const maxIntentHistory = 6

// Context is the model's read of the conversation, steering dispatch.
type Context struct {
	MessageType          string   `json:"messageType"`
	Topics               []string `json:"topics"`
	PurchaseStage        string   `json:"purchaseStage"`
	SuggestedFlow        string   `json:"suggestedFlow"`
	NextActionSuggestion bool     `json:"nextActionSuggestion"`
	SpecificAction       string   `json:"specificAction"`
}

// DefaultContext is the safe classification used when the model fails or
// returns garbage: answer generically, assume nothing.
func DefaultContext() Context {
	return Context{
		MessageType:    "unknown",
		PurchaseStage:  "exploration",
		SuggestedFlow:  "none",
		SpecificAction: "respond_general",
	}
}

type completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// llmCallObserver counts model calls where the outcome is actually known.
type llmCallObserver interface {
	ObserveLLMCall(task, status string)
}

// Router classifies inbound messages. Greetings short-circuit without a model
// call, and an identical repeated text reuses the cached classification.
type Router struct {
	llm     completer
	state   *StateStore
	logger  *logging.Logger
	metrics llmCallObserver
}

// NewRouter builds a Router over the shared state store. metrics may be nil.
func NewRouter(c completer, state *StateStore, logger *logging.Logger, metrics llmCallObserver) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{llm: c, state: state, logger: logger, metrics: metrics}
}

func (r *Router) observe(status string) {
	if r.metrics != nil {
		r.metrics.ObserveLLMCall(string(llm.TaskContextAnalysis), status)
	}
}

// Classify returns the conversational context for the message. It never
// returns an error; classification failures degrade to DefaultContext.
func (r *Router) Classify(ctx context.Context, userID, text string) Context {
	if buffer.IsSimpleGreeting(text) {
		return Context{
			MessageType:    "saludo",
			PurchaseStage:  "exploration",
			SuggestedFlow:  "none",
			SpecificAction: "responder_saludo",
		}
	}
	if cached, ok := r.state.CachedIntent(userID, text); ok {
		return cached
	}

	turns := historyToTurns(r.state.History(userID))
	if len(turns) > maxIntentHistory {
		turns = turns[len(turns)-maxIntentHistory:]
	}

	raw, err := r.llm.Complete(ctx, llm.Request{
		Task:           llm.TaskContextAnalysis,
		Conversation:   turns,
		CurrentMessage: text,
	})
	if err != nil {
		r.observe("error")
		r.logger.Warn("conversation: intent classification failed", "user_id", userID, "error", err)
		return DefaultContext()
	}

	var ic Context
	if err := json.Unmarshal([]byte(llm.SanitizeJSON(raw)), &ic); err != nil {
		r.observe("invalid")
		r.logger.Warn("conversation: intent response not parseable", "user_id", userID, "error", err)
		return DefaultContext()
	}
	r.observe("ok")
	fillDefaults(&ic)
	r.state.CacheIntent(userID, text, ic)
	return ic
}

func fillDefaults(ic *Context) {
	if ic.MessageType == "" {
		ic.MessageType = "unknown"
	}
	if ic.PurchaseStage == "" {
		ic.PurchaseStage = "exploration"
	}
	if ic.SuggestedFlow == "" {
		ic.SuggestedFlow = "none"
	}
	if ic.SpecificAction == "" {
		ic.SpecificAction = "respond_general"
	}
}

func historyToTurns(history []HistoryTurn) []llm.Turn {
	out := make([]llm.Turn, len(history))
	for i, h := range history {
		out[i] = llm.Turn{Role: h.Role, Content: h.Content}
	}
	return out
}
