package conversation

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dommoco/whatsapp-concierge/internal/buffer"
	"github.com/dommoco/whatsapp-concierge/internal/guard"
	"github.com/dommoco/whatsapp-concierge/internal/humanize"
	"github.com/dommoco/whatsapp-concierge/internal/llm"
	"github.com/dommoco/whatsapp-concierge/internal/messaging"
	"github.com/dommoco/whatsapp-concierge/internal/observability/metrics"
	"github.com/dommoco/whatsapp-concierge/internal/orders"
	"github.com/dommoco/whatsapp-concierge/pkg/logging"
)

const (
	// DefaultCooldown is the minimum gap between two processed turns for one
	// user; messages inside it get re-buffered.
	DefaultCooldown = 10 * time.Second

	// maxMessageAge drops webhook deliveries replayed long after the fact.
	maxMessageAge = 10 * time.Minute
	// maxFutureSkew tolerates small clock drift on inbound timestamps.
	maxFutureSkew = 10 * time.Second
	// outOfSequenceTolerance drops messages that arrive noticeably older than
	// one already handled.
	outOfSequenceTolerance = time.Minute
)

var welcomeMessages = []string{
	"¡Hola! 🌹 Bienvenido(a) a Dommo, rosas preservadas que duran años. ¿Buscas un regalo especial?",
	"¡Hola! Qué gusto saludarte 🌹 En Dommo tenemos rosas preservadas para toda ocasión. ¿En qué te puedo ayudar?",
	"¡Hola! Bienvenido(a) a Dommo 🌹 Cuéntame, ¿el regalo es para una fecha especial?",
}

var (
	thanksRE      = regexp.MustCompile(`(?i)\b(gracias|mil gracias|muchas gracias|te agradezco)\b`)
	frustrationRE = regexp.MustCompile(`(?i)(no sirve|no funciona|p[eé]simo|molest[oa]|enojad[oa]|nadie responde|qu[eé] mal servicio|llevo horas)`)
	cancelRE      = regexp.MustCompile(`(?i)\b(cancelar|cancela|ya no quiero|olv[ií]dalo|mejor no)\b`)
	orderStatusRE = regexp.MustCompile(`(?i)(mi pedido|mi orden|estado del? pedido|seguimiento|rastrear|cu[aá]ndo llega|ya sali[oó] mi pedido)`)
	catalogRE     = regexp.MustCompile(`(?i)\b(cat[aá]logo|catalogo|precios|modelos|qu[eé] tienen|opciones)\b`)
)

const apologyReply = "Lo siento, tuve un problema procesando tu mensaje. ¿Me lo repites por favor? 🙏"

// Notifier sends outbound WhatsApp messages.
type Notifier interface {
	SendText(ctx context.Context, to, text string) (string, error)
	SendDocument(ctx context.Context, to, documentURL, caption string) (string, error)
	MarkAsRead(ctx context.Context, messageID string) error
}

type orderSearcher interface {
	Search(ctx context.Context, terms []string) ([]orders.Order, error)
}

// EngineConfig wires the orchestrator's collaborators.
type EngineConfig struct {
	Buffer       *buffer.Buffer
	Guard        *guard.Guard
	State        *StateStore
	Intents      *Router
	Appointments *AppointmentEngine
	Orders       orderSearcher
	Notifier     Notifier
	LLM          completer
	Pipeline     *humanize.Pipeline
	Transcript   *TranscriptStore
	Logger       *logging.Logger
	Metrics      *metrics.ConciergeMetrics

	Cooldown       time.Duration
	CatalogURL     string
	CatalogCaption string
	// KnowledgeBase is injected into response-generation prompts.
	KnowledgeBase map[string]string
	// Rand picks welcome variants; injectable for tests.
	Rand *rand.Rand
	// SimulateTyping pauses before sends to feel human. Off in tests.
	SimulateTyping bool
}

// Engine orchestrates one inbound message from webhook to reply.
type Engine struct {
	buffer       *buffer.Buffer
	guard        *guard.Guard
	state        *StateStore
	intents      *Router
	appointments *AppointmentEngine
	orders       orderSearcher
	notifier     Notifier
	llm          completer
	pipeline     *humanize.Pipeline
	transcript   *TranscriptStore
	logger       *logging.Logger
	metrics      *metrics.ConciergeMetrics

	cooldown       time.Duration
	catalogURL     string
	catalogCaption string
	knowledge      map[string]string
	randMu         sync.Mutex
	rand           *rand.Rand
	simulateTyping bool

	now   func() time.Time
	sleep func(time.Duration)
}

// NewEngine validates the config and builds the orchestrator.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	switch {
	case cfg.Buffer == nil:
		return nil, fmt.Errorf("conversation: buffer is required")
	case cfg.Guard == nil:
		return nil, fmt.Errorf("conversation: guard is required")
	case cfg.State == nil:
		return nil, fmt.Errorf("conversation: state store is required")
	case cfg.Intents == nil:
		return nil, fmt.Errorf("conversation: intent router is required")
	case cfg.Appointments == nil:
		return nil, fmt.Errorf("conversation: appointment engine is required")
	case cfg.Notifier == nil:
		return nil, fmt.Errorf("conversation: notifier is required")
	case cfg.LLM == nil:
		return nil, fmt.Errorf("conversation: llm client is required")
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = humanize.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		buffer:         cfg.Buffer,
		guard:          cfg.Guard,
		state:          cfg.State,
		intents:        cfg.Intents,
		appointments:   cfg.Appointments,
		orders:         cfg.Orders,
		notifier:       cfg.Notifier,
		llm:            cfg.LLM,
		pipeline:       cfg.Pipeline,
		transcript:     cfg.Transcript,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		cooldown:       cfg.Cooldown,
		catalogURL:     cfg.CatalogURL,
		catalogCaption: cfg.CatalogCaption,
		knowledge:      cfg.KnowledgeBase,
		rand:           cfg.Rand,
		simulateTyping: cfg.SimulateTyping,
		now:            time.Now,
		sleep:          time.Sleep,
	}, nil
}

// HandleInbound takes a deduplicated webhook message, applies timestamp
// sanity checks and routes it through the debounce buffer.
func (e *Engine) HandleInbound(ctx context.Context, msg messaging.InboundMessage, sender messaging.SenderInfo) {
	now := e.now()
	ts := time.UnixMilli(msg.Timestamp)
	switch {
	case msg.Timestamp > 0 && now.Sub(ts) > maxMessageAge:
		e.logger.Warn("conversation: dropping stale delivery",
			"user_id", msg.From, "message_id", msg.ID, "age", now.Sub(ts).String())
		e.metrics.ObserveInbound("stale")
		return
	case msg.Timestamp > 0 && ts.Sub(now) > maxFutureSkew:
		// Clock drift beyond tolerance: trust our own clock instead.
		msg.Timestamp = now.UnixMilli()
		ts = now
	}
	if msg.Timestamp > 0 && e.state.ObserveMessageTime(msg.From, ts, outOfSequenceTolerance) {
		e.logger.Warn("conversation: dropping out-of-sequence message",
			"user_id", msg.From, "message_id", msg.ID)
		e.metrics.ObserveInbound("out_of_sequence")
		return
	}
	e.metrics.ObserveInbound("accepted")

	immediate := e.buffer.Add(msg.From, msg, func(combined messaging.InboundMessage, reason string) {
		e.metrics.ObserveBufferFlush(reason)
		e.Process(context.WithoutCancel(ctx), combined, sender)
	}, 0)
	if immediate {
		e.metrics.ObserveBufferFlush("immediate")
		e.Process(ctx, msg, sender)
	}
}

// Process handles one (possibly combined) message end to end.
func (e *Engine) Process(ctx context.Context, msg messaging.InboundMessage, sender messaging.SenderInfo) {
	userID := msg.From

	// Per-user cooldown: a turn landing right after the previous reply gets
	// re-queued so the customer is not answered twice in quick succession.
	if last := e.state.LastProcessedAt(userID); !last.IsZero() {
		if since := e.now().Sub(last); since < e.cooldown {
			remaining := e.cooldown - since
			e.logger.Debug("conversation: cooldown active, re-queueing",
				"user_id", userID, "remaining", remaining.String())
			time.AfterFunc(remaining, func() {
				e.Process(context.WithoutCancel(ctx), msg, sender)
			})
			return
		}
	}

	res := e.guard.Begin(userID, msg.ID)
	if res.AlreadyProcessing {
		if res.Related {
			// A reply for this turn is already being produced; keep the extra
			// text as context but do not answer it separately.
			e.state.AppendHistory(userID, "user", msg.Body)
			e.logger.Info("conversation: folded related message into turn",
				"user_id", userID, "message_id", msg.ID, "related_to", res.RelatedTo)
		}
		return
	}
	defer e.guard.Finish(userID, msg.ID)

	if !e.state.MarkProcessed(userID, msg.ID) {
		e.logger.Info("conversation: message already processed", "user_id", userID, "message_id", msg.ID)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("conversation: panic while processing", "user_id", userID, "panic", r)
			if _, err := e.notifier.SendText(context.WithoutCancel(ctx), userID, apologyReply); err != nil {
				e.logger.Error("conversation: failed to send apology", "user_id", userID, "error", err)
			}
		}
	}()

	if err := e.notifier.MarkAsRead(ctx, msg.ID); err != nil {
		e.logger.Debug("conversation: mark-as-read failed", "message_id", msg.ID, "error", err)
	}

	e.state.AppendHistory(userID, "user", msg.Body)
	e.archive(ctx, userID, "user", msg.Body, msg.ID)
	count := e.state.TouchInteraction(userID)

	reply := e.route(ctx, userID, msg.Body, sender.ProfileName, count)
	if reply == "" {
		return
	}
	e.send(ctx, userID, reply)
}

// route decides the answer for one processed turn.
func (e *Engine) route(ctx context.Context, userID, text, senderName string, interactionCount int) string {
	if buffer.IsSimpleGreeting(text) {
		return e.welcome(userID, senderName, interactionCount)
	}

	if e.state.Appointment(userID).Active {
		if cancelRE.MatchString(text) {
			e.buffer.UpdateState(userID, "")
			return e.appointments.Cancel(userID)
		}
		reply, done := e.appointments.Continue(ctx, userID, text)
		step := ""
		if !done {
			step = e.appointments.CurrentStep(userID)
		} else {
			e.metrics.ObserveAppointmentCompleted()
		}
		e.buffer.UpdateState(userID, step)
		return reply
	}

	switch {
	case thanksRE.MatchString(text) && len(text) < 40:
		return "¡Con mucho gusto! 🌹 Aquí estaré cuando me necesites."
	case frustrationRE.MatchString(text):
		return "Lamento mucho la mala experiencia 🙏 Ya aviso a una persona del equipo para que te contacte directamente y lo resolvamos."
	case orderStatusRE.MatchString(text):
		return e.orderStatus(ctx, text)
	case catalogRE.MatchString(text):
		return e.sendCatalog(ctx, userID)
	}

	ic := e.intents.Classify(ctx, userID, text)

	switch ic.SpecificAction {
	case "enviar_catalogo", "send_catalog":
		return e.sendCatalog(ctx, userID)
	case "iniciar_agendamiento", "start_appointment":
		reply := e.appointments.Start(ctx, userID, text)
		e.buffer.UpdateState(userID, e.appointments.CurrentStep(userID))
		return reply
	case "continuar_agendamiento", "continue_appointment":
		reply, done := e.appointments.Continue(ctx, userID, text)
		if done {
			e.metrics.ObserveAppointmentCompleted()
			e.buffer.UpdateState(userID, "")
		} else {
			e.buffer.UpdateState(userID, e.appointments.CurrentStep(userID))
		}
		return reply
	case "consultar_pedido", "order_status":
		return e.orderStatus(ctx, text)
	case "responder_saludo", "greeting":
		return e.welcome(userID, senderName, interactionCount)
	default:
		return e.generate(ctx, userID, text, ic)
	}
}

func (e *Engine) welcome(userID, senderName string, interactionCount int) string {
	e.randMu.Lock()
	msg := welcomeMessages[e.rand.Intn(len(welcomeMessages))]
	e.randMu.Unlock()
	if senderName != "" {
		msg = strings.Replace(msg, "¡Hola!", "¡Hola, "+senderName+"!", 1)
	}
	if interactionCount <= 1 && e.catalogURL != "" {
		msg += "\n\nSi quieres, te comparto el catálogo para que veas los modelos 📖"
	}
	e.state.SetAssistantStep(userID, "welcome_sent")
	return msg
}

func (e *Engine) sendCatalog(ctx context.Context, userID string) string {
	e.state.SetAssistantStep(userID, "sales_interaction")
	if e.catalogURL == "" {
		return "En este momento no tengo el catálogo a la mano, pero cuéntame qué buscas y te muestro opciones 🌹"
	}
	if _, err := e.notifier.SendDocument(ctx, userID, e.catalogURL, e.catalogCaption); err != nil {
		e.logger.Warn("conversation: catalog document send failed, falling back to link",
			"user_id", userID, "error", err)
		e.metrics.ObserveOutbound("document", "failed")
		return "Aquí puedes ver nuestro catálogo: " + e.catalogURL
	}
	e.metrics.ObserveOutbound("document", "sent")
	return "Te acabo de enviar el catálogo 📖 Cuéntame cuál te gusta o si buscas algo en especial 🌹"
}

func (e *Engine) orderStatus(ctx context.Context, text string) string {
	if e.orders == nil {
		return "Para consultar el estado de tu pedido, compárteme el nombre con el que lo registraste y la fecha de entrega."
	}
	terms := orders.ExtractSearchTerms(text)
	if len(terms) == 0 {
		return "Claro, te ayudo con tu pedido. ¿Me recuerdas el nombre con el que lo registraste o la fecha de entrega?"
	}
	// Terms come strongest-signal first; the first one with results wins, so
	// a weak token cannot drag in someone else's order.
	for _, term := range terms {
		matches, err := e.orders.Search(ctx, []string{term})
		if err != nil {
			e.logger.Error("conversation: order lookup failed", "error", err)
			return "No pude consultar los pedidos en este momento 🙏 Inténtalo de nuevo en unos minutos."
		}
		if len(matches) > 0 {
			return orders.FormatOrders(matches)
		}
	}
	return orders.FormatOrders(nil)
}

func (e *Engine) generate(ctx context.Context, userID, text string, ic Context) string {
	raw, err := e.llm.Complete(ctx, llm.Request{
		Task:           llm.TaskResponseGeneration,
		Conversation:   historyToTurns(e.state.History(userID)),
		CurrentMessage: text,
		KnowledgeBase:  e.knowledge,
		StateInfo: map[string]any{
			"purchaseStage": ic.PurchaseStage,
			"suggestedFlow": ic.SuggestedFlow,
			"topics":        ic.Topics,
		},
		SpecificPrompt: "Responde la consulta del cliente usando solo la información de la tienda.",
		ResponseType:   ic.MessageType,
	})
	if err != nil {
		e.logger.Error("conversation: response generation failed", "user_id", userID, "error", err)
		e.metrics.ObserveLLMCall(string(llm.TaskResponseGeneration), "error")
		return "Dame un momento, estoy teniendo problemas técnicos 🙏 Si es urgente escríbenos al número de la tienda."
	}
	e.metrics.ObserveLLMCall(string(llm.TaskResponseGeneration), "ok")
	return raw
}

// send humanizes, paces and dispatches one reply, then records it.
func (e *Engine) send(ctx context.Context, userID, reply string) {
	final := e.pipeline.Finalize(reply, e.state.RecentResponses(userID))
	if final == "" {
		return
	}
	if e.simulateTyping {
		e.sleep(humanize.TypingDelay(final))
	}
	if _, err := e.notifier.SendText(ctx, userID, final); err != nil {
		e.logger.Error("conversation: send failed", "user_id", userID, "error", err)
		e.metrics.ObserveOutbound("text", "failed")
		return
	}
	e.metrics.ObserveOutbound("text", "sent")
	e.state.RecordResponse(userID, final)
	e.state.AppendHistory(userID, "assistant", final)
	e.archive(ctx, userID, "assistant", final, "")
}

func (e *Engine) archive(ctx context.Context, userID, role, body, messageID string) {
	err := e.transcript.Append(ctx, userID, TranscriptMessage{
		Role:      role,
		WaID:      userID,
		Body:      body,
		MessageID: messageID,
	})
	if err != nil {
		e.logger.Debug("conversation: transcript append failed", "user_id", userID, "error", err)
	}
}
