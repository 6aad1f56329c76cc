package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dommoco/whatsapp-concierge/internal/llm"
	"github.com/dommoco/whatsapp-concierge/internal/orders"
	"github.com/dommoco/whatsapp-concierge/pkg/logging"
)

// Step identifies the question the scheduling flow is waiting on.
type Step string

const (
	StepName         Step = "name"
	StepGiftee       Step = "giftee"
	StepDate         Step = "date"
	StepTimeSlot     Step = "timeSlot"
	StepDescription  Step = "orderDescription"
	StepAddress      Step = "address"
	StepConfirmation Step = "confirmation"
)

// stepOrder is the canonical question sequence. Volunteered fields let the
// flow skip ahead; it never moves backwards.
var stepOrder = []Step{
	StepName, StepGiftee, StepDate, StepTimeSlot, StepDescription, StepAddress, StepConfirmation,
}

var stepPrompts = map[Step]string{
	StepName:         "¡Perfecto! Vamos a agendar tu pedido 🌹 ¿A nombre de quién lo registramos?",
	StepGiftee:       "¿Para quién es el regalo?",
	StepDate:         "¿Para qué fecha necesitas la entrega? (por ejemplo 15/09/2026)",
	StepTimeSlot:     "¿En qué franja prefieres la entrega: mañana, tarde o noche?",
	StepDescription:  "Cuéntame qué pedido quieres: color de la rosa, tamaño, si lleva tarjeta...",
	StepAddress:      "¿A qué dirección hacemos la entrega?",
	StepConfirmation: "", // built dynamically with the summary
}

var (
	confirmYesRE = regexp.MustCompile(`(?i)^\s*(si|sí|claro|ok|dale|confirmo|confirmado|perfecto|correcto)\b`)
	confirmNoRE  = regexp.MustCompile(`(?i)^\s*(no|cancelar|cancela|mejor no)\b`)
)

type orderRecorder interface {
	Record(ctx context.Context, o orders.Order) error
}

// AppointmentEngine drives the step-by-step order scheduling flow.
type AppointmentEngine struct {
	llm    completer
	orders orderRecorder
	state  *StateStore
	logger *logging.Logger
	now    func() time.Time
}

// NewAppointmentEngine wires the flow to its collaborators.
func NewAppointmentEngine(c completer, rec orderRecorder, state *StateStore, logger *logging.Logger) *AppointmentEngine {
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentEngine{llm: c, orders: rec, state: state, logger: logger, now: time.Now}
}

// Start opens the flow for a user. Fields volunteered in the initiating
// message are captured before the first question.
func (e *AppointmentEngine) Start(ctx context.Context, userID, text string) string {
	a := Appointment{Active: true, Step: StepName}
	ext := Extract(text, "")
	applyVolunteered(&a, ext.Fields)
	a.Step = nextUnfilled(a)
	e.state.SetAppointment(userID, a)
	return e.promptFor(ctx, a)
}

// Continue consumes one answer. It returns the next reply and whether the
// flow finished (completed or cancelled).
func (e *AppointmentEngine) Continue(ctx context.Context, userID, text string) (reply string, done bool) {
	a := e.state.Appointment(userID)
	if !a.Active {
		return e.Start(ctx, userID, text), false
	}

	if a.Step == StepConfirmation {
		return e.confirm(ctx, userID, a, text)
	}

	ext := Extract(text, a.Step)
	value, errReply := e.valueForStep(ctx, a.Step, ext.Primary, text)
	if errReply != "" {
		e.state.SetAppointment(userID, a)
		return errReply, false
	}
	setField(&a, a.Step, value)
	applyVolunteered(&a, ext.Fields)

	a.Step = nextUnfilled(a)
	e.state.SetAppointment(userID, a)
	return e.promptFor(ctx, a), false
}

// CurrentStep reports the active step for buffer hinting, empty when idle.
func (e *AppointmentEngine) CurrentStep(userID string) string {
	a := e.state.Appointment(userID)
	if !a.Active {
		return ""
	}
	return string(a.Step)
}

// Cancel abandons the flow.
func (e *AppointmentEngine) Cancel(userID string) string {
	e.state.ClearAppointment(userID)
	return "Listo, cancelé el agendamiento. Si quieres retomarlo más adelante, solo escríbeme 🌹"
}

func (e *AppointmentEngine) confirm(ctx context.Context, userID string, a Appointment, text string) (string, bool) {
	switch {
	case confirmYesRE.MatchString(text):
		o := orders.Order{
			Name:        a.Name,
			Giftee:      a.Giftee,
			Date:        a.Date,
			TimeSlot:    a.TimeSlot,
			Description: a.Description,
			Timestamp:   e.now().UTC().Format(time.RFC3339),
		}
		if err := e.orders.Record(ctx, o); err != nil {
			// The conversation already promised the order; surface the loss in
			// logs for manual recovery instead of bouncing the customer.
			e.logger.Error("conversation: failed to record confirmed order",
				"user_id", userID, "name", o.Name, "date", o.Date, "error", err)
		}
		e.state.ClearAppointment(userID)
		return fmt.Sprintf("¡Pedido confirmado! 🎉 Entregaremos el %s en la %s. Te escribiremos si necesitamos algún dato adicional. ¡Gracias por confiar en nosotros! 🌹", a.Date, a.TimeSlot), true

	case confirmNoRE.MatchString(text):
		e.state.ClearAppointment(userID)
		return "Entendido, no registré el pedido. Si algo estaba mal dime qué cambiamos y empezamos de nuevo.", true

	default:
		return "¿Me confirmas el pedido? Responde *sí* para registrarlo o *no* para cancelarlo.", false
	}
}

// valueForStep validates the clause for the current step. A non-empty
// errReply means the step did not advance.
func (e *AppointmentEngine) valueForStep(ctx context.Context, step Step, primary, full string) (value, errReply string) {
	primary = strings.TrimSpace(primary)
	if primary == "" {
		primary = strings.TrimSpace(full)
	}
	switch step {
	case StepDate:
		return e.validateDate(ctx, primary)
	case StepTimeSlot:
		return e.validateSlot(ctx, primary)
	case StepName, StepGiftee:
		// "Me llamo Ana García" answers with the name alone.
		if m := nameRE.FindStringSubmatch(primary); m != nil {
			primary = strings.TrimSpace(m[1])
		}
		if utf8.RuneCountInString(primary) < 2 {
			return "", "No alcancé a entender el nombre, ¿me lo repites por favor?"
		}
		return primary, ""
	case StepAddress:
		if utf8.RuneCountInString(primary) < 8 {
			return "", "Necesito la dirección completa para la entrega, ¿me la compartes?"
		}
		return strings.TrimSpace(full), ""
	default:
		if primary == "" {
			return "", "No recibí tu respuesta, ¿me la repites por favor?"
		}
		// Free-text steps keep the whole message, not just the first clause.
		return strings.TrimSpace(full), ""
	}
}

type dateValidation struct {
	Valid         bool   `json:"valid"`
	FormattedDate string `json:"formattedDate"`
	Error         string `json:"error"`
}

func (e *AppointmentEngine) validateDate(ctx context.Context, input string) (value, errReply string) {
	raw, err := e.llm.Complete(ctx, llm.Request{Task: llm.TaskDateValidation, Date: input})
	if err != nil {
		e.logger.Warn("conversation: date validation call failed", "error", err)
		// Degraded mode: accept anything that already looks like a date.
		if d := findDate(input); d != "" {
			return d, ""
		}
		return "", "No pude validar esa fecha. ¿Me la escribes como DD/MM/AAAA? Por ejemplo 15/09/2026."
	}
	var v dateValidation
	if err := json.Unmarshal([]byte(llm.SanitizeJSON(raw)), &v); err != nil || !v.Valid || v.FormattedDate == "" {
		msg := v.Error
		if msg == "" {
			msg = "Esa fecha no me quedó clara."
		}
		return "", msg + " ¿Me la escribes como DD/MM/AAAA?"
	}
	return v.FormattedDate, ""
}

type slotValidation struct {
	Valid           bool   `json:"valid"`
	NormalizedValue string `json:"normalizedValue"`
	Error           string `json:"error"`
}

func (e *AppointmentEngine) validateSlot(ctx context.Context, input string) (value, errReply string) {
	raw, err := e.llm.Complete(ctx, llm.Request{Task: llm.TaskTimeSlotValidation, TimeSlot: input})
	if err != nil {
		e.logger.Warn("conversation: time slot validation call failed", "error", err)
		if m := slotRE.FindString(input); m != "" {
			return normalizeSlot(m), ""
		}
		return "", "¿La entrega la prefieres en la mañana, en la tarde o en la noche?"
	}
	var v slotValidation
	if err := json.Unmarshal([]byte(llm.SanitizeJSON(raw)), &v); err != nil || !v.Valid || v.NormalizedValue == "" {
		return "", "¿La entrega la prefieres en la mañana, en la tarde o en la noche?"
	}
	return v.NormalizedValue, ""
}

// promptFor asks the model to phrase the next question naturally, falling
// back to the static prompt when the model fails or answers too briefly.
// The confirmation summary is always static so the fields are verbatim.
func (e *AppointmentEngine) promptFor(ctx context.Context, a Appointment) string {
	static := e.staticPrompt(a)
	if a.Step == StepConfirmation {
		return static
	}
	raw, err := e.llm.Complete(ctx, llm.Request{
		Task:           llm.TaskResponseGeneration,
		SpecificPrompt: "Reformula de manera natural y breve esta pregunta para el cliente, sin cambiar lo que se pide: " + static,
		ResponseType:   "pregunta_agendamiento",
	})
	raw = strings.TrimSpace(raw)
	if err != nil || utf8.RuneCountInString(raw) < 10 {
		return static
	}
	return raw
}

func (e *AppointmentEngine) staticPrompt(a Appointment) string {
	if a.Step == StepConfirmation {
		summary := fmt.Sprintf(`Esto es lo que tengo de tu pedido:

- A nombre de: %s
- Para: %s
- Fecha de entrega: %s
- Franja: %s
- Pedido: %s
- Dirección: %s`, a.Name, a.Giftee, a.Date, a.TimeSlot, a.Description, a.Address)
		if a.Phone != "" {
			summary += "\n- Teléfono de contacto: " + a.Phone
		}
		return summary + "\n\n¿Confirmas el pedido? (sí/no)"
	}
	return stepPrompts[a.Step]
}

// applyVolunteered fills only empty fields: answers already given win over
// later mentions.
func applyVolunteered(a *Appointment, fields map[string]string) {
	if v := fields["name"]; v != "" && a.Name == "" {
		a.Name = v
	}
	if v := fields["giftee"]; v != "" && a.Giftee == "" {
		a.Giftee = v
	}
	if v := fields["date"]; v != "" && a.Date == "" {
		a.Date = v
	}
	if v := fields["timeSlot"]; v != "" && a.TimeSlot == "" {
		a.TimeSlot = v
	}
	if v := fields["address"]; v != "" && a.Address == "" {
		a.Address = v
	}
	if v := fields["phone"]; v != "" && a.Phone == "" {
		a.Phone = v
	}
}

func setField(a *Appointment, step Step, value string) {
	switch step {
	case StepName:
		if a.Name == "" {
			a.Name = value
		}
	case StepGiftee:
		if a.Giftee == "" {
			a.Giftee = value
		}
	case StepDate:
		if a.Date == "" {
			a.Date = value
		}
	case StepTimeSlot:
		if a.TimeSlot == "" {
			a.TimeSlot = value
		}
	case StepDescription:
		if a.Description == "" {
			a.Description = value
		}
	case StepAddress:
		if a.Address == "" {
			a.Address = value
		}
	}
}

func nextUnfilled(a Appointment) Step {
	for _, s := range stepOrder {
		if s == StepConfirmation {
			break
		}
		if fieldValue(a, s) == "" {
			return s
		}
	}
	return StepConfirmation
}

func fieldValue(a Appointment, step Step) string {
	switch step {
	case StepName:
		return a.Name
	case StepGiftee:
		return a.Giftee
	case StepDate:
		return a.Date
	case StepTimeSlot:
		return a.TimeSlot
	case StepDescription:
		return a.Description
	case StepAddress:
		return a.Address
	}
	return ""
}
