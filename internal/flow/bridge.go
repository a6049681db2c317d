package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/CedarClinic/ClinicPipe/internal/availability"
	"github.com/CedarClinic/ClinicPipe/internal/booking"
	"github.com/CedarClinic/ClinicPipe/internal/clinictime"
	"github.com/CedarClinic/ClinicPipe/internal/genai"
	"github.com/CedarClinic/ClinicPipe/internal/models"
)

const systemPromptTemplate = `You are the scheduling assistant for a medical clinic. You help patients book, reschedule, and cancel appointments over chat.

Rules:
- Use the provided tools for anything that touches the schedule. Never invent availability or confirm a booking without a successful tool call.
- Keep replies short and warm, suitable for a chat message.
- When a request is outside scheduling (medical advice, billing, complaints), use handoff_to_human.
- The clinic's time zone is %s. Today is %s.`

// Bridge routes free-form messages through the LLM with booking tools.
type Bridge struct {
	client  genai.Client
	engine  *availability.Engine
	handler *booking.Handler
	catalog models.ServiceCatalog
	loc     *time.Location
}

// NewBridge creates the LLM fallback bridge.
func NewBridge(client genai.Client, engine *availability.Engine, handler *booking.Handler, catalog models.ServiceCatalog) *Bridge {
	return &Bridge{
		client:  client,
		engine:  engine,
		handler: handler,
		catalog: catalog,
		loc:     engine.Location(),
	}
}

// Fallback runs one completion round, executing any requested tools, then a
// closing round so the model can phrase the outcome. ok is false when the
// model could not be reached at all; the caller then uses its static help text.
func (b *Bridge) Fallback(ctx context.Context, sess *models.Session, userText string) ([]Reply, bool) {
	messages := b.buildMessages(sess)
	tools := b.toolDefinitions()

	resp, err := b.client.GenerateWithTools(ctx, messages, tools)
	if err != nil {
		slog.Error("Fallback completion failed", "userID", sess.UserID, "error", err)
		return nil, false
	}
	if len(resp.ToolCalls) == 0 {
		if resp.Content == "" {
			return nil, false
		}
		return []Reply{{Text: resp.Content}}, true
	}

	return b.runToolRound(ctx, sess, messages, resp), true
}

// runToolRound executes the requested tools and asks the model to phrase the
// results. If the closing completion fails, the raw tool results are joined
// into the reply so the patient still gets an answer.
func (b *Bridge) runToolRound(ctx context.Context, sess *models.Session, messages []openai.ChatCompletionMessageParamUnion, resp *genai.ToolCallResponse) []Reply {
	var toolCallParams []openai.ChatCompletionMessageToolCallParam
	for _, tc := range resp.ToolCalls {
		toolCallParams = append(toolCallParams, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			},
		})
	}
	assistant := openai.ChatCompletionAssistantMessageParam{
		Content:   openai.ChatCompletionAssistantMessageParamContentUnion{OfString: param.NewOpt(resp.Content)},
		ToolCalls: toolCallParams,
	}
	messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

	var results []models.ToolResult
	for _, tc := range resp.ToolCalls {
		result := b.executeTool(ctx, sess, tc)
		results = append(results, result)
		messages = append(messages, openai.ToolMessage(toolResultContent(result), tc.ID))
	}

	final, err := b.client.GenerateWithTools(ctx, messages, nil)
	if err != nil || final.Content == "" {
		slog.Warn("Closing completion failed, replying with raw tool results", "userID", sess.UserID, "error", err)
		var parts []string
		for _, r := range results {
			parts = append(parts, toolResultContent(r))
		}
		return []Reply{{Text: strings.Join(parts, "\n")}}
	}
	return []Reply{{Text: final.Content}}
}

func (b *Bridge) buildMessages(sess *models.Session) []openai.ChatCompletionMessageParamUnion {
	now := b.engine.Now().In(b.loc)
	prompt := fmt.Sprintf(systemPromptTemplate, b.loc.String(), now.Format("Monday, January 2 2006"))
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(prompt)}
	if sess.ActiveAppointment != nil {
		messages = append(messages, openai.SystemMessage(fmt.Sprintf(
			"The patient has an active appointment: %s on %s (id %s).",
			b.catalog.Title(sess.ActiveAppointment.Service),
			clinictime.FormatSlot(sess.ActiveAppointment.Start, b.loc),
			sess.ActiveAppointment.EventID)))
	}
	for _, msg := range sess.Messages {
		if msg.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(msg.Content))
		} else {
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	return messages
}

// executeTool dispatches one tool call against the deterministic machinery.
// The session is mutated exactly as the equivalent typed-path step would.
func (b *Bridge) executeTool(ctx context.Context, sess *models.Session, tc models.ToolCall) models.ToolResult {
	slog.Info("Executing fallback tool", "userID", sess.UserID, "tool", tc.Name)
	switch tc.Name {
	case models.ToolGetAvailableSlots:
		return b.toolGetSlots(ctx, sess, tc)
	case models.ToolBookAppointment:
		return b.toolBook(ctx, sess, tc)
	case models.ToolRescheduleAppointment:
		return b.toolReschedule(ctx, sess, tc)
	case models.ToolCancelAppointment:
		return b.toolCancel(ctx, sess, tc)
	case models.ToolHandoffToHuman:
		return b.toolHandoff(sess, tc)
	default:
		return toolFailure(tc.ID, fmt.Sprintf("unknown tool %q", tc.Name))
	}
}

func (b *Bridge) toolGetSlots(ctx context.Context, sess *models.Session, tc models.ToolCall) models.ToolResult {
	var params models.GetAvailableSlotsParams
	if err := json.Unmarshal(tc.Arguments, &params); err != nil {
		return toolFailure(tc.ID, "invalid arguments: "+err.Error())
	}
	if err := params.Validate(); err != nil {
		return toolFailure(tc.ID, err.Error())
	}
	r := params.Range()
	slots, err := b.engine.AvailableSlots(ctx, params.Service, r.From, r.To)
	if err != nil {
		return toolFailure(tc.ID, err.Error())
	}

	sess.PendingService = params.Service
	sess.LastSlots = slots
	sess.State = models.StateAwaitingSlotChoice

	var lines []string
	for i, slot := range slots {
		lines = append(lines, fmt.Sprintf("%d. %s (id %s)", i+1, clinictime.FormatSlot(slot.Start, b.loc), slot.ID))
	}
	return toolSuccess(tc.ID, "Available slots:\n"+strings.Join(lines, "\n"))
}

func (b *Bridge) toolBook(ctx context.Context, sess *models.Session, tc models.ToolCall) models.ToolResult {
	var params models.BookAppointmentParams
	if err := json.Unmarshal(tc.Arguments, &params); err != nil {
		return toolFailure(tc.ID, "invalid arguments: "+err.Error())
	}
	if err := params.Validate(); err != nil {
		return toolFailure(tc.ID, err.Error())
	}
	slot := findSlot(sess.LastSlots, params.SlotID)
	if slot == nil {
		return toolFailure(tc.ID, "slot_id does not match an offered slot; call get_available_slots first")
	}
	appt, err := b.handler.Book(ctx, booking.BookRequest{
		Slot:        *slot,
		PatientName: params.PatientName,
		Phone:       params.Phone,
		ChannelID:   sess.UserID,
		Notes:       params.Notes,
	})
	if err != nil {
		return toolFailure(tc.ID, err.Error())
	}

	sess.ActiveAppointment = &models.AppointmentRef{EventID: appt.EventID, Service: appt.Service, Start: appt.Start, End: appt.End}
	sess.ClearPending()
	sess.State = models.StatePostBooking
	return toolSuccess(tc.ID, fmt.Sprintf("Booked %s for %s on %s.",
		b.catalog.Title(appt.Service), appt.PatientName, clinictime.FormatSlot(appt.Start, b.loc)))
}

func (b *Bridge) toolReschedule(ctx context.Context, sess *models.Session, tc models.ToolCall) models.ToolResult {
	var params models.RescheduleAppointmentParams
	if err := json.Unmarshal(tc.Arguments, &params); err != nil {
		return toolFailure(tc.ID, "invalid arguments: "+err.Error())
	}
	if err := params.Validate(); err != nil {
		return toolFailure(tc.ID, err.Error())
	}
	slot := findSlot(sess.LastSlots, params.SlotID)
	if slot == nil {
		return toolFailure(tc.ID, "slot_id does not match an offered slot; call get_available_slots first")
	}
	appt, err := b.handler.Reschedule(ctx, booking.RescheduleRequest{
		EventID:     params.AppointmentID,
		Slot:        *slot,
		PatientName: params.PatientName,
		Phone:       params.Phone,
	})
	if err != nil {
		return toolFailure(tc.ID, err.Error())
	}

	sess.ActiveAppointment = &models.AppointmentRef{EventID: appt.EventID, Service: appt.Service, Start: appt.Start, End: appt.End}
	sess.ClearPending()
	sess.State = models.StatePostBooking
	return toolSuccess(tc.ID, fmt.Sprintf("Rescheduled to %s.", clinictime.FormatSlot(appt.Start, b.loc)))
}

func (b *Bridge) toolCancel(ctx context.Context, sess *models.Session, tc models.ToolCall) models.ToolResult {
	var params models.CancelAppointmentParams
	if err := json.Unmarshal(tc.Arguments, &params); err != nil {
		return toolFailure(tc.ID, "invalid arguments: "+err.Error())
	}
	if err := params.Validate(); err != nil {
		return toolFailure(tc.ID, err.Error())
	}
	appt, err := b.handler.Cancel(ctx, params.AppointmentID, params.Reason)
	if err != nil {
		return toolFailure(tc.ID, err.Error())
	}

	if sess.ActiveAppointment != nil && sess.ActiveAppointment.EventID == appt.EventID {
		sess.ActiveAppointment = nil
	}
	sess.ClearPending()
	sess.State = models.StateIdle
	return toolSuccess(tc.ID, fmt.Sprintf("Cancelled the %s on %s.",
		b.catalog.Title(appt.Service), clinictime.FormatSlot(appt.Start, b.loc)))
}

func (b *Bridge) toolHandoff(sess *models.Session, tc models.ToolCall) models.ToolResult {
	var params models.HandoffToHumanParams
	if err := json.Unmarshal(tc.Arguments, &params); err != nil {
		return toolFailure(tc.ID, "invalid arguments: "+err.Error())
	}
	if err := params.Validate(); err != nil {
		return toolFailure(tc.ID, err.Error())
	}
	ticket := b.handler.HandoffToHuman(sess.UserID, params)
	return toolSuccess(tc.ID, fmt.Sprintf("A member of our team will follow up shortly (ticket %s).", ticket.ID))
}

func findSlot(slots []models.Slot, slotID string) *models.Slot {
	for i := range slots {
		if slots[i].ID == slotID {
			return &slots[i]
		}
	}
	return nil
}

func toolSuccess(id, msg string) models.ToolResult {
	return models.ToolResult{ToolCallID: id, Success: true, Message: msg}
}

func toolFailure(id, errMsg string) models.ToolResult {
	return models.ToolResult{ToolCallID: id, Success: false, Error: errMsg}
}

func toolResultContent(r models.ToolResult) string {
	if r.Success {
		return r.Message
	}
	return "Error: " + r.Error
}

// toolDefinitions declares the booking operations exposed to the model.
func (b *Bridge) toolDefinitions() []openai.ChatCompletionToolParam {
	var serviceKeys []string
	for _, svc := range b.catalog {
		serviceKeys = append(serviceKeys, svc.Key)
	}

	return []openai.ChatCompletionToolParam{
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        models.ToolGetAvailableSlots,
				Description: openai.String("List bookable appointment slots for a service within a date range."),
				Parameters: shared.FunctionParameters{
					"type": "object",
					"properties": map[string]interface{}{
						"service": map[string]interface{}{
							"type":        "string",
							"enum":        serviceKeys,
							"description": "The requested service",
						},
						"from": map[string]interface{}{
							"type":        "string",
							"description": "Range start, RFC 3339. Omit for the default window.",
						},
						"to": map[string]interface{}{
							"type":        "string",
							"description": "Range end, RFC 3339. Omit for the default window.",
						},
					},
					"required": []string{"service"},
				},
			},
		},
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        models.ToolBookAppointment,
				Description: openai.String("Book one of the slots returned by get_available_slots."),
				Parameters: shared.FunctionParameters{
					"type": "object",
					"properties": map[string]interface{}{
						"service":      map[string]interface{}{"type": "string", "enum": serviceKeys},
						"slot_id":      map[string]interface{}{"type": "string", "description": "Slot id from get_available_slots"},
						"patient_name": map[string]interface{}{"type": "string"},
						"phone":        map[string]interface{}{"type": "string"},
						"notes":        map[string]interface{}{"type": "string"},
					},
					"required": []string{"service", "slot_id", "patient_name", "phone"},
				},
			},
		},
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        models.ToolRescheduleAppointment,
				Description: openai.String("Move an existing appointment to a slot returned by get_available_slots."),
				Parameters: shared.FunctionParameters{
					"type": "object",
					"properties": map[string]interface{}{
						"appointment_id": map[string]interface{}{"type": "string", "description": "The appointment's event id"},
						"slot_id":        map[string]interface{}{"type": "string"},
					},
					"required": []string{"appointment_id", "slot_id"},
				},
			},
		},
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        models.ToolCancelAppointment,
				Description: openai.String("Cancel an existing appointment. The slot becomes available again."),
				Parameters: shared.FunctionParameters{
					"type": "object",
					"properties": map[string]interface{}{
						"appointment_id": map[string]interface{}{"type": "string"},
						"reason":         map[string]interface{}{"type": "string"},
					},
					"required": []string{"appointment_id"},
				},
			},
		},
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        models.ToolHandoffToHuman,
				Description: openai.String("Hand the conversation to clinic staff for anything outside scheduling."),
				Parameters: shared.FunctionParameters{
					"type": "object",
					"properties": map[string]interface{}{
						"summary": map[string]interface{}{"type": "string", "description": "One-line summary for staff"},
						"urgent":  map[string]interface{}{"type": "boolean"},
					},
					"required": []string{"summary"},
				},
			},
		},
	}
}
