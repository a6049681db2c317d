// Package flow implements the per-user booking conversation state machine.
//
// One inbound message maps to one deterministic step: load the session,
// interpret the message against the current state, run at most one booking
// side effect, persist, reply. Free-form messages that the deterministic
// paths cannot interpret fall through to the LLM tool-call bridge.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CedarClinic/ClinicPipe/internal/availability"
	"github.com/CedarClinic/ClinicPipe/internal/booking"
	"github.com/CedarClinic/ClinicPipe/internal/clinictime"
	"github.com/CedarClinic/ClinicPipe/internal/models"
	"github.com/CedarClinic/ClinicPipe/internal/session"
)

const (
	msgTemporaryTrouble = "Sorry, I'm having trouble reaching our scheduling system right now. Please try again in a moment."
	msgGreeting         = "Hello! I can help you book, reschedule, or cancel an appointment. What can I do for you?"
	msgHelp             = "I can help you book, reschedule, or cancel an appointment. For example, try \"I'd like a cleaning next week\"."
	msgAskDay           = "What day works for you? You can say things like \"tomorrow\" or \"next friday\"."
	msgDayNotUnderstood = "Sorry, I didn't catch the day. You can say things like \"tomorrow\", \"friday\", or \"june 20\"."
	msgNoAvailability   = "I don't see any openings then. Would another day work?"
	msgSlotNotMatched   = "I couldn't match that to one of the times I offered. Please reply with the number of an option, like \"2\", or a time like \"10:00\"."
	msgAskName          = "What name should I put on the appointment?"
	msgAskPhone         = "And a phone number where we can reach you?"
	msgNoAppointment    = "I don't see an upcoming appointment for you. Would you like to book one?"
	msgYoureWelcome     = "You're welcome! If you need anything else, just send me a message."
)

// Reply is one outbound message produced by a step. Menu, when set, is
// rendered as an interactive selection list where the transport supports it.
type Reply struct {
	Text string
	Menu *models.SelectionMenu
}

// Machine drives booking conversations over a session store, the availability
// engine, and the booking handler.
type Machine struct {
	sessions session.Store
	engine   *availability.Engine
	handler  *booking.Handler
	bridge   *Bridge
	catalog  models.ServiceCatalog
	loc      *time.Location
}

// MachineOption configures optional machine collaborators.
type MachineOption func(*Machine)

// WithBridge attaches the LLM fallback bridge.
func WithBridge(b *Bridge) MachineOption {
	return func(m *Machine) { m.bridge = b }
}

// NewMachine creates the conversation state machine.
func NewMachine(sessions session.Store, engine *availability.Engine, handler *booking.Handler, catalog models.ServiceCatalog, opts ...MachineOption) *Machine {
	m := &Machine{
		sessions: sessions,
		engine:   engine,
		handler:  handler,
		catalog:  catalog,
		loc:      engine.Location(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandleMessage processes one inbound message and returns the replies to send.
// Upstream failures never surface to the patient as errors: the reply is a
// retry prompt and the session state is left where it was.
func (m *Machine) HandleMessage(ctx context.Context, msg models.InboundMessage) ([]Reply, error) {
	if msg.UserID == "" {
		return nil, models.ErrEmptyUserID
	}

	sess, err := m.sessions.Load(ctx, msg.UserID)
	if err != nil {
		slog.Error("Session load failed", "userID", msg.UserID, "error", err)
		return []Reply{{Text: msgTemporaryTrouble}}, nil
	}
	if sess == nil {
		sess = models.NewSession(msg.UserID)
	}

	// Transport redelivery of an already-processed message must not repeat
	// side effects. Checked before any state transition.
	if msg.MessageID != "" && msg.MessageID == sess.LastProcessedMessageID {
		slog.Debug("Duplicate message skipped", "userID", msg.UserID, "messageID", msg.MessageID)
		return nil, nil
	}

	if msg.Text != "" {
		sess.AppendMessage("user", msg.Text)
	}

	replies := m.step(ctx, sess, msg)

	for _, r := range replies {
		if r.Text != "" {
			sess.AppendMessage("assistant", r.Text)
		}
	}
	sess.LastProcessedMessageID = msg.MessageID
	sess.UpdatedAt = time.Now()
	if err := m.sessions.Save(ctx, sess); err != nil {
		// The reply still goes out; the next message may repeat a question.
		slog.Error("Session save failed", "userID", msg.UserID, "error", err)
	}
	return replies, nil
}

func (m *Machine) step(ctx context.Context, sess *models.Session, msg models.InboundMessage) []Reply {
	switch sess.State {
	case models.StateAwaitingDay:
		return m.stepAwaitingDay(ctx, sess, msg)
	case models.StateAwaitingSlotChoice:
		return m.stepSlotChoice(ctx, sess, msg, false)
	case models.StateAwaitingRescheduleSlot:
		return m.stepSlotChoice(ctx, sess, msg, true)
	case models.StateAwaitingName:
		return m.stepAwaitingName(ctx, sess, msg)
	case models.StateAwaitingPhone:
		return m.stepAwaitingPhone(ctx, sess, msg)
	case models.StatePostBooking:
		return m.stepStable(ctx, sess, msg)
	default:
		return m.stepStable(ctx, sess, msg)
	}
}

// stepStable handles idle and post_booking, where any new intent may arrive.
func (m *Machine) stepStable(ctx context.Context, sess *models.Session, msg models.InboundMessage) []Reply {
	// An interactive tap skips intent classification.
	if msg.SelectionID != "" {
		if _, ok := m.catalog.Find(msg.SelectionID); ok {
			return m.beginBooking(ctx, sess, msg.SelectionID, msg.Text)
		}
		switch msg.SelectionID {
		case "confirm":
			return m.confirmActive(sess)
		case "reschedule":
			return m.beginReschedule(ctx, sess, msg.Text)
		case "cancel":
			return m.cancelActive(ctx, sess)
		}
	}

	// After a booking, a bare number answers the confirm/reschedule/cancel menu.
	if sess.State == models.StatePostBooking && sess.ActiveAppointment != nil {
		switch strings.TrimSpace(msg.Text) {
		case "1":
			return m.confirmActive(sess)
		case "2":
			return m.beginReschedule(ctx, sess, "")
		case "3":
			return m.cancelActive(ctx, sess)
		}
	}

	switch ClassifyIntent(msg.Text, m.catalog) {
	case IntentCancel:
		return m.cancelActive(ctx, sess)
	case IntentReschedule:
		return m.beginReschedule(ctx, sess, msg.Text)
	case IntentConfirm:
		return m.confirmActive(sess)
	case IntentThanks:
		return []Reply{{Text: msgYoureWelcome}}
	case IntentBook:
		service := DetectService(msg.Text, m.catalog)
		if service == "" {
			return []Reply{{
				Text: "Of course. Which service would you like?",
				Menu: m.serviceMenu(),
			}}
		}
		return m.beginBooking(ctx, sess, service, msg.Text)
	case IntentGreeting:
		text := msgGreeting
		if sess.ActiveAppointment != nil {
			text = fmt.Sprintf("Hello! Your %s is booked for %s. I can also help you reschedule or cancel it.",
				m.catalog.Title(sess.ActiveAppointment.Service),
				clinictime.FormatSlot(sess.ActiveAppointment.Start, m.loc))
		}
		return []Reply{{Text: text, Menu: m.serviceMenu()}}
	default:
		if m.bridge != nil {
			if replies, ok := m.bridge.Fallback(ctx, sess, msg.Text); ok {
				return replies
			}
		}
		if sess.ActiveAppointment != nil {
			return []Reply{{
				Text: "Sorry, I didn't catch that. You can confirm, reschedule, or cancel your appointment:",
				Menu: m.postBookingMenu(),
			}}
		}
		return []Reply{{Text: msgHelp}}
	}
}

// beginBooking records the requested service and either asks for a day or,
// when the message already carries one, offers slots immediately.
func (m *Machine) beginBooking(ctx context.Context, sess *models.Session, service, text string) []Reply {
	sess.ClearPending()
	sess.PendingService = service

	if r, err := availability.ParseDateExpression(text, m.engine.Now(), m.loc); err == nil {
		sess.PendingRange = r
		return m.offerSlots(ctx, sess)
	}
	sess.State = models.StateAwaitingDay
	return []Reply{{Text: fmt.Sprintf("%s it is. %s", m.catalog.Title(service), msgAskDay)}}
}

func (m *Machine) stepAwaitingDay(ctx context.Context, sess *models.Session, msg models.InboundMessage) []Reply {
	if containsAny(normalizeText(msg.Text), cancelWords) {
		return m.abortFlow(sess)
	}
	// The patient may change their mind about the service mid-flow.
	if svc := DetectService(msg.Text, m.catalog); svc != "" && !sess.Rescheduling {
		sess.PendingService = svc
	}

	r, err := availability.ParseDateExpression(msg.Text, m.engine.Now(), m.loc)
	if err != nil {
		return []Reply{{Text: msgDayNotUnderstood}}
	}
	sess.PendingRange = r
	return m.offerSlots(ctx, sess)
}

// offerSlots queries availability for the pending service and range and moves
// to the matching slot-choice state.
func (m *Machine) offerSlots(ctx context.Context, sess *models.Session) []Reply {
	service := sess.PendingService
	slots, err := m.engine.AvailableSlots(ctx, service, sess.PendingRange.From, sess.PendingRange.To)
	if errors.Is(err, models.ErrNoAvailability) {
		sess.State = models.StateAwaitingDay
		return []Reply{{Text: msgNoAvailability}}
	}
	if err != nil {
		slog.Error("Slot query failed", "userID", sess.UserID, "service", service, "error", err)
		return []Reply{{Text: msgTemporaryTrouble}}
	}

	sess.LastSlots = slots
	if sess.Rescheduling {
		sess.State = models.StateAwaitingRescheduleSlot
	} else {
		sess.State = models.StateAwaitingSlotChoice
	}
	return []Reply{{
		Text: fmt.Sprintf("Here's what I have for a %s:", m.catalog.Title(service)),
		Menu: m.slotMenu(slots),
	}}
}

// stepSlotChoice resolves a slot selection. In the reschedule variant the
// chosen slot mutates the active appointment instead of starting a booking.
func (m *Machine) stepSlotChoice(ctx context.Context, sess *models.Session, msg models.InboundMessage, reschedule bool) []Reply {
	if containsAny(normalizeText(msg.Text), cancelWords) {
		return m.abortFlow(sess)
	}

	slot, err := ParseSlotChoice(msg.Text, msg.SelectionID, sess.LastSlots, m.loc)
	if err != nil {
		// A fresh date expression restarts the day query instead of failing.
		if r, perr := availability.ParseDateExpression(msg.Text, m.engine.Now(), m.loc); perr == nil {
			sess.PendingRange = r
			return m.offerSlots(ctx, sess)
		}
		return []Reply{{Text: msgSlotNotMatched, Menu: m.slotMenu(sess.LastSlots)}}
	}

	if reschedule {
		return m.applyReschedule(ctx, sess, *slot)
	}
	sess.SelectedSlot = slot
	sess.State = models.StateAwaitingName
	return []Reply{{Text: fmt.Sprintf("Great, %s. %s", clinictime.FormatSlot(slot.Start, m.loc), msgAskName)}}
}

func (m *Machine) stepAwaitingName(ctx context.Context, sess *models.Session, msg models.InboundMessage) []Reply {
	if containsAny(normalizeText(msg.Text), cancelWords) {
		return m.abortFlow(sess)
	}
	name, err := ValidateName(msg.Text)
	switch {
	case errors.Is(err, models.ErrNameNumeric):
		return []Reply{{Text: "That looks like a number. Could you give me the patient's name?"}}
	case err != nil:
		return []Reply{{Text: "That name looks too short. Could you give me the full name?"}}
	}
	sess.PendingName = name
	sess.State = models.StateAwaitingPhone
	return []Reply{{Text: fmt.Sprintf("Thanks, %s. %s", name, msgAskPhone)}}
}

func (m *Machine) stepAwaitingPhone(ctx context.Context, sess *models.Session, msg models.InboundMessage) []Reply {
	if containsAny(normalizeText(msg.Text), cancelWords) {
		return m.abortFlow(sess)
	}
	phone, err := NormalizePhone(msg.Text)
	if err != nil {
		return []Reply{{Text: "That phone number doesn't look right. Please send digits only, for example 55 1234 5678."}}
	}
	if sess.SelectedSlot == nil {
		// Should not happen; recover by restarting the day question.
		sess.State = models.StateAwaitingDay
		return []Reply{{Text: msgAskDay}}
	}

	appt, err := m.handler.Book(ctx, booking.BookRequest{
		Slot:        *sess.SelectedSlot,
		PatientName: sess.PendingName,
		Phone:       phone,
		ChannelID:   sess.UserID,
	})
	if err != nil {
		slog.Error("Booking failed", "userID", sess.UserID, "error", err)
		return []Reply{{Text: msgTemporaryTrouble}}
	}

	sess.ActiveAppointment = &models.AppointmentRef{
		EventID: appt.EventID,
		Service: appt.Service,
		Start:   appt.Start,
		End:     appt.End,
	}
	sess.ClearPending()
	sess.State = models.StatePostBooking
	return []Reply{{Text: fmt.Sprintf("You're all set! %s for %s on %s. We'll send you a reminder before your visit.",
		m.catalog.Title(appt.Service), appt.PatientName, clinictime.FormatSlot(appt.Start, m.loc))}}
}

// beginReschedule starts the slot-selection flow against the active appointment.
func (m *Machine) beginReschedule(ctx context.Context, sess *models.Session, text string) []Reply {
	if sess.ActiveAppointment == nil {
		return []Reply{{Text: msgNoAppointment, Menu: m.serviceMenu()}}
	}
	sess.ClearPending()
	sess.Rescheduling = true
	sess.PendingService = sess.ActiveAppointment.Service

	if r, err := availability.ParseDateExpression(text, m.engine.Now(), m.loc); err == nil {
		sess.PendingRange = r
		return m.offerSlots(ctx, sess)
	}
	sess.State = models.StateAwaitingDay
	return []Reply{{Text: "Sure, let's find a better time. " + msgAskDay}}
}

// applyReschedule moves the active appointment to the chosen slot.
func (m *Machine) applyReschedule(ctx context.Context, sess *models.Session, slot models.Slot) []Reply {
	ref := sess.ActiveAppointment
	if ref == nil {
		sess.ClearPending()
		sess.State = models.StateIdle
		return []Reply{{Text: msgNoAppointment}}
	}

	appt, err := m.handler.Reschedule(ctx, booking.RescheduleRequest{EventID: ref.EventID, Slot: slot})
	if errors.Is(err, models.ErrAppointmentCancelled) {
		sess.ActiveAppointment = nil
		sess.ClearPending()
		sess.State = models.StateIdle
		return []Reply{{Text: "That appointment was already cancelled. Would you like to book a new one?"}}
	}
	if err != nil {
		slog.Error("Reschedule failed", "userID", sess.UserID, "eventID", ref.EventID, "error", err)
		return []Reply{{Text: msgTemporaryTrouble}}
	}

	sess.ActiveAppointment = &models.AppointmentRef{
		EventID: appt.EventID,
		Service: appt.Service,
		Start:   appt.Start,
		End:     appt.End,
	}
	sess.ClearPending()
	sess.State = models.StatePostBooking
	return []Reply{{Text: fmt.Sprintf("Done! Your %s is now on %s.",
		m.catalog.Title(appt.Service), clinictime.FormatSlot(appt.Start, m.loc))}}
}

// confirmActive acknowledges the active appointment. Confirmation changes
// nothing remotely; the booking is already firm.
func (m *Machine) confirmActive(sess *models.Session) []Reply {
	ref := sess.ActiveAppointment
	if ref == nil {
		return []Reply{{Text: msgNoAppointment, Menu: m.serviceMenu()}}
	}
	return []Reply{{Text: fmt.Sprintf("Perfect, you're confirmed: %s on %s. See you then!",
		m.catalog.Title(ref.Service), clinictime.FormatSlot(ref.Start, m.loc))}}
}

// cancelActive cancels the active appointment, if any.
func (m *Machine) cancelActive(ctx context.Context, sess *models.Session) []Reply {
	ref := sess.ActiveAppointment
	if ref == nil {
		return []Reply{{Text: msgNoAppointment, Menu: m.serviceMenu()}}
	}

	appt, err := m.handler.Cancel(ctx, ref.EventID, "patient request via chat")
	if errors.Is(err, models.ErrAppointmentCancelled) {
		sess.ActiveAppointment = nil
		sess.ClearPending()
		sess.State = models.StateIdle
		return []Reply{{Text: "That appointment was already cancelled."}}
	}
	if err != nil {
		slog.Error("Cancel failed", "userID", sess.UserID, "eventID", ref.EventID, "error", err)
		return []Reply{{Text: msgTemporaryTrouble}}
	}

	sess.ActiveAppointment = nil
	sess.ClearPending()
	sess.State = models.StateIdle
	return []Reply{{Text: fmt.Sprintf("Your %s on %s has been cancelled. Come back any time!",
		m.catalog.Title(appt.Service), clinictime.FormatSlot(appt.Start, m.loc))}}
}

// abortFlow drops the in-progress booking without touching any appointment.
func (m *Machine) abortFlow(sess *models.Session) []Reply {
	sess.ClearPending()
	if sess.ActiveAppointment != nil {
		sess.State = models.StatePostBooking
	} else {
		sess.State = models.StateIdle
	}
	return []Reply{{Text: "No problem, I've dropped that request. Anything else I can help with?"}}
}

func (m *Machine) serviceMenu() *models.SelectionMenu {
	menu := &models.SelectionMenu{Title: "Our services"}
	for _, svc := range m.catalog {
		menu.Options = append(menu.Options, models.SelectionOption{ID: svc.Key, Label: svc.Title})
	}
	return menu
}

func (m *Machine) postBookingMenu() *models.SelectionMenu {
	return &models.SelectionMenu{Title: "Your appointment", Options: []models.SelectionOption{
		{ID: "confirm", Label: "Confirm"},
		{ID: "reschedule", Label: "Reschedule"},
		{ID: "cancel", Label: "Cancel"},
	}}
}

func (m *Machine) slotMenu(slots []models.Slot) *models.SelectionMenu {
	menu := &models.SelectionMenu{Title: "Available times"}
	for i, slot := range slots {
		menu.Options = append(menu.Options, models.SelectionOption{
			ID:    slot.ID,
			Label: fmt.Sprintf("%d) %s", i+1, clinictime.FormatSlot(slot.Start, m.loc)),
		})
	}
	return menu
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
