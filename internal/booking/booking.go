// Package booking executes appointment side effects against the calendar.
//
// All writes are logical: a cancellation flips status metadata and a
// reschedule patches the existing event, so the calendar keeps the full
// appointment history and external observers never see deletions.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CedarClinic/ClinicPipe/internal/calendar"
	"github.com/CedarClinic/ClinicPipe/internal/models"
)

// Handler runs booking, reschedule, cancel, and handoff operations.
type Handler struct {
	cal     calendar.Service
	catalog models.ServiceCatalog
	loc     *time.Location

	mu      sync.Mutex
	tickets []TriageTicket
}

// TriageTicket records a conversation handed off to clinic staff.
type TriageTicket struct {
	ID        string
	ChannelID string
	Summary   string
	Urgent    bool
	CreatedAt time.Time
}

// NewHandler creates a booking handler over a calendar service.
func NewHandler(cal calendar.Service, catalog models.ServiceCatalog, loc *time.Location) *Handler {
	return &Handler{cal: cal, catalog: catalog, loc: loc}
}

// BookRequest carries everything needed to confirm a slot.
type BookRequest struct {
	Slot        models.Slot
	PatientName string
	Phone       string
	ChannelID   string
	Notes       string
}

// Book creates a confirmed calendar event for the slot and returns the
// resulting appointment.
func (h *Handler) Book(ctx context.Context, req BookRequest) (*models.Appointment, error) {
	if req.Slot.Start.IsZero() || req.Slot.End.IsZero() {
		return nil, models.ErrMissingSlotTimes
	}
	if _, ok := h.catalog.Find(req.Slot.Service); !ok {
		return nil, models.ErrUnknownService
	}

	ev := calendar.Event{
		Summary:     h.eventSummary(req.Slot.Service, req.PatientName, req.Phone),
		Description: req.Notes,
		Start:       req.Slot.Start,
		End:         req.Slot.End,
		Private: map[string]string{
			calendar.MetaService:           req.Slot.Service,
			calendar.MetaPatientName:       req.PatientName,
			calendar.MetaPhone:             req.Phone,
			calendar.MetaChannelID:         req.ChannelID,
			calendar.MetaStatus:            string(models.AppointmentStatusConfirmed),
			calendar.MetaReminderDayBefore: calendar.FormatBoolMeta(false),
			calendar.MetaReminderHours:     calendar.FormatBoolMeta(false),
		},
	}
	created, err := h.cal.CreateEvent(ctx, ev)
	if err != nil {
		slog.Error("Booking create failed", "service", req.Slot.Service, "start", req.Slot.Start, "error", err)
		return nil, fmt.Errorf("failed to create appointment event: %w", err)
	}

	appt := calendar.AppointmentFromEvent(created)
	slog.Info("Appointment booked",
		"eventID", appt.EventID, "service", appt.Service, "start", appt.Start.In(h.loc))
	return &appt, nil
}

// RescheduleRequest moves an existing appointment to a new slot. Optional
// overrides replace the stored patient details; empty values keep them.
type RescheduleRequest struct {
	EventID     string
	Slot        models.Slot
	PatientName string
	Phone       string
}

// Reschedule patches the appointment's event in place, preserving its
// identity and resetting both reminder flags so the new time is re-announced.
func (h *Handler) Reschedule(ctx context.Context, req RescheduleRequest) (*models.Appointment, error) {
	if req.Slot.Start.IsZero() || req.Slot.End.IsZero() {
		return nil, models.ErrMissingSlotTimes
	}
	existing, err := h.cal.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch appointment %s: %w", req.EventID, err)
	}
	current := calendar.AppointmentFromEvent(existing)
	if current.Status == models.AppointmentStatusCancelled {
		return nil, models.ErrAppointmentCancelled
	}

	service := current.Service
	if req.Slot.Service != "" {
		service = req.Slot.Service
	}
	name := current.PatientName
	if req.PatientName != "" {
		name = req.PatientName
	}
	phone := current.Phone
	if req.Phone != "" {
		phone = req.Phone
	}

	summary := h.eventSummary(service, name, phone)
	patch := calendar.EventPatch{
		Summary: &summary,
		Start:   &req.Slot.Start,
		End:     &req.Slot.End,
		Private: map[string]string{
			calendar.MetaService:           service,
			calendar.MetaPatientName:       name,
			calendar.MetaPhone:             phone,
			calendar.MetaReminderDayBefore: calendar.FormatBoolMeta(false),
			calendar.MetaReminderHours:     calendar.FormatBoolMeta(false),
		},
	}
	updated, err := h.cal.PatchEvent(ctx, req.EventID, patch)
	if err != nil {
		slog.Error("Reschedule patch failed", "eventID", req.EventID, "error", err)
		return nil, fmt.Errorf("failed to reschedule appointment %s: %w", req.EventID, err)
	}

	appt := calendar.AppointmentFromEvent(updated)
	slog.Info("Appointment rescheduled",
		"eventID", appt.EventID, "from", current.Start.In(h.loc), "to", appt.Start.In(h.loc))
	return &appt, nil
}

// Cancel marks the appointment cancelled without deleting the event. The
// reason, when present, is appended to the event description.
func (h *Handler) Cancel(ctx context.Context, eventID, reason string) (*models.Appointment, error) {
	existing, err := h.cal.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch appointment %s: %w", eventID, err)
	}
	current := calendar.AppointmentFromEvent(existing)
	if current.Status == models.AppointmentStatusCancelled {
		return nil, models.ErrAppointmentCancelled
	}

	patch := calendar.EventPatch{
		Private: map[string]string{
			calendar.MetaStatus: string(models.AppointmentStatusCancelled),
		},
	}
	if reason != "" {
		desc := strings.TrimSpace(existing.Description + "\nCancelled: " + reason)
		patch.Description = &desc
	}
	updated, err := h.cal.PatchEvent(ctx, eventID, patch)
	if err != nil {
		slog.Error("Cancel patch failed", "eventID", eventID, "error", err)
		return nil, fmt.Errorf("failed to cancel appointment %s: %w", eventID, err)
	}

	appt := calendar.AppointmentFromEvent(updated)
	slog.Info("Appointment cancelled", "eventID", appt.EventID, "reason", reason)
	return &appt, nil
}

// HandoffToHuman records a triage ticket for clinic staff. It never fails:
// the worst case for the patient is a promise that someone will follow up.
func (h *Handler) HandoffToHuman(channelID string, params models.HandoffToHumanParams) TriageTicket {
	ticket := TriageTicket{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		Summary:   params.Summary,
		Urgent:    params.Urgent,
		CreatedAt: time.Now(),
	}
	h.mu.Lock()
	h.tickets = append(h.tickets, ticket)
	h.mu.Unlock()

	slog.Warn("Conversation handed off to staff",
		"ticketID", ticket.ID, "channelID", channelID, "urgent", params.Urgent, "summary", params.Summary)
	return ticket
}

// TriageTickets returns a snapshot of open handoff tickets, newest last.
func (h *Handler) TriageTickets() []TriageTicket {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]TriageTicket, len(h.tickets))
	copy(out, h.tickets)
	return out
}

func (h *Handler) eventSummary(service, name, phone string) string {
	title := h.catalog.Title(service)
	if name == "" {
		return title
	}
	if phone == "" {
		return fmt.Sprintf("%s - %s", title, name)
	}
	return fmt.Sprintf("%s - %s (%s)", title, name, phone)
}
