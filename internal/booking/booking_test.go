package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CedarClinic/ClinicPipe/internal/calendar"
	"github.com/CedarClinic/ClinicPipe/internal/models"
)

func testHandler(t *testing.T) (*Handler, *calendar.MemoryService) {
	t.Helper()
	loc, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	cal := calendar.NewMemoryService()
	return NewHandler(cal, models.DefaultCatalog(), loc), cal
}

func testSlot(loc *time.Location) models.Slot {
	start := time.Date(2025, 6, 17, 10, 0, 0, 0, loc)
	return models.Slot{
		ID:      models.SlotID(start),
		Service: "cleaning",
		Start:   start,
		End:     start.Add(45 * time.Minute),
	}
}

func mustBook(t *testing.T, h *Handler) *models.Appointment {
	t.Helper()
	loc, _ := time.LoadLocation("America/Mexico_City")
	appt, err := h.Book(context.Background(), BookRequest{
		Slot:        testSlot(loc),
		PatientName: "Ana Torres",
		Phone:       "+5215512345678",
		ChannelID:   "5215512345678",
	})
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	return appt
}

func TestBookCreatesConfirmedEvent(t *testing.T) {
	h, cal := testHandler(t)
	appt := mustBook(t, h)

	if appt.EventID == "" {
		t.Fatal("expected event ID")
	}
	if appt.Status != models.AppointmentStatusConfirmed {
		t.Errorf("Status = %q, want confirmed", appt.Status)
	}
	if appt.ReminderDayBeforeSent || appt.ReminderHoursBeforeSent {
		t.Error("new appointment must have both reminder flags unset")
	}

	ev, err := cal.GetEvent(context.Background(), appt.EventID)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if ev.Summary != "Dental cleaning - Ana Torres (+5215512345678)" {
		t.Errorf("Summary = %q", ev.Summary)
	}
	if ev.Private[calendar.MetaChannelID] != "5215512345678" {
		t.Errorf("channel metadata = %q", ev.Private[calendar.MetaChannelID])
	}
}

func TestBookValidation(t *testing.T) {
	h, _ := testHandler(t)
	ctx := context.Background()

	_, err := h.Book(ctx, BookRequest{Slot: models.Slot{Service: "cleaning"}, PatientName: "Ana"})
	if !errors.Is(err, models.ErrMissingSlotTimes) {
		t.Errorf("missing times error = %v, want ErrMissingSlotTimes", err)
	}

	loc, _ := time.LoadLocation("America/Mexico_City")
	slot := testSlot(loc)
	slot.Service = "brain-surgery"
	_, err = h.Book(ctx, BookRequest{Slot: slot, PatientName: "Ana"})
	if !errors.Is(err, models.ErrUnknownService) {
		t.Errorf("unknown service error = %v, want ErrUnknownService", err)
	}
}

func TestReschedulePreservesIdentityAndResetsReminders(t *testing.T) {
	h, cal := testHandler(t)
	ctx := context.Background()
	appt := mustBook(t, h)

	// Simulate reminders already sent before the move.
	sent := calendar.FormatBoolMeta(true)
	if _, err := cal.PatchEvent(ctx, appt.EventID, calendar.EventPatch{Private: map[string]string{
		calendar.MetaReminderDayBefore: sent,
		calendar.MetaReminderHours:     sent,
	}}); err != nil {
		t.Fatalf("PatchEvent failed: %v", err)
	}

	loc, _ := time.LoadLocation("America/Mexico_City")
	newStart := time.Date(2025, 6, 19, 12, 0, 0, 0, loc)
	moved, err := h.Reschedule(ctx, RescheduleRequest{
		EventID: appt.EventID,
		Slot:    models.Slot{ID: models.SlotID(newStart), Service: "cleaning", Start: newStart, End: newStart.Add(45 * time.Minute)},
	})
	if err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}

	if moved.EventID != appt.EventID {
		t.Errorf("reschedule changed event identity: %q vs %q", moved.EventID, appt.EventID)
	}
	if !moved.Start.Equal(newStart) {
		t.Errorf("Start = %v, want %v", moved.Start, newStart)
	}
	if moved.PatientName != "Ana Torres" || moved.Phone != "+5215512345678" {
		t.Errorf("reschedule dropped patient details: %+v", moved)
	}
	if moved.ReminderDayBeforeSent || moved.ReminderHoursBeforeSent {
		t.Error("reschedule must reset both reminder flags")
	}
}

func TestRescheduleCancelledAppointment(t *testing.T) {
	h, _ := testHandler(t)
	ctx := context.Background()
	appt := mustBook(t, h)

	if _, err := h.Cancel(ctx, appt.EventID, "patient request"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	loc, _ := time.LoadLocation("America/Mexico_City")
	newStart := time.Date(2025, 6, 19, 12, 0, 0, 0, loc)
	_, err := h.Reschedule(ctx, RescheduleRequest{
		EventID: appt.EventID,
		Slot:    models.Slot{Service: "cleaning", Start: newStart, End: newStart.Add(45 * time.Minute)},
	})
	if !errors.Is(err, models.ErrAppointmentCancelled) {
		t.Errorf("reschedule of cancelled appointment = %v, want ErrAppointmentCancelled", err)
	}
}

func TestCancelIsLogicalNotDestructive(t *testing.T) {
	h, cal := testHandler(t)
	ctx := context.Background()
	appt := mustBook(t, h)

	cancelled, err := h.Cancel(ctx, appt.EventID, "feeling better")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != models.AppointmentStatusCancelled {
		t.Errorf("Status = %q, want cancelled", cancelled.Status)
	}

	// The event still exists with its reason recorded.
	ev, err := cal.GetEvent(ctx, appt.EventID)
	if err != nil {
		t.Fatalf("event deleted by cancel: %v", err)
	}
	if ev.Description == "" {
		t.Error("expected cancellation reason in description")
	}

	// A second cancel is rejected rather than silently repeated.
	if _, err := h.Cancel(ctx, appt.EventID, "again"); !errors.Is(err, models.ErrAppointmentCancelled) {
		t.Errorf("second cancel = %v, want ErrAppointmentCancelled", err)
	}
}

func TestCancelledSlotBecomesAvailable(t *testing.T) {
	h, cal := testHandler(t)
	ctx := context.Background()
	appt := mustBook(t, h)

	busy, err := cal.BusyRanges(ctx, appt.Start.Add(-time.Hour), appt.End.Add(time.Hour))
	if err != nil {
		t.Fatalf("BusyRanges failed: %v", err)
	}
	if len(busy) != 1 {
		t.Fatalf("expected 1 busy range before cancel, got %d", len(busy))
	}

	if _, err := h.Cancel(ctx, appt.EventID, ""); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	busy, err = cal.BusyRanges(ctx, appt.Start.Add(-time.Hour), appt.End.Add(time.Hour))
	if err != nil {
		t.Fatalf("BusyRanges failed: %v", err)
	}
	if len(busy) != 0 {
		t.Errorf("cancelled appointment still blocks %d busy ranges", len(busy))
	}
}

func TestHandoffToHuman(t *testing.T) {
	h, _ := testHandler(t)

	ticket := h.HandoffToHuman("5215512345678", models.HandoffToHumanParams{Summary: "insurance question", Urgent: true})
	if ticket.ID == "" {
		t.Fatal("expected ticket ID")
	}

	tickets := h.TriageTickets()
	if len(tickets) != 1 || tickets[0].Summary != "insurance question" || !tickets[0].Urgent {
		t.Errorf("tickets = %+v", tickets)
	}
}
