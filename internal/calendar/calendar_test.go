package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CedarClinic/ClinicPipe/internal/models"
)

func TestMemoryServiceCreateGetPatch(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()

	start := time.Date(2025, 6, 16, 15, 0, 0, 0, time.UTC)
	created, err := svc.CreateEvent(ctx, Event{
		Summary: "Cleaning - Maria",
		Start:   start,
		End:     start.Add(45 * time.Minute),
		Private: map[string]string{
			MetaService: "cleaning",
			MetaStatus:  string(models.AppointmentStatusConfirmed),
		},
	})
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected assigned event ID")
	}

	got, err := svc.GetEvent(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if got.Private[MetaService] != "cleaning" {
		t.Errorf("expected private metadata to round-trip, got %v", got.Private)
	}

	newStart := start.Add(24 * time.Hour)
	newEnd := newStart.Add(45 * time.Minute)
	patched, err := svc.PatchEvent(ctx, created.ID, EventPatch{
		Start:   &newStart,
		End:     &newEnd,
		Private: map[string]string{MetaReminderDayBefore: "true"},
	})
	if err != nil {
		t.Fatalf("PatchEvent failed: %v", err)
	}
	if !patched.Start.Equal(newStart) {
		t.Errorf("expected start %v, got %v", newStart, patched.Start)
	}
	// Merge must not discard untouched keys.
	if patched.Private[MetaService] != "cleaning" {
		t.Errorf("patch discarded existing metadata: %v", patched.Private)
	}
	if patched.Private[MetaReminderDayBefore] != "true" {
		t.Errorf("patch did not apply new metadata: %v", patched.Private)
	}
}

func TestMemoryServiceGetUnknown(t *testing.T) {
	svc := NewMemoryService()
	if _, err := svc.GetEvent(context.Background(), "nope"); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("expected ErrEventNotFound, got %v", err)
	}
}

func TestMemoryServiceBusyRangesSkipCancelled(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	start := time.Date(2025, 6, 16, 10, 0, 0, 0, time.UTC)

	if _, err := svc.CreateEvent(ctx, Event{
		Start: start, End: start.Add(30 * time.Minute),
		Private: map[string]string{MetaStatus: string(models.AppointmentStatusConfirmed)},
	}); err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	if _, err := svc.CreateEvent(ctx, Event{
		Start: start.Add(time.Hour), End: start.Add(90 * time.Minute),
		Private: map[string]string{MetaStatus: string(models.AppointmentStatusCancelled)},
	}); err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	busy, err := svc.BusyRanges(ctx, start.Add(-time.Hour), start.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("BusyRanges failed: %v", err)
	}
	if len(busy) != 1 {
		t.Fatalf("expected 1 busy range (cancelled skipped), got %d", len(busy))
	}
	if !busy[0].Start.Equal(start) {
		t.Errorf("unexpected busy start %v", busy[0].Start)
	}
}

func TestAppointmentFromEvent(t *testing.T) {
	start := time.Date(2025, 6, 16, 10, 0, 0, 0, time.UTC)
	ev := Event{
		ID:    "ev-1",
		Start: start,
		End:   start.Add(30 * time.Minute),
		Private: map[string]string{
			MetaService:           "consultation",
			MetaPatientName:       "Ana Lopez",
			MetaPhone:             "5512345678",
			MetaReminderDayBefore: "true",
		},
	}
	appt := AppointmentFromEvent(ev)
	if appt.EventID != "ev-1" || appt.Service != "consultation" {
		t.Errorf("unexpected appointment identity: %+v", appt)
	}
	// Missing status defaults to confirmed.
	if appt.Status != models.AppointmentStatusConfirmed {
		t.Errorf("expected confirmed default, got %s", appt.Status)
	}
	if !appt.ReminderDayBeforeSent || appt.ReminderHoursBeforeSent {
		t.Errorf("unexpected reminder flags: %+v", appt)
	}
	if err := appt.Validate(); err != nil {
		t.Errorf("expected valid appointment, got %v", err)
	}
}
