// Package calendar abstracts the external calendar service that owns
// appointment events.
//
// The engine only ever needs busy ranges plus create/patch/get on opaque
// event IDs; both the Google Calendar implementation and the in-memory
// implementation carry the private metadata map that lets sessions be
// re-derived after a reschedule or restart.
package calendar

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/CedarClinic/ClinicPipe/internal/models"
)

// Private metadata keys stored alongside each event.
const (
	MetaService           = "clinicpipe_service"
	MetaPatientName       = "clinicpipe_patient_name"
	MetaPhone             = "clinicpipe_phone"
	MetaChannelID         = "clinicpipe_channel_id"
	MetaStatus            = "clinicpipe_status"
	MetaReminderDayBefore = "clinicpipe_reminder_day_before"
	MetaReminderHours     = "clinicpipe_reminder_hours_before"
)

// ErrEventNotFound is returned when an event ID does not exist.
var ErrEventNotFound = errors.New("calendar event not found")

// Event is the engine's view of a calendar event.
type Event struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Private     map[string]string
}

// EventPatch describes a partial update. Nil fields are left untouched;
// Private entries are merged key-by-key into the existing map.
type EventPatch struct {
	Summary     *string
	Description *string
	Start       *time.Time
	End         *time.Time
	Private     map[string]string
}

// Service is the external calendar collaborator.
type Service interface {
	// BusyRanges returns the busy intervals overlapping [from, to), ordered by start.
	BusyRanges(ctx context.Context, from, to time.Time) ([]models.BusyRange, error)
	// CreateEvent creates an event and returns it with its assigned ID.
	CreateEvent(ctx context.Context, ev Event) (Event, error)
	// PatchEvent applies a partial update and returns the updated event.
	PatchEvent(ctx context.Context, eventID string, patch EventPatch) (Event, error)
	// GetEvent fetches an event by ID.
	GetEvent(ctx context.Context, eventID string) (Event, error)
	// ListUpcoming returns non-deleted events starting within [from, to), ordered by start.
	ListUpcoming(ctx context.Context, from, to time.Time) ([]Event, error)
}

// AppointmentFromEvent reconstructs the appointment aggregate from an event's
// private metadata.
func AppointmentFromEvent(ev Event) models.Appointment {
	status := models.AppointmentStatus(ev.Private[MetaStatus])
	if status == "" {
		status = models.AppointmentStatusConfirmed
	}
	return models.Appointment{
		EventID:                 ev.ID,
		Service:                 ev.Private[MetaService],
		PatientName:             ev.Private[MetaPatientName],
		Phone:                   ev.Private[MetaPhone],
		ChannelID:               ev.Private[MetaChannelID],
		Start:                   ev.Start,
		End:                     ev.End,
		Status:                  status,
		ReminderDayBeforeSent:   parseBoolMeta(ev.Private[MetaReminderDayBefore]),
		ReminderHoursBeforeSent: parseBoolMeta(ev.Private[MetaReminderHours]),
	}
}

func parseBoolMeta(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

// FormatBoolMeta renders a reminder flag for the private metadata map.
func FormatBoolMeta(b bool) string {
	return strconv.FormatBool(b)
}
