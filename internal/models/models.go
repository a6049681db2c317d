// Package models defines the core data structures for ClinicPipe.
//
// It includes the session, slot, and appointment types shared across modules,
// along with validation constants and error variables.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Validation constants for user-supplied input.
const (
	// MaxSessionMessages bounds the conversation history kept for LLM context.
	MaxSessionMessages = 20
	// MaxSlotsPerQuery caps the number of slots offered in a single reply.
	MaxSlotsPerQuery = 8
	// MinNameLength is the minimum rune count for a patient name.
	MinNameLength = 3
	// MinPhoneDigits is the minimum digit count for a contact phone number.
	MinPhoneDigits = 8
	// MaxPhoneDigits is the maximum digit count for a contact phone number
	// (allows a country code on top of a 10-digit local number).
	MaxPhoneDigits = 13
	// SlotStepMinutes is the granularity slots are aligned to.
	SlotStepMinutes = 30
	// DefaultServiceDurationMinutes is used when a service has no configured duration.
	DefaultServiceDurationMinutes = 30
	// DefaultLookaheadDays is the forward window substituted for past ranges.
	DefaultLookaheadDays = 7
)

// Error variables for better error handling and testability.
var (
	ErrEmptyUserID          = errors.New("user id cannot be empty")
	ErrUnparseableDate      = errors.New("could not parse a date from the input")
	ErrNoAvailability       = errors.New("no available slots in the requested range")
	ErrNoSlotMatch          = errors.New("input does not match any offered slot")
	ErrNameTooShort         = errors.New("name is too short")
	ErrNameNumeric          = errors.New("name cannot be purely numeric")
	ErrInvalidPhone         = errors.New("phone number has too few or too many digits")
	ErrMissingSlotTimes     = errors.New("slot start and end times are required")
	ErrUnknownService       = errors.New("unknown service")
	ErrNoActiveAppointment  = errors.New("no active appointment in session")
	ErrAppointmentCancelled = errors.New("appointment is cancelled")
)

// BusyRange is an externally reported interval during which no slot may be offered.
type BusyRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether the busy range overlaps the interval [start, end).
func (b BusyRange) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && end.After(b.Start)
}

// TimeRange is a half-open instant interval [From, To).
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// IsZero reports whether the range is unset.
func (r TimeRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Slot is a candidate bookable interval of fixed duration.
// Slots are ephemeral: recomputed per query and never persisted independently.
type Slot struct {
	ID      string    `json:"id"`
	Service string    `json:"service"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// SlotID derives a deterministic slot identifier from the start instant, so
// repeated queries for the same window are reproducible.
func SlotID(start time.Time) string {
	return "slot-" + start.UTC().Format("20060102T1504")
}

// AppointmentStatus represents the lifecycle status of an appointment.
type AppointmentStatus string

const (
	// AppointmentStatusConfirmed indicates a live booking backed by a calendar event.
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	// AppointmentStatusCancelled indicates a logically cancelled booking.
	// The calendar event is retained for audit and never deleted.
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

// Appointment is the engine's view of a remote calendar aggregate. The private
// metadata carried on the event lets a reschedule or process restart re-derive
// everything here without any local persistence.
type Appointment struct {
	EventID     string            `json:"event_id"`
	Service     string            `json:"service"`
	PatientName string            `json:"patient_name"`
	Phone       string            `json:"phone"`
	ChannelID   string            `json:"channel_id,omitempty"`
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	Status      AppointmentStatus `json:"status"`
	// Reminder sent-flags guarantee at-most-one reminder per window.
	ReminderDayBeforeSent   bool `json:"reminder_day_before_sent"`
	ReminderHoursBeforeSent bool `json:"reminder_hours_before_sent"`
}

// Validate checks the invariants of a non-cancelled appointment.
func (a *Appointment) Validate() error {
	if a.Status == AppointmentStatusCancelled {
		return nil
	}
	if a.Service == "" {
		return ErrUnknownService
	}
	if a.Start.IsZero() || a.End.IsZero() || !a.Start.Before(a.End) {
		return fmt.Errorf("appointment %s: start must precede end", a.EventID)
	}
	return nil
}

// AppointmentRef is the subset of appointment identity carried in a session.
type AppointmentRef struct {
	EventID string    `json:"event_id"`
	Service string    `json:"service"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// DayHours is the open/close local wall-clock window for one weekday, in
// "HH:MM" 24-hour form.
type DayHours struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// WorkHours maps weekdays to open hours. A missing weekday means closed.
type WorkHours map[time.Weekday]DayHours

// DefaultWorkHours returns the standard clinic week: Mon-Fri 09:00-18:00,
// Sat 09:00-13:00, closed Sunday.
func DefaultWorkHours() WorkHours {
	wh := WorkHours{}
	for d := time.Monday; d <= time.Friday; d++ {
		wh[d] = DayHours{Open: "09:00", Close: "18:00"}
	}
	wh[time.Saturday] = DayHours{Open: "09:00", Close: "13:00"}
	return wh
}

// ServiceDef describes one bookable service.
type ServiceDef struct {
	Key             string   `json:"key"`
	Title           string   `json:"title"`
	Synonyms        []string `json:"synonyms,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
}

// ServiceCatalog is the ordered list of services offered by the clinic.
type ServiceCatalog []ServiceDef

// Find returns the service definition for a key, if present.
func (c ServiceCatalog) Find(key string) (ServiceDef, bool) {
	for _, s := range c {
		if s.Key == key {
			return s, true
		}
	}
	return ServiceDef{}, false
}

// Duration returns the configured slot duration for a service, defaulting to
// DefaultServiceDurationMinutes when unspecified or unknown.
func (c ServiceCatalog) Duration(key string) time.Duration {
	if s, ok := c.Find(key); ok && s.DurationMinutes > 0 {
		return time.Duration(s.DurationMinutes) * time.Minute
	}
	return DefaultServiceDurationMinutes * time.Minute
}

// Title returns the display title for a service key, falling back to the key.
func (c ServiceCatalog) Title(key string) string {
	if s, ok := c.Find(key); ok {
		return s.Title
	}
	return key
}

// DefaultCatalog returns the built-in clinic service list.
func DefaultCatalog() ServiceCatalog {
	return ServiceCatalog{
		{Key: "consultation", Title: "General consultation", Synonyms: []string{"consult", "checkup", "check-up", "appointment with the doctor"}, DurationMinutes: 30},
		{Key: "cleaning", Title: "Dental cleaning", Synonyms: []string{"clean", "hygiene"}, DurationMinutes: 45},
		{Key: "whitening", Title: "Teeth whitening", Synonyms: []string{"whiten", "bleaching"}, DurationMinutes: 60},
		{Key: "followup", Title: "Follow-up visit", Synonyms: []string{"follow up", "follow-up", "revision"}, DurationMinutes: 30},
	}
}

// SelectionMenu is an outbound menu of numbered options.
type SelectionMenu struct {
	Title   string            `json:"title"`
	Options []SelectionOption `json:"options"`
}

// SelectionOption is one selectable row of a menu. ID is the canonical value
// an interactive tap reports; tapping it is equivalent to typing the ID.
type SelectionOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// InboundMessage is the normalized inbound message contract shared by all
// transports. SelectionID is set when the user tapped an interactive option.
type InboundMessage struct {
	UserID      string `json:"user_id"`
	MessageID   string `json:"message_id"`
	Text        string `json:"text"`
	SelectionID string `json:"selection_id,omitempty"`
	Time        int64  `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
