package models

import "time"

// SessionState represents where a user is in the booking dialog.
type SessionState string

const (
	// StateIdle is the stable entry state; greetings and new intents land here.
	StateIdle SessionState = "idle"
	// StateAwaitingDay expects a date or date-range expression.
	StateAwaitingDay SessionState = "awaiting_day"
	// StateAwaitingSlotChoice expects an ordinal or clock time into LastSlots.
	StateAwaitingSlotChoice SessionState = "awaiting_slot_choice"
	// StateAwaitingName expects the patient's name.
	StateAwaitingName SessionState = "awaiting_name"
	// StateAwaitingPhone expects a contact phone number.
	StateAwaitingPhone SessionState = "awaiting_phone"
	// StatePostBooking is the stable state after a booking exists.
	StatePostBooking SessionState = "post_booking"
	// StateAwaitingRescheduleSlot is like slot choice, but the selection
	// mutates the existing appointment instead of creating a new one.
	StateAwaitingRescheduleSlot SessionState = "awaiting_reschedule_slot"
)

// IsValidSessionState checks if the given state is one the machine knows.
func IsValidSessionState(s SessionState) bool {
	switch s {
	case StateIdle, StateAwaitingDay, StateAwaitingSlotChoice, StateAwaitingName,
		StateAwaitingPhone, StatePostBooking, StateAwaitingRescheduleSlot:
		return true
	default:
		return false
	}
}

// SessionMessage is one (role, content) pair of LLM fallback context.
type SessionMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Session holds the per-user conversational and booking state. It is keyed by
// the user identifier (phone number), mutated only by the conversation state
// machine during a single message's processing, and persisted once at the end
// of each webhook invocation. Expiry is the store's responsibility.
type Session struct {
	UserID   string           `json:"user_id"`
	State    SessionState     `json:"state"`
	Messages []SessionMessage `json:"messages,omitempty"`

	PendingService string    `json:"pending_service,omitempty"`
	PendingRange   TimeRange `json:"pending_range,omitempty"`
	LastSlots      []Slot    `json:"last_slots,omitempty"` // index = display order
	SelectedSlot   *Slot     `json:"selected_slot,omitempty"`
	PendingName    string    `json:"pending_name,omitempty"`

	// ActiveAppointment references the most recent booking owned by this
	// session; a user may have appointments outside session memory.
	ActiveAppointment *AppointmentRef `json:"active_appointment,omitempty"`

	// Rescheduling marks that the next slot selection must mutate
	// ActiveAppointment rather than create a new booking.
	Rescheduling bool `json:"rescheduling,omitempty"`

	// LastProcessedMessageID de-duplicates transport redeliveries.
	LastProcessedMessageID string `json:"last_processed_message_id,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a fresh idle session for a user.
func NewSession(userID string) *Session {
	return &Session{UserID: userID, State: StateIdle, UpdatedAt: time.Now()}
}

// Normalize fills defaults after a load so schema drift never rejects a
// session: unknown fields were already ignored by the decoder, missing fields
// get safe zero behavior here.
func (s *Session) Normalize() {
	if !IsValidSessionState(s.State) {
		s.State = StateIdle
	}
	if len(s.Messages) > MaxSessionMessages {
		s.Messages = s.Messages[len(s.Messages)-MaxSessionMessages:]
	}
}

// AppendMessage records an LLM-context message, keeping the history bounded.
func (s *Session) AppendMessage(role, content string) {
	s.Messages = append(s.Messages, SessionMessage{Role: role, Content: content})
	if len(s.Messages) > MaxSessionMessages {
		s.Messages = s.Messages[len(s.Messages)-MaxSessionMessages:]
	}
}

// ClearPending resets the in-progress booking fields without touching the
// active appointment.
func (s *Session) ClearPending() {
	s.PendingService = ""
	s.PendingRange = TimeRange{}
	s.LastSlots = nil
	s.SelectedSlot = nil
	s.PendingName = ""
	s.Rescheduling = false
}
