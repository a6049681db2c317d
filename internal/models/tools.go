package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tool names exposed to the LLM fallback bridge.
const (
	ToolGetAvailableSlots     = "get_available_slots"
	ToolBookAppointment       = "book_appointment"
	ToolRescheduleAppointment = "reschedule_appointment"
	ToolCancelAppointment     = "cancel_appointment"
	ToolHandoffToHuman        = "handoff_to_human"
)

// GetAvailableSlotsParams are the arguments of the get_available_slots tool.
type GetAvailableSlotsParams struct {
	Service string `json:"service"`
	From    string `json:"from,omitempty"` // RFC 3339; defaults applied when empty
	To      string `json:"to,omitempty"`
}

// Validate ensures the slot query parameters are usable.
func (p *GetAvailableSlotsParams) Validate() error {
	if p.Service == "" {
		return fmt.Errorf("service is required")
	}
	for _, v := range []string{p.From, p.To} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(time.RFC3339, v); err != nil {
			return fmt.Errorf("timestamps must be RFC 3339: %w", err)
		}
	}
	return nil
}

// Range converts the optional from/to arguments into a TimeRange.
func (p *GetAvailableSlotsParams) Range() TimeRange {
	var r TimeRange
	if t, err := time.Parse(time.RFC3339, p.From); err == nil {
		r.From = t
	}
	if t, err := time.Parse(time.RFC3339, p.To); err == nil {
		r.To = t
	}
	return r
}

// BookAppointmentParams are the arguments of the book_appointment tool.
type BookAppointmentParams struct {
	Service     string `json:"service"`
	SlotID      string `json:"slot_id"`
	PatientName string `json:"patient_name"`
	Phone       string `json:"phone"`
	Notes       string `json:"notes,omitempty"`
}

// Validate ensures a booking request carries everything the handler needs.
func (p *BookAppointmentParams) Validate() error {
	if p.Service == "" {
		return fmt.Errorf("service is required")
	}
	if p.SlotID == "" {
		return fmt.Errorf("slot_id is required")
	}
	if p.PatientName == "" {
		return fmt.Errorf("patient_name is required")
	}
	if p.Phone == "" {
		return fmt.Errorf("phone is required")
	}
	return nil
}

// RescheduleAppointmentParams are the arguments of the reschedule_appointment tool.
type RescheduleAppointmentParams struct {
	AppointmentID string `json:"appointment_id"`
	SlotID        string `json:"slot_id"`
	Service       string `json:"service,omitempty"`
	PatientName   string `json:"patient_name,omitempty"`
	Phone         string `json:"phone,omitempty"`
}

// Validate ensures a reschedule request targets a concrete appointment and slot.
func (p *RescheduleAppointmentParams) Validate() error {
	if p.AppointmentID == "" {
		return fmt.Errorf("appointment_id is required")
	}
	if p.SlotID == "" {
		return fmt.Errorf("slot_id is required")
	}
	return nil
}

// CancelAppointmentParams are the arguments of the cancel_appointment tool.
type CancelAppointmentParams struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason,omitempty"`
}

// Validate ensures a cancel request targets a concrete appointment.
func (p *CancelAppointmentParams) Validate() error {
	if p.AppointmentID == "" {
		return fmt.Errorf("appointment_id is required")
	}
	return nil
}

// HandoffToHumanParams are the arguments of the handoff_to_human tool.
type HandoffToHumanParams struct {
	Summary string `json:"summary"`
	Urgent  bool   `json:"urgent,omitempty"`
}

// Validate ensures a handoff carries a triage summary.
func (p *HandoffToHumanParams) Validate() error {
	if p.Summary == "" {
		return fmt.Errorf("summary is required")
	}
	return nil
}

// ToolCall represents an LLM tool function call.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult represents the result of executing a tool.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Error      string `json:"error,omitempty"`
}
