package flow

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/CedarClinic/ClinicPipe/internal/availability"
	"github.com/CedarClinic/ClinicPipe/internal/booking"
	"github.com/CedarClinic/ClinicPipe/internal/calendar"
	"github.com/CedarClinic/ClinicPipe/internal/models"
	"github.com/CedarClinic/ClinicPipe/internal/session"
)

type machineFixture struct {
	machine *Machine
	cal     *calendar.MemoryService
	store   session.Store
	loc     *time.Location
	msgSeq  int
}

// Monday June 16 2025, 07:00 clinic time.
func newFixture(t *testing.T) *machineFixture {
	t.Helper()
	loc, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	now := time.Date(2025, 6, 16, 7, 0, 0, 0, loc)

	cal := calendar.NewMemoryService()
	catalog := models.DefaultCatalog()
	engine := availability.New(cal, models.DefaultWorkHours(), catalog, loc,
		availability.WithNow(func() time.Time { return now }))
	handler := booking.NewHandler(cal, catalog, loc)
	store := session.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	return &machineFixture{
		machine: NewMachine(store, engine, handler, catalog),
		cal:     cal,
		store:   store,
		loc:     loc,
	}
}

func (f *machineFixture) send(t *testing.T, text string) []Reply {
	t.Helper()
	f.msgSeq++
	replies, err := f.machine.HandleMessage(context.Background(), models.InboundMessage{
		UserID:    "5215512345678",
		MessageID: fmt.Sprintf("msg-%d", f.msgSeq),
		Text:      text,
	})
	if err != nil {
		t.Fatalf("HandleMessage(%q) failed: %v", text, err)
	}
	return replies
}

func (f *machineFixture) state(t *testing.T) *models.Session {
	t.Helper()
	sess, err := f.store.Load(context.Background(), "5215512345678")
	if err != nil {
		t.Fatalf("session load failed: %v", err)
	}
	if sess == nil {
		t.Fatal("expected a persisted session")
	}
	return sess
}

func bookCleaning(t *testing.T, f *machineFixture) *models.Session {
	t.Helper()
	f.send(t, "hi, I'd like a cleaning")
	f.send(t, "tomorrow")
	f.send(t, "3")
	f.send(t, "Ana Torres")
	f.send(t, "+52 55 1234 5678")
	sess := f.state(t)
	if sess.State != models.StatePostBooking || sess.ActiveAppointment == nil {
		t.Fatalf("booking flow did not complete: state=%s active=%v", sess.State, sess.ActiveAppointment)
	}
	return sess
}

func TestBookingHappyPath(t *testing.T) {
	f := newFixture(t)

	// Service and date in one message skips the day question.
	replies := f.send(t, "I'd like a cleaning tomorrow")
	if len(replies) != 1 || replies[0].Menu == nil {
		t.Fatalf("expected a slot menu, got %+v", replies)
	}
	if f.state(t).State != models.StateAwaitingSlotChoice {
		t.Fatalf("state = %s, want awaiting_slot_choice", f.state(t).State)
	}

	f.send(t, "1")
	if f.state(t).State != models.StateAwaitingName {
		t.Fatalf("state = %s, want awaiting_name", f.state(t).State)
	}

	f.send(t, "Ana Torres")
	if f.state(t).State != models.StateAwaitingPhone {
		t.Fatalf("state = %s, want awaiting_phone", f.state(t).State)
	}

	replies = f.send(t, "+52 55 1234 5678")
	if len(replies) != 1 || !strings.Contains(replies[0].Text, "all set") {
		t.Fatalf("expected confirmation, got %+v", replies)
	}

	sess := f.state(t)
	if sess.State != models.StatePostBooking {
		t.Errorf("state = %s, want post_booking", sess.State)
	}
	if sess.ActiveAppointment == nil {
		t.Fatal("expected an active appointment")
	}

	ev, err := f.cal.GetEvent(context.Background(), sess.ActiveAppointment.EventID)
	if err != nil {
		t.Fatalf("calendar event missing: %v", err)
	}
	appt := calendar.AppointmentFromEvent(ev)
	if appt.PatientName != "Ana Torres" || appt.Phone != "+525512345678" || appt.Service != "cleaning" {
		t.Errorf("event metadata = %+v", appt)
	}
}

func TestSlotChoiceByClockTime(t *testing.T) {
	f := newFixture(t)
	f.send(t, "book a consultation")
	f.send(t, "tomorrow")

	f.send(t, "10:00 am")
	sess := f.state(t)
	if sess.State != models.StateAwaitingName {
		t.Fatalf("state = %s, want awaiting_name", sess.State)
	}
	if got := sess.SelectedSlot.Start.In(f.loc).Format("15:04"); got != "10:00" {
		t.Errorf("selected %s, want 10:00", got)
	}
}

func TestSlotChoiceRepromptsOnMismatch(t *testing.T) {
	f := newFixture(t)
	f.send(t, "book a consultation")
	f.send(t, "tomorrow")

	// A time that is not on the list reprompts without losing the offer.
	replies := f.send(t, "3:15 pm")
	if len(replies) != 1 || replies[0].Menu == nil {
		t.Fatalf("expected a reprompt with the menu, got %+v", replies)
	}
	sess := f.state(t)
	if sess.State != models.StateAwaitingSlotChoice {
		t.Errorf("state = %s, want awaiting_slot_choice", sess.State)
	}
	if len(sess.LastSlots) == 0 {
		t.Error("offered slots were dropped on reprompt")
	}
}

func TestNameValidationLoop(t *testing.T) {
	f := newFixture(t)
	f.send(t, "book a consultation tomorrow")
	f.send(t, "2")

	f.send(t, "7")
	if f.state(t).State != models.StateAwaitingName {
		t.Fatal("numeric name must not advance the flow")
	}
	f.send(t, "Jo")
	if f.state(t).State != models.StateAwaitingName {
		t.Fatal("too-short name must not advance the flow")
	}
	f.send(t, "Jose Luis")
	if f.state(t).State != models.StateAwaitingPhone {
		t.Fatal("valid name must advance to phone")
	}
}

func TestDuplicateMessageIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.send(t, "book a consultation tomorrow")
	f.send(t, "1")
	f.send(t, "Ana Torres")

	// Redeliver the final booking message with the same transport ID.
	msg := models.InboundMessage{UserID: "5215512345678", MessageID: "dup-1", Text: "+52 55 1234 5678"}
	first, err := f.machine.HandleMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("expected a booking confirmation")
	}
	eventID := f.state(t).ActiveAppointment.EventID

	second, err := f.machine.HandleMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("redelivered HandleMessage failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("redelivery produced replies: %+v", second)
	}
	if got := f.state(t).ActiveAppointment.EventID; got != eventID {
		t.Errorf("redelivery changed the booking: %q vs %q", got, eventID)
	}
}

func TestCancelFlow(t *testing.T) {
	f := newFixture(t)
	sess := bookCleaning(t, f)
	eventID := sess.ActiveAppointment.EventID

	replies := f.send(t, "please cancel my appointment")
	if len(replies) != 1 || !strings.Contains(replies[0].Text, "cancelled") {
		t.Fatalf("expected cancellation confirmation, got %+v", replies)
	}

	ev, err := f.cal.GetEvent(context.Background(), eventID)
	if err != nil {
		t.Fatalf("cancel must not delete the event: %v", err)
	}
	if calendar.AppointmentFromEvent(ev).Status != models.AppointmentStatusCancelled {
		t.Error("event not marked cancelled")
	}
	after := f.state(t)
	if after.State != models.StateIdle || after.ActiveAppointment != nil {
		t.Errorf("post-cancel session = state %s, active %v", after.State, after.ActiveAppointment)
	}
}

func TestRescheduleFlow(t *testing.T) {
	f := newFixture(t)
	sess := bookCleaning(t, f)
	eventID := sess.ActiveAppointment.EventID
	originalStart := sess.ActiveAppointment.Start

	f.send(t, "can we move my appointment?")
	if f.state(t).State != models.StateAwaitingDay {
		t.Fatalf("state = %s, want awaiting_day", f.state(t).State)
	}

	f.send(t, "friday")
	if f.state(t).State != models.StateAwaitingRescheduleSlot {
		t.Fatalf("state = %s, want awaiting_reschedule_slot", f.state(t).State)
	}

	replies := f.send(t, "2")
	if len(replies) != 1 || !strings.Contains(replies[0].Text, "now on") {
		t.Fatalf("expected reschedule confirmation, got %+v", replies)
	}

	after := f.state(t)
	if after.ActiveAppointment.EventID != eventID {
		t.Errorf("reschedule changed event identity")
	}
	if after.ActiveAppointment.Start.Equal(originalStart) {
		t.Error("appointment start did not change")
	}
	if after.State != models.StatePostBooking {
		t.Errorf("state = %s, want post_booking", after.State)
	}
}

func TestCancelWithoutAppointment(t *testing.T) {
	f := newFixture(t)
	replies := f.send(t, "cancel my appointment")
	if len(replies) != 1 || !strings.Contains(replies[0].Text, "don't see an upcoming appointment") {
		t.Fatalf("expected no-appointment reply, got %+v", replies)
	}
}

func TestGreetingAndUnknown(t *testing.T) {
	f := newFixture(t)

	replies := f.send(t, "hello")
	if len(replies) != 1 || replies[0].Menu == nil {
		t.Fatalf("expected greeting with service menu, got %+v", replies)
	}
	if f.state(t).State != models.StateIdle {
		t.Errorf("greeting must not leave idle, state = %s", f.state(t).State)
	}

	// Without a bridge configured, unknown input gets the static help text.
	replies = f.send(t, "what are your prices?")
	if len(replies) != 1 || replies[0].Text != msgHelp {
		t.Errorf("expected help text, got %+v", replies)
	}
}

func TestPostBookingThanksAndConfirm(t *testing.T) {
	f := newFixture(t)
	bookCleaning(t, f)

	replies := f.send(t, "thank you")
	if len(replies) != 1 || replies[0].Text != msgYoureWelcome {
		t.Fatalf("expected a you're-welcome reply, got %+v", replies)
	}
	if f.state(t).State != models.StatePostBooking {
		t.Errorf("thanks must not change state, got %s", f.state(t).State)
	}

	replies = f.send(t, "yes, confirmed")
	if len(replies) != 1 || !strings.Contains(replies[0].Text, "you're confirmed") {
		t.Fatalf("expected a confirmation ack, got %+v", replies)
	}

	replies = f.send(t, "sounds perfect!!")
	if len(replies) != 1 || !strings.Contains(replies[0].Text, "you're confirmed") {
		t.Fatalf("expected a confirmation ack, got %+v", replies)
	}
	if f.state(t).ActiveAppointment == nil {
		t.Error("confirmation must keep the appointment active")
	}
}

func TestPostBookingUnclassifiedOffersOptions(t *testing.T) {
	f := newFixture(t)
	bookCleaning(t, f)

	replies := f.send(t, "what happens next with the insurance paperwork?")
	if len(replies) != 1 || replies[0].Menu == nil {
		t.Fatalf("expected a reprompt with the options menu, got %+v", replies)
	}
	menu := replies[0].Menu
	if len(menu.Options) != 3 {
		t.Fatalf("options = %+v, want confirm/reschedule/cancel", menu.Options)
	}
	for i, want := range []string{"confirm", "reschedule", "cancel"} {
		if menu.Options[i].ID != want {
			t.Errorf("option %d = %q, want %q", i, menu.Options[i].ID, want)
		}
	}
	if f.state(t).State != models.StatePostBooking {
		t.Errorf("reprompt must not change state, got %s", f.state(t).State)
	}
}

func TestPostBookingNumberedChoices(t *testing.T) {
	f := newFixture(t)
	sess := bookCleaning(t, f)
	eventID := sess.ActiveAppointment.EventID

	replies := f.send(t, "1")
	if len(replies) != 1 || !strings.Contains(replies[0].Text, "you're confirmed") {
		t.Fatalf("expected a confirmation ack for option 1, got %+v", replies)
	}

	replies = f.send(t, "3")
	if len(replies) != 1 || !strings.Contains(replies[0].Text, "cancelled") {
		t.Fatalf("expected a cancellation for option 3, got %+v", replies)
	}
	ev, err := f.cal.GetEvent(context.Background(), eventID)
	if err != nil {
		t.Fatalf("cancel must not delete the event: %v", err)
	}
	if calendar.AppointmentFromEvent(ev).Status != models.AppointmentStatusCancelled {
		t.Error("event not marked cancelled")
	}
}

func TestAbortMidFlow(t *testing.T) {
	f := newFixture(t)
	f.send(t, "book a cleaning tomorrow")
	f.send(t, "1")

	f.send(t, "actually, cancel that")
	sess := f.state(t)
	if sess.State != models.StateIdle {
		t.Errorf("state = %s, want idle after abort", sess.State)
	}
	if sess.SelectedSlot != nil || sess.PendingService != "" {
		t.Errorf("pending booking not cleared: %+v", sess)
	}
}
