// Package reminder sends appointment reminders on a periodic sweep.
//
// Delivery is at-most-once per reminder window: each send is recorded as a
// flag on the calendar event itself, so a missed sweep tick or a restart
// never produces duplicates, only a late reminder within the window.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CedarClinic/ClinicPipe/internal/calendar"
	"github.com/CedarClinic/ClinicPipe/internal/clinictime"
	"github.com/CedarClinic/ClinicPipe/internal/models"
)

// Reminder windows measured from sweep time to appointment start.
const (
	dayBeforeMin = 18 * time.Hour
	dayBeforeMax = 30 * time.Hour
	hoursBefore  = 4 * time.Hour
)

// Sender delivers reminder text to a patient's messaging channel.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// Opts holds configuration options for the sweeper.
type Opts struct {
	Now func() time.Time
}

// Option defines a configuration option for the sweeper.
type Option func(*Opts)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Sweeper scans upcoming appointments and sends due reminders.
type Sweeper struct {
	cal     calendar.Service
	sender  Sender
	catalog models.ServiceCatalog
	loc     *time.Location
	now     func() time.Time
}

// NewSweeper creates a reminder sweeper.
func NewSweeper(cal calendar.Service, sender Sender, catalog models.ServiceCatalog, loc *time.Location, opts ...Option) *Sweeper {
	cfg := Opts{Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Sweeper{cal: cal, sender: sender, catalog: catalog, loc: loc, now: cfg.Now}
}

// Sweep runs one reminder pass. Per-appointment failures are logged and do
// not stop the pass; the flag is only recorded after a successful send, so a
// failed delivery is retried on the next tick.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.now()
	events, err := s.cal.ListUpcoming(ctx, now, now.Add(dayBeforeMax))
	if err != nil {
		slog.Error("Reminder sweep listing failed", "error", err)
		return fmt.Errorf("failed to list upcoming appointments: %w", err)
	}

	var sent int
	for _, ev := range events {
		appt := calendar.AppointmentFromEvent(ev)
		if appt.Status == models.AppointmentStatusCancelled {
			continue
		}
		until := appt.Start.Sub(now)
		if until <= 0 {
			continue
		}

		switch {
		case until <= hoursBefore && !appt.ReminderHoursBeforeSent:
			if s.remind(ctx, appt, calendar.MetaReminderHours, s.hoursBeforeText(appt)) {
				sent++
			}
		case until >= dayBeforeMin && until <= dayBeforeMax && !appt.ReminderDayBeforeSent:
			if s.remind(ctx, appt, calendar.MetaReminderDayBefore, s.dayBeforeText(appt)) {
				sent++
			}
		}
	}
	slog.Debug("Reminder sweep finished", "scanned", len(events), "sent", sent)
	return nil
}

func (s *Sweeper) remind(ctx context.Context, appt models.Appointment, flagKey, body string) bool {
	if appt.ChannelID == "" {
		slog.Warn("Appointment has no reminder channel", "eventID", appt.EventID)
		return false
	}
	if err := s.sender.SendMessage(ctx, appt.ChannelID, body); err != nil {
		slog.Error("Reminder send failed", "eventID", appt.EventID, "error", err)
		return false
	}
	_, err := s.cal.PatchEvent(ctx, appt.EventID, calendar.EventPatch{
		Private: map[string]string{flagKey: calendar.FormatBoolMeta(true)},
	})
	if err != nil {
		// The reminder went out but the flag did not stick; the next sweep
		// may repeat it. Preferable to silently losing reminders.
		slog.Error("Reminder flag update failed", "eventID", appt.EventID, "flag", flagKey, "error", err)
		return true
	}
	slog.Info("Reminder sent", "eventID", appt.EventID, "flag", flagKey, "start", appt.Start.In(s.loc))
	return true
}

func (s *Sweeper) dayBeforeText(appt models.Appointment) string {
	return fmt.Sprintf("Reminder: your %s is tomorrow, %s. Reply here if you need to reschedule or cancel.",
		s.catalog.Title(appt.Service), clinictime.FormatSlot(appt.Start, s.loc))
}

func (s *Sweeper) hoursBeforeText(appt models.Appointment) string {
	return fmt.Sprintf("See you soon! Your %s is today at %s.",
		s.catalog.Title(appt.Service), clinictime.FormatClock(appt.Start, s.loc))
}
