// Package availability generates bookable slots from work hours and externally
// reported busy time.
//
// All day and weekday boundaries are projected through the clinic's IANA zone;
// the engine never consults the process's local time.
package availability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CedarClinic/ClinicPipe/internal/clinictime"
	"github.com/CedarClinic/ClinicPipe/internal/models"
)

// BusySource reports the intervals during which no slot may be offered.
type BusySource interface {
	BusyRanges(ctx context.Context, from, to time.Time) ([]models.BusyRange, error)
}

// Opts holds configuration options for the availability engine.
type Opts struct {
	Step     time.Duration
	MaxSlots int
	Now      func() time.Time
}

// Option defines a configuration option for the availability engine.
type Option func(*Opts)

// WithStep overrides the slot alignment granularity.
func WithStep(step time.Duration) Option {
	return func(o *Opts) { o.Step = step }
}

// WithMaxSlots overrides the per-query slot cap.
func WithMaxSlots(n int) Option {
	return func(o *Opts) { o.MaxSlots = n }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Engine computes available slots for a service and date range.
type Engine struct {
	busy     BusySource
	hours    models.WorkHours
	catalog  models.ServiceCatalog
	loc      *time.Location
	step     time.Duration
	maxSlots int
	now      func() time.Time
}

// New creates an availability engine over the given busy source, work hours,
// and service catalog.
func New(busy BusySource, hours models.WorkHours, catalog models.ServiceCatalog, loc *time.Location, opts ...Option) *Engine {
	cfg := Opts{
		Step:     models.SlotStepMinutes * time.Minute,
		MaxSlots: models.MaxSlotsPerQuery,
		Now:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		busy:     busy,
		hours:    hours,
		catalog:  catalog,
		loc:      loc,
		step:     cfg.Step,
		maxSlots: cfg.MaxSlots,
		now:      cfg.Now,
	}
}

// AvailableSlots generates the ordered, capped slot sequence for a service
// within [from, to]. A range entirely in the past is replaced with a
// forward-looking default window rather than erroring. Returns
// models.ErrNoAvailability when every candidate is busy or the window is closed.
func (e *Engine) AvailableSlots(ctx context.Context, service string, from, to time.Time) ([]models.Slot, error) {
	now := e.now()
	from, to = e.effectiveRange(from, to, now)
	duration := e.catalog.Duration(service)

	slog.Debug("Availability query", "service", service, "from", from, "to", to, "duration", duration)

	candidates := e.candidates(service, from, to, duration)
	if len(candidates) == 0 {
		slog.Debug("Availability query found no candidates", "service", service)
		return nil, models.ErrNoAvailability
	}

	busy, err := e.busy.BusyRanges(ctx, from, to)
	if err != nil {
		slog.Error("Availability busy-range fetch failed", "error", err)
		return nil, fmt.Errorf("failed to fetch busy ranges: %w", err)
	}

	slots := make([]models.Slot, 0, len(candidates))
	for _, slot := range candidates {
		if overlapsAny(slot, busy) {
			continue
		}
		slots = append(slots, slot)
		if len(slots) == e.maxSlots {
			break
		}
	}
	if len(slots) == 0 {
		slog.Debug("Availability query fully busy", "service", service, "candidates", len(candidates))
		return nil, models.ErrNoAvailability
	}
	slog.Debug("Availability query succeeded", "service", service, "slots", len(slots))
	return slots, nil
}

// effectiveRange applies the defensive range policy: a wholly past range is
// replaced by today through +7 days, and a partially past range is clamped so
// no slot in the past is ever offered.
func (e *Engine) effectiveRange(from, to time.Time, now time.Time) (time.Time, time.Time) {
	if to.IsZero() || to.Before(now) {
		from = now
		to = clinictime.AddDays(now, models.DefaultLookaheadDays+1, e.loc)
		slog.Debug("Availability range replaced with default window", "from", from, "to", to)
		return from, to
	}
	if from.Before(now) {
		from = now
	}
	return from, to
}

// candidates walks each clinic-local date in [from, to] and emits the aligned
// slot starts inside that day's open window.
func (e *Engine) candidates(service string, from, to time.Time, duration time.Duration) []models.Slot {
	var slots []models.Slot
	for day := clinictime.DayStart(from, e.loc); !day.After(to); day = clinictime.NextDay(day, e.loc) {
		dh, open := e.hours[clinictime.Weekday(day, e.loc)]
		if !open {
			continue
		}
		dayOpen, err := clinictime.AtClock(day, dh.Open, e.loc)
		if err != nil {
			slog.Warn("Skipping day with invalid open time", "open", dh.Open, "error", err)
			continue
		}
		dayClose, err := clinictime.AtClock(day, dh.Close, e.loc)
		if err != nil {
			slog.Warn("Skipping day with invalid close time", "close", dh.Close, "error", err)
			continue
		}

		cursor := dayOpen
		if from.After(cursor) {
			cursor = from
		}
		cursor = clinictime.RoundUpToStep(cursor, e.step, e.loc)

		limit := dayClose
		if to.Before(limit) {
			limit = to
		}
		for !cursor.Add(duration).After(limit) {
			slots = append(slots, models.Slot{
				ID:      models.SlotID(cursor),
				Service: service,
				Start:   cursor,
				End:     cursor.Add(duration),
			})
			cursor = cursor.Add(e.step)
		}
	}
	return slots
}

func overlapsAny(slot models.Slot, busy []models.BusyRange) bool {
	for _, b := range busy {
		if b.Overlaps(slot.Start, slot.End) {
			return true
		}
	}
	return false
}

// Location exposes the clinic zone for callers formatting slot labels.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Now exposes the engine clock so the state machine shares one time source.
func (e *Engine) Now() time.Time {
	return e.now()
}
