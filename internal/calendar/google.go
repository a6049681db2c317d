package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/CedarClinic/ClinicPipe/internal/models"
)

// GoogleOpts holds configuration options for the Google Calendar service.
type GoogleOpts struct {
	CalendarID      string
	CredentialsFile string
	TimeZone        string
}

// GoogleOption defines a configuration option for the Google Calendar service.
type GoogleOption func(*GoogleOpts)

// WithCalendarID sets the target calendar.
func WithCalendarID(id string) GoogleOption {
	return func(o *GoogleOpts) { o.CalendarID = id }
}

// WithCredentialsFile sets the service-account credentials file path.
func WithCredentialsFile(path string) GoogleOption {
	return func(o *GoogleOpts) { o.CredentialsFile = path }
}

// WithTimeZone sets the IANA zone written on event date-times.
func WithTimeZone(tz string) GoogleOption {
	return func(o *GoogleOpts) { o.TimeZone = tz }
}

// GoogleService implements Service against the Google Calendar v3 API.
type GoogleService struct {
	svc        *gcal.Service
	calendarID string
	timeZone   string
}

// NewGoogleService creates a Google Calendar backed service. The calendar ID
// is required; credentials fall back to application default credentials when
// no file is configured.
func NewGoogleService(ctx context.Context, opts ...GoogleOption) (*GoogleService, error) {
	var cfg GoogleOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.CalendarID == "" {
		return nil, fmt.Errorf("calendar ID not set")
	}

	var clientOpts []option.ClientOption
	clientOpts = append(clientOpts, option.WithScopes(gcal.CalendarScope))
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	svc, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		slog.Error("Failed to initialize Google Calendar service", "error", err)
		return nil, fmt.Errorf("failed to initialize Google Calendar service: %w", err)
	}
	slog.Info("Google Calendar service initialized", "calendarID", cfg.CalendarID)
	return &GoogleService{svc: svc, calendarID: cfg.CalendarID, timeZone: cfg.TimeZone}, nil
}

// BusyRanges queries free/busy for the configured calendar.
func (g *GoogleService) BusyRanges(ctx context.Context, from, to time.Time) ([]models.BusyRange, error) {
	req := &gcal.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: g.calendarID}},
	}
	resp, err := g.svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		slog.Error("Google Calendar freebusy query failed", "error", err)
		return nil, fmt.Errorf("freebusy query failed: %w", err)
	}

	cal, ok := resp.Calendars[g.calendarID]
	if !ok {
		return nil, nil
	}
	var busy []models.BusyRange
	for _, p := range cal.Busy {
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			slog.Warn("Skipping busy period with unparseable start", "start", p.Start, "error", err)
			continue
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			slog.Warn("Skipping busy period with unparseable end", "end", p.End, "error", err)
			continue
		}
		busy = append(busy, models.BusyRange{Start: start, End: end})
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
	slog.Debug("Google Calendar busy ranges fetched", "count", len(busy))
	return busy, nil
}

// CreateEvent inserts an event carrying the private metadata map.
func (g *GoogleService) CreateEvent(ctx context.Context, ev Event) (Event, error) {
	gev := &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       g.eventTime(ev.Start),
		End:         g.eventTime(ev.End),
	}
	if len(ev.Private) > 0 {
		gev.ExtendedProperties = &gcal.EventExtendedProperties{Private: ev.Private}
	}
	created, err := g.svc.Events.Insert(g.calendarID, gev).Context(ctx).Do()
	if err != nil {
		slog.Error("Google Calendar event insert failed", "error", err)
		return Event{}, fmt.Errorf("event insert failed: %w", err)
	}
	slog.Info("Google Calendar event created", "eventID", created.Id)
	return g.fromGoogle(created)
}

// PatchEvent applies a partial update; private metadata entries are merged by
// the API (Google patches extended properties key-by-key).
func (g *GoogleService) PatchEvent(ctx context.Context, eventID string, patch EventPatch) (Event, error) {
	gev := &gcal.Event{}
	if patch.Summary != nil {
		gev.Summary = *patch.Summary
	}
	if patch.Description != nil {
		gev.Description = *patch.Description
	}
	if patch.Start != nil {
		gev.Start = g.eventTime(*patch.Start)
	}
	if patch.End != nil {
		gev.End = g.eventTime(*patch.End)
	}
	if len(patch.Private) > 0 {
		gev.ExtendedProperties = &gcal.EventExtendedProperties{Private: patch.Private}
	}
	updated, err := g.svc.Events.Patch(g.calendarID, eventID, gev).Context(ctx).Do()
	if err != nil {
		slog.Error("Google Calendar event patch failed", "error", err, "eventID", eventID)
		return Event{}, fmt.Errorf("event patch failed: %w", err)
	}
	slog.Debug("Google Calendar event patched", "eventID", eventID)
	return g.fromGoogle(updated)
}

// GetEvent fetches an event by ID.
func (g *GoogleService) GetEvent(ctx context.Context, eventID string) (Event, error) {
	gev, err := g.svc.Events.Get(g.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		slog.Error("Google Calendar event get failed", "error", err, "eventID", eventID)
		return Event{}, fmt.Errorf("event get failed: %w", err)
	}
	return g.fromGoogle(gev)
}

// ListUpcoming returns events starting within [from, to), ordered by start time.
func (g *GoogleService) ListUpcoming(ctx context.Context, from, to time.Time) ([]Event, error) {
	resp, err := g.svc.Events.List(g.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).Do()
	if err != nil {
		slog.Error("Google Calendar event list failed", "error", err)
		return nil, fmt.Errorf("event list failed: %w", err)
	}
	events := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		ev, err := g.fromGoogle(item)
		if err != nil {
			slog.Warn("Skipping unparseable calendar event", "eventID", item.Id, "error", err)
			continue
		}
		events = append(events, ev)
	}
	slog.Debug("Google Calendar upcoming events listed", "count", len(events))
	return events, nil
}

func (g *GoogleService) eventTime(t time.Time) *gcal.EventDateTime {
	return &gcal.EventDateTime{DateTime: t.Format(time.RFC3339), TimeZone: g.timeZone}
}

func (g *GoogleService) fromGoogle(gev *gcal.Event) (Event, error) {
	ev := Event{ID: gev.Id, Summary: gev.Summary, Description: gev.Description}
	if gev.ExtendedProperties != nil {
		ev.Private = gev.ExtendedProperties.Private
	}
	if gev.Start != nil && gev.Start.DateTime != "" {
		start, err := time.Parse(time.RFC3339, gev.Start.DateTime)
		if err != nil {
			return ev, fmt.Errorf("unparseable event start %q: %w", gev.Start.DateTime, err)
		}
		ev.Start = start
	}
	if gev.End != nil && gev.End.DateTime != "" {
		end, err := time.Parse(time.RFC3339, gev.End.DateTime)
		if err != nil {
			return ev, fmt.Errorf("unparseable event end %q: %w", gev.End.DateTime, err)
		}
		ev.End = end
	}
	return ev, nil
}
