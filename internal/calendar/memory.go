package calendar

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CedarClinic/ClinicPipe/internal/models"
)

// MemoryService is an in-memory Service. Confirmed events count as busy time;
// cancelled events are retained but do not block slots.
type MemoryService struct {
	mu     sync.RWMutex
	events map[string]Event
}

// NewMemoryService creates an empty in-memory calendar.
func NewMemoryService() *MemoryService {
	return &MemoryService{events: make(map[string]Event)}
}

// BusyRanges returns the intervals of non-cancelled events overlapping [from, to).
func (m *MemoryService) BusyRanges(ctx context.Context, from, to time.Time) ([]models.BusyRange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var busy []models.BusyRange
	for _, ev := range m.events {
		if ev.Private[MetaStatus] == string(models.AppointmentStatusCancelled) {
			continue
		}
		if ev.Start.Before(to) && ev.End.After(from) {
			busy = append(busy, models.BusyRange{Start: ev.Start, End: ev.End})
		}
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
	return busy, nil
}

// AddBusy inserts an opaque busy block, for tests and seeded demos.
func (m *MemoryService) AddBusy(start, end time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.events[id] = Event{ID: id, Summary: "busy", Start: start, End: end}
}

// CreateEvent stores a new event under a generated ID.
func (m *MemoryService) CreateEvent(ctx context.Context, ev Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev.ID = uuid.NewString()
	ev.Private = clonePrivate(ev.Private)
	m.events[ev.ID] = ev
	slog.Debug("MemoryService event created", "eventID", ev.ID)
	return ev, nil
}

// PatchEvent applies a partial update, merging private metadata key-by-key.
func (m *MemoryService) PatchEvent(ctx context.Context, eventID string, patch EventPatch) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[eventID]
	if !ok {
		return Event{}, ErrEventNotFound
	}
	if patch.Summary != nil {
		ev.Summary = *patch.Summary
	}
	if patch.Description != nil {
		ev.Description = *patch.Description
	}
	if patch.Start != nil {
		ev.Start = *patch.Start
	}
	if patch.End != nil {
		ev.End = *patch.End
	}
	if len(patch.Private) > 0 {
		merged := clonePrivate(ev.Private)
		for k, v := range patch.Private {
			merged[k] = v
		}
		ev.Private = merged
	}
	m.events[eventID] = ev
	return ev, nil
}

// GetEvent fetches an event by ID.
func (m *MemoryService) GetEvent(ctx context.Context, eventID string) (Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[eventID]
	if !ok {
		return Event{}, ErrEventNotFound
	}
	return ev, nil
}

// ListUpcoming returns events starting within [from, to), ordered by start.
func (m *MemoryService) ListUpcoming(ctx context.Context, from, to time.Time) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []Event
	for _, ev := range m.events {
		if !ev.Start.Before(from) && ev.Start.Before(to) {
			events = append(events, ev)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, nil
}

func clonePrivate(p map[string]string) map[string]string {
	clone := make(map[string]string, len(p))
	for k, v := range p {
		clone[k] = v
	}
	return clone
}
