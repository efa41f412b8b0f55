// Package calendar manages manually created schedule entries plus entries
// derived from homework due dates. Derived entries are recomputed whenever
// the homework collection changes and are never persisted as authored
// content.
package calendar

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classsync/internal/eventbus"
	"classsync/internal/snapshot"
	"classsync/pkg/interfaces"
	"classsync/pkg/types"
)

var ErrEventNotFound = errors.New("calendar event is not known to this client")

// Scope resolves the current class. Implemented by the session store.
type Scope interface {
	ActiveClassID() string
}

// Store holds the merged event list for the active class: manual entries
// mirrored to the server and cache, and derived entries recomputed from
// homework due dates (identified by a homework back-reference).
type Store struct {
	bus   *eventbus.Bus
	scope Scope
	cache interfaces.SnapshotStore
	log   *zap.Logger

	mu     sync.RWMutex
	events map[string]*types.CalendarEvent

	subs []eventbus.Subscription
}

// New creates a detached store. Call Attach to register its event handlers.
func New(bus *eventbus.Bus, scope Scope, cache interfaces.SnapshotStore, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		bus:    bus,
		scope:  scope,
		cache:  cache,
		log:    log,
		events: make(map[string]*types.CalendarEvent),
	}
}

// Attach subscribes the store to its authoritative events.
func (s *Store) Attach() {
	apply := func(p interface{}) {
		if payload, ok := p.(*types.CalendarEventPayload); ok {
			s.applyEvent(payload.Event())
		}
	}
	s.subs = append(s.subs,
		s.bus.On(types.EventCalendarEventCreated, apply),
		s.bus.On(types.EventCalendarEventUpdated, apply),
		s.bus.On(types.EventCalendarEventDeleted, func(p interface{}) {
			if payload, ok := p.(*types.CalendarEventDeletedPayload); ok {
				s.applyDelete(payload.EventID)
			}
		}),
	)
}

// Detach removes the store's event handlers.
func (s *Store) Detach() {
	for _, sub := range s.subs {
		s.bus.Off(sub)
	}
	s.subs = nil
}

// CreateEvent inserts a manual entry optimistically and mirrors it to the
// server and the class-keyed cache.
func (s *Store) CreateEvent(ev types.CalendarEvent) (*types.CalendarEvent, error) {
	if ev.ClassID == "" {
		ev.ClassID = s.scope.ActiveClassID()
	}
	if ev.Kind == "" {
		ev.Kind = types.EventKindMeeting
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.HomeworkID = "" // manual entries never carry the derived marker
	ev.Pending = true

	s.mu.Lock()
	stored := ev
	s.events[ev.ID] = &stored
	s.mu.Unlock()
	s.persistManual(ev.ClassID)

	if err := s.bus.Emit(types.EventCalendarEventCreated, types.CalendarEventPayloadFrom(ev)); err != nil {
		s.log.Warn("calendar emit dropped", zap.String("event_id", ev.ID), zap.Error(err))
	}
	return &ev, nil
}

// UpdateEvent replaces a manual entry by identifier and mirrors the change.
// Unknown or derived entries are a no-op error.
func (s *Store) UpdateEvent(ev types.CalendarEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	existing, ok := s.events[ev.ID]
	if !ok || existing.Derived() {
		s.mu.Unlock()
		return ErrEventNotFound
	}
	ev.ClassID = existing.ClassID
	ev.HomeworkID = ""
	ev.Pending = true
	stored := ev
	s.events[ev.ID] = &stored
	s.mu.Unlock()
	s.persistManual(ev.ClassID)

	if err := s.bus.Emit(types.EventCalendarEventUpdated, types.CalendarEventPayloadFrom(ev)); err != nil {
		s.log.Warn("calendar emit dropped", zap.String("event_id", ev.ID), zap.Error(err))
	}
	return nil
}

// DeleteEvent removes a manual entry and mirrors the deletion. Unknown IDs
// are a no-op error.
func (s *Store) DeleteEvent(id string) error {
	s.mu.Lock()
	existing, ok := s.events[id]
	if !ok || existing.Derived() {
		s.mu.Unlock()
		return ErrEventNotFound
	}
	classID := existing.ClassID
	delete(s.events, id)
	s.mu.Unlock()
	s.persistManual(classID)

	if err := s.bus.Emit(types.EventCalendarEventDeleted, types.CalendarEventDeletedPayload{
		EventID: id,
		ClassID: classID,
	}); err != nil {
		s.log.Warn("calendar emit dropped", zap.String("event_id", id), zap.Error(err))
	}
	return nil
}

// RegenerateDerivedEvents drops every derived entry and re-inserts exactly
// one per published homework with a due date. Deterministic identifiers make
// redundant runs converge instead of accumulating duplicates or orphans.
func (s *Store) RegenerateDerivedEvents(homeworks []types.Homework) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ev := range s.events {
		if ev.Derived() {
			delete(s.events, id)
		}
	}
	for _, hw := range homeworks {
		if !hw.IsPublished || hw.DueAt.IsZero() {
			continue
		}
		ev := types.CalendarEvent{
			ID:         "hw-due-" + hw.ID,
			ClassID:    hw.ClassID,
			Kind:       types.EventKindHomework,
			Title:      hw.Title,
			Start:      hw.DueAt,
			End:        hw.DueAt,
			HomeworkID: hw.ID,
		}
		s.events[ev.ID] = &ev
	}
}

// Events returns the merged event list sorted by start time.
func (s *Store) Events() []types.CalendarEvent {
	s.mu.RLock()
	out := make([]types.CalendarEvent, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, *ev)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// ReplaceLessons applies the snapshot's lesson entries wholesale, keeping
// manual and derived entries intact.
func (s *Store) ReplaceLessons(lessons []types.CalendarEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ev := range s.events {
		if ev.Kind == types.EventKindLesson && !ev.Derived() {
			delete(s.events, id)
		}
	}
	for _, lesson := range lessons {
		stored := lesson
		stored.Pending = false
		s.events[lesson.ID] = &stored
	}
}

// RestoreManual loads previously cached manual entries for a class, for
// offline continuity and fast cold start.
func (s *Store) RestoreManual(classID string) {
	var manual []types.CalendarEvent
	if err := snapshot.GetJSON(context.Background(), s.cache, classID, interfaces.KindCalendar, &manual); err != nil {
		return
	}
	s.mu.Lock()
	for _, ev := range manual {
		if _, ok := s.events[ev.ID]; !ok {
			stored := ev
			s.events[ev.ID] = &stored
		}
	}
	s.mu.Unlock()
}

// Reset discards all entries for a left class.
func (s *Store) Reset(classID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ev := range s.events {
		if classID == "" || ev.ClassID == classID || ev.ClassID == "" {
			delete(s.events, id)
		}
	}
}

// applyEvent merges an authoritative broadcast by identifier.
func (s *Store) applyEvent(ev types.CalendarEvent) {
	s.mu.Lock()
	stored := ev
	stored.Pending = false
	s.events[ev.ID] = &stored
	s.mu.Unlock()
	s.persistManual(ev.ClassID)
}

func (s *Store) applyDelete(id string) {
	s.mu.Lock()
	existing, ok := s.events[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	classID := existing.ClassID
	delete(s.events, id)
	s.mu.Unlock()
	s.persistManual(classID)
}

// persistManual writes the manual entries of one class to the cache.
// Derived entries are excluded; they are recomputed, never stored.
func (s *Store) persistManual(classID string) {
	if classID == "" {
		return
	}
	s.mu.RLock()
	manual := make([]types.CalendarEvent, 0)
	for _, ev := range s.events {
		if ev.ClassID == classID && !ev.Derived() {
			manual = append(manual, *ev)
		}
	}
	s.mu.RUnlock()

	if err := snapshot.PutJSON(context.Background(), s.cache, classID, interfaces.KindCalendar, manual); err != nil {
		s.log.Warn("calendar cache write failed", zap.String("class_id", classID), zap.Error(err))
	}
}
