// Package session manages creation, joining, switching and leaving of class
// sessions. It is the single source of truth for which class is active;
// every other store resolves its scope through this one.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classsync/internal/eventbus"
	"classsync/internal/snapshot"
	"classsync/pkg/interfaces"
	"classsync/pkg/types"
)

// localScope keys client-local records (the identity) in the snapshot cache.
const localScope = "local"

// SnapshotFunc receives the authoritative snapshot for wholesale application.
type SnapshotFunc func(snap *types.Snapshot)

// LeaveFunc is told when a class's scoped state must be discarded.
type LeaveFunc func(classID string)

// Store tracks the known classes and the single active one. Local mutations
// are optimistic: entries carry Pending until an authoritative event
// superseded them by identifier.
type Store struct {
	bus     *eventbus.Bus
	cache   interfaces.SnapshotStore
	fetcher interfaces.SnapshotFetcher // optional request/response fallback
	log     *zap.Logger

	mu       sync.RWMutex
	identity *types.Identity
	classes  map[string]*types.ClassSession // by ID; join placeholders use the code as provisional ID
	activeID string

	onSnapshot []SnapshotFunc
	onLeave    []LeaveFunc

	subs []eventbus.Subscription
}

// New creates a detached store. Call Attach to register its event handlers.
func New(bus *eventbus.Bus, cache interfaces.SnapshotStore, fetcher interfaces.SnapshotFetcher, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		bus:     bus,
		cache:   cache,
		fetcher: fetcher,
		log:     log,
		classes: make(map[string]*types.ClassSession),
	}
}

// Attach subscribes the store to its authoritative events.
func (s *Store) Attach() {
	s.subs = append(s.subs,
		s.bus.On(types.EventClassCreated, func(p interface{}) {
			if payload, ok := p.(*types.ClassCreatedPayload); ok {
				s.handleClassCreated(payload)
			}
		}),
		s.bus.On(types.EventClassState, func(p interface{}) {
			if payload, ok := p.(*types.ClassStatePayload); ok {
				s.ApplySnapshot(payload.Snapshot())
			}
		}),
		s.bus.On(types.EventConnectivityChanged, func(p interface{}) {
			if payload, ok := p.(*types.ConnectivityPayload); ok && payload.Connected {
				s.resync()
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

// OnSnapshot registers a dependent store's wholesale-apply callback.
func (s *Store) OnSnapshot(fn SnapshotFunc) {
	s.onSnapshot = append(s.onSnapshot, fn)
}

// OnLeave registers a dependent store's discard callback.
func (s *Store) OnLeave(fn LeaveFunc) {
	s.onLeave = append(s.onLeave, fn)
}

// SetIdentity records the caller's identity from the external provider and
// persists it for the next cold start.
func (s *Store) SetIdentity(identity types.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.identity = &identity
	s.mu.Unlock()

	if err := snapshot.PutJSON(context.Background(), s.cache, localScope, interfaces.KindIdentity, identity); err != nil {
		s.log.Warn("identity not persisted", zap.Error(err))
	}
	return nil
}

// Identity returns a copy of the known identity, or nil.
func (s *Store) Identity() *types.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	ident := *s.identity
	return &ident
}

// RestoreIdentity loads a previously persisted identity from the cache.
func (s *Store) RestoreIdentity() bool {
	var identity types.Identity
	if err := snapshot.GetJSON(context.Background(), s.cache, localScope, interfaces.KindIdentity, &identity); err != nil {
		return false
	}
	if identity.Validate() != nil {
		return false
	}
	s.mu.Lock()
	s.identity = &identity
	s.mu.Unlock()
	return true
}

// Create starts a new class session optimistically under a temporary local
// identifier and emits the creation request. The pending entry is replaced
// in place once class_created arrives with the final identifier.
func (s *Store) Create(name string) (*types.ClassSession, error) {
	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		return nil, ErrNoIdentity
	}
	if s.identity.Role != types.RoleTeacher {
		s.mu.Unlock()
		return nil, ErrNotTeacher
	}
	teacherID := s.identity.ID

	cls := &types.ClassSession{
		ID:        "pending-" + uuid.New().String(),
		Name:      name,
		OwnerID:   teacherID,
		CreatedAt: time.Now(),
		Pending:   true,
	}
	s.classes[cls.ID] = cls
	s.activeID = cls.ID
	out := *cls
	s.mu.Unlock()

	if err := s.bus.Emit(types.EventTeacherCreateClass, types.CreateClassPayload{
		TeacherID: teacherID,
		Name:      name,
	}); err != nil {
		s.log.Warn("class creation emit dropped", zap.String("name", name), zap.Error(err))
	}
	return &out, nil
}

// Join requests membership of a class by code. The session becomes active
// optimistically; the authoritative roster arrives with class_state. Returns
// false without touching any state when the caller has no identity or the
// code is malformed.
func (s *Store) Join(code string) bool {
	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		s.log.Warn("join attempted without identity", zap.String("code", code))
		return false
	}
	if !types.IsValidClassCode(code) {
		s.mu.Unlock()
		s.log.Warn("join attempted with malformed code", zap.String("code", code))
		return false
	}
	studentID := s.identity.ID
	prev := s.activeID

	if existing := s.findByCode(code); existing != nil {
		s.activeID = existing.ID
	} else {
		s.classes[code] = &types.ClassSession{
			ID:      code, // provisional, superseded by the snapshot's class ID
			Code:    code,
			Pending: true,
		}
		s.activeID = code
	}
	next := s.activeID
	s.mu.Unlock()

	// Switching away from another class discards its scoped state wholesale,
	// the same as an explicit switch or leave.
	if prev != "" && prev != next {
		for _, fn := range s.onLeave {
			fn(prev)
		}
	}

	if err := s.bus.Emit(types.EventJoinClass, types.JoinClassPayload{
		StudentID: studentID,
		ClassCode: code,
	}); err != nil {
		s.log.Warn("join emit dropped", zap.String("code", code), zap.Error(err))
	}
	s.requestSnapshot(code)
	return true
}

// Leave discards all class-scoped state for the active class and clears the
// active pointer. Cached snapshots of other classes are untouched.
func (s *Store) Leave() {
	s.mu.Lock()
	id := s.activeID
	if id == "" {
		s.mu.Unlock()
		return
	}
	if cls, ok := s.classes[id]; ok {
		cls.Members = nil
	}
	s.activeID = ""
	s.mu.Unlock()

	for _, fn := range s.onLeave {
		fn(id)
	}
	s.log.Info("left class", zap.String("class_id", id))
}

// SwitchClass sets the active pointer to an already-known class and triggers
// a snapshot refresh for it. Unknown IDs are a no-op error.
func (s *Store) SwitchClass(classID string) error {
	s.mu.Lock()
	cls, ok := s.classes[classID]
	if !ok {
		s.mu.Unlock()
		return ErrClassNotFound
	}
	prev := s.activeID
	s.activeID = classID
	code := cls.Code
	s.mu.Unlock()

	if prev != "" && prev != classID {
		for _, fn := range s.onLeave {
			fn(prev)
		}
	}

	// Fast start from the cached snapshot, then refresh from the server.
	var snap types.Snapshot
	if err := snapshot.GetJSON(context.Background(), s.cache, classID, interfaces.KindSnapshot, &snap); err == nil {
		s.ApplySnapshot(&snap)
	}
	if ident := s.Identity(); ident != nil && code != "" {
		if err := s.bus.Emit(types.EventJoinClass, types.JoinClassPayload{
			StudentID: ident.ID,
			ClassCode: code,
		}); err != nil {
			s.log.Warn("refresh emit dropped", zap.String("code", code), zap.Error(err))
		}
	}
	s.requestSnapshot(code)
	return nil
}

// ApplySnapshot replaces the class's members, homeworks and schedule entries
// wholesale. Applying the same snapshot twice leaves state unchanged.
func (s *Store) ApplySnapshot(snap *types.Snapshot) {
	if snap == nil || snap.Class.ID == "" {
		return
	}
	classID := snap.Class.ID

	s.mu.Lock()
	// A join placeholder keyed by code is superseded by the real class ID.
	if _, known := s.classes[classID]; !known {
		if placeholder := s.findByCode(snap.Class.Code); placeholder != nil && placeholder.Pending {
			delete(s.classes, placeholder.ID)
			if s.activeID == placeholder.ID {
				s.activeID = classID
			}
		}
	}
	cls := snap.Class
	cls.Members = append([]types.Member(nil), snap.Members...)
	cls.Pending = false
	s.classes[classID] = &cls
	s.mu.Unlock()

	for _, fn := range s.onSnapshot {
		fn(snap)
	}

	if err := snapshot.PutJSON(context.Background(), s.cache, classID, interfaces.KindSnapshot, snap); err != nil {
		s.log.Warn("snapshot not cached", zap.String("class_id", classID), zap.Error(err))
	}
	s.log.Debug("snapshot applied",
		zap.String("class_id", classID), zap.Int("members", len(snap.Members)),
		zap.Int("homeworks", len(snap.Homeworks)))
}

// Active returns a copy of the active class session, or nil.
func (s *Store) Active() *types.ClassSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cls, ok := s.classes[s.activeID]
	if s.activeID == "" || !ok {
		return nil
	}
	out := *cls
	out.Members = append([]types.Member(nil), cls.Members...)
	return &out
}

// ActiveClassID implements the scope contract for dependent stores.
func (s *Store) ActiveClassID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// ActiveCode returns the shareable code of the active class, or "".
func (s *Store) ActiveCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cls, ok := s.classes[s.activeID]; ok {
		return cls.Code
	}
	return ""
}

// Classes lists every known class sorted by creation time.
func (s *Store) Classes() []types.ClassSession {
	s.mu.RLock()
	out := make([]types.ClassSession, 0, len(s.classes))
	for _, cls := range s.classes {
		c := *cls
		c.Members = append([]types.Member(nil), cls.Members...)
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// handleClassCreated merges the server confirmation by identifier: a known
// final ID updates in place, a pending local entry is replaced, and only
// otherwise is a new entry inserted. The owned collection never ends up with
// two entries for one ID.
func (s *Store) handleClassCreated(p *types.ClassCreatedPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cls, ok := s.classes[p.ID]; ok {
		cls.Name = p.Name
		cls.Code = p.ClassCode
		cls.OwnerID = p.TeacherID
		cls.Pending = false
		s.log.Debug("class confirmation reapplied", zap.String("class_id", p.ID))
		return
	}

	for id, cls := range s.classes {
		if cls.Pending && cls.OwnerID == p.TeacherID && cls.Name == p.Name {
			confirmed := *cls
			confirmed.ID = p.ID
			confirmed.Code = p.ClassCode
			confirmed.Pending = false
			delete(s.classes, id)
			s.classes[p.ID] = &confirmed
			if s.activeID == id {
				s.activeID = p.ID
			}
			s.log.Info("class created",
				zap.String("class_id", p.ID), zap.String("code", p.ClassCode))
			return
		}
	}

	// Broadcast for a class this client did not originate (another tab, replay).
	s.classes[p.ID] = &types.ClassSession{
		ID:        p.ID,
		Name:      p.Name,
		Code:      p.ClassCode,
		OwnerID:   p.TeacherID,
		CreatedAt: time.Now(),
	}
}

// resync runs on reconnect: the active class's state may have drifted while
// the channel was down, so request the authoritative snapshot again.
func (s *Store) resync() {
	s.mu.RLock()
	ident := s.identity
	var code string
	if cls, ok := s.classes[s.activeID]; ok {
		code = cls.Code
	}
	s.mu.RUnlock()

	if ident == nil || code == "" {
		return
	}
	s.log.Info("resynchronizing after reconnect", zap.String("code", code))
	if err := s.bus.Emit(types.EventJoinClass, types.JoinClassPayload{
		StudentID: ident.ID,
		ClassCode: code,
	}); err != nil {
		s.log.Warn("resync emit dropped", zap.Error(err))
	}
}

// requestSnapshot consults the request/response fallback when configured.
// The push-based class_state event remains authoritative; whichever arrives
// later simply reapplies the same merge.
func (s *Store) requestSnapshot(code string) {
	if s.fetcher == nil || code == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		snap, err := s.fetcher.FetchByCode(ctx, code)
		if err != nil {
			s.log.Debug("snapshot fallback unavailable", zap.String("code", code), zap.Error(err))
			return
		}
		s.ApplySnapshot(snap)
	}()
}

// findByCode must be called with the lock held.
func (s *Store) findByCode(code string) *types.ClassSession {
	if code == "" {
		return nil
	}
	for _, cls := range s.classes {
		if cls.Code == code {
			return cls
		}
	}
	return nil
}
