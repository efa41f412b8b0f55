// Package homework manages the publish → submit → grade lifecycle of
// homework artifacts scoped to the active class.
//
// Per homework the state machine is Draft → Published (irreversible); per
// submission it is Submitted → Graded (terminal). Authoritative broadcasts
// merge by identifier, so replayed or out-of-order events converge instead
// of duplicating.
package homework

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classsync/internal/eventbus"
	"classsync/pkg/types"
)

// Scope resolves the current class and identity. Implemented by the session
// store; injected to avoid a cross-store dependency cycle.
type Scope interface {
	ActiveClassID() string
	ActiveCode() string
	Identity() *types.Identity
}

// ChangeFunc is notified with the full homework collection after every
// mutation of it, so derived calendar entries can be recomputed.
type ChangeFunc func(homeworks []types.Homework)

// Store holds the homeworks and submissions of the active class.
type Store struct {
	bus   *eventbus.Bus
	scope Scope
	log   *zap.Logger

	mu          sync.RWMutex
	homeworks   map[string]*types.Homework
	submissions map[string]*types.Submission

	onChange []ChangeFunc
	subs     []eventbus.Subscription
}

// New creates a detached store. Call Attach to register its event handlers.
func New(bus *eventbus.Bus, scope Scope, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		bus:         bus,
		scope:       scope,
		log:         log,
		homeworks:   make(map[string]*types.Homework),
		submissions: make(map[string]*types.Submission),
	}
}

// Attach subscribes the store to its authoritative events.
func (s *Store) Attach() {
	s.subs = append(s.subs,
		s.bus.On(types.EventNewHomework, func(p interface{}) {
			if payload, ok := p.(*types.NewHomeworkPayload); ok {
				s.applyHomework(payload.Homework)
			}
		}),
		s.bus.On(types.EventSubmitHomework, func(p interface{}) {
			if payload, ok := p.(*types.SubmitHomeworkPayload); ok {
				s.applySubmission(payload.Submission)
			}
		}),
		s.bus.On(types.EventGradeSubmission, func(p interface{}) {
			if payload, ok := p.(*types.GradeSubmissionPayload); ok {
				s.applyGrade(payload)
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

// OnChange registers a homework-collection observer.
func (s *Store) OnChange(fn ChangeFunc) {
	s.onChange = append(s.onChange, fn)
}

// Publish validates a teacher's draft, inserts the homework optimistically
// tagged pending, and emits it. The server's rebroadcast supersedes the
// pending entry by identifier.
func (s *Store) Publish(draft types.HomeworkDraft) (*types.Homework, error) {
	ident := s.scope.Identity()
	if ident == nil {
		return nil, ErrNoIdentity
	}
	if ident.Role != types.RoleTeacher {
		return nil, ErrNotTeacher
	}
	if draft.ClassID == "" {
		draft.ClassID = s.scope.ActiveClassID()
	}
	if draft.ClassID == "" {
		return nil, ErrNoActiveClass
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	hw := types.Homework{
		ID:          uuid.New().String(),
		ClassID:     draft.ClassID,
		Title:       draft.Title,
		Description: draft.Description,
		DueAt:       draft.DueAt,
		PublishedAt: time.Now(),
		IsPublished: true,
		Pending:     true,
	}

	s.mu.Lock()
	stored := hw
	s.homeworks[hw.ID] = &stored
	s.mu.Unlock()
	s.notifyChange()

	if err := s.bus.Emit(types.EventNewHomework, types.NewHomeworkPayload{
		TeacherID: ident.ID,
		ClassCode: s.scope.ActiveCode(),
		Homework:  hw,
	}); err != nil {
		s.log.Warn("homework emit dropped", zap.String("homework_id", hw.ID), zap.Error(err))
	}
	s.log.Info("homework published",
		zap.String("homework_id", hw.ID), zap.String("title", hw.Title))
	return &hw, nil
}

// Submit creates a submission with a fresh identifier and emits it. Nothing
// structurally prevents a student from submitting twice to one homework;
// callers wanting a one-submission policy enforce it themselves.
func (s *Store) Submit(homeworkID, content string) (*types.Submission, error) {
	ident := s.scope.Identity()
	if ident == nil {
		return nil, ErrNoIdentity
	}
	if ident.Role != types.RoleStudent {
		return nil, ErrNotStudent
	}

	s.mu.RLock()
	_, known := s.homeworks[homeworkID]
	s.mu.RUnlock()
	if !known {
		return nil, ErrHomeworkNotFound
	}

	sub := types.Submission{
		ID:          uuid.New().String(),
		HomeworkID:  homeworkID,
		StudentID:   ident.ID,
		Content:     content,
		SubmittedAt: time.Now(),
		Pending:     true,
	}

	s.mu.Lock()
	stored := sub
	s.submissions[sub.ID] = &stored
	s.mu.Unlock()

	if err := s.bus.Emit(types.EventSubmitHomework, types.SubmitHomeworkPayload{
		StudentID:  ident.ID,
		HomeworkID: homeworkID,
		Submission: sub,
	}); err != nil {
		s.log.Warn("submission emit dropped", zap.String("submission_id", sub.ID), zap.Error(err))
	}
	return &sub, nil
}

// Grade applies a teacher's grade optimistically and emits it. Grading is
// idempotent: replaying an identical grade converges to the same state.
// Unknown submissions are a no-op error, never a crash.
func (s *Store) Grade(homeworkID, submissionID string, score int, feedback string) error {
	ident := s.scope.Identity()
	if ident == nil {
		return ErrNoIdentity
	}
	if ident.Role != types.RoleTeacher {
		return ErrNotTeacher
	}

	applied := s.applyGradeLocked(homeworkID, submissionID, score, feedback, ident.ID)
	if !applied {
		return ErrSubmissionNotFound
	}

	if err := s.bus.Emit(types.EventGradeSubmission, types.GradeSubmissionPayload{
		TeacherID:    ident.ID,
		HomeworkID:   homeworkID,
		SubmissionID: submissionID,
		Score:        score,
		Feedback:     feedback,
	}); err != nil {
		s.log.Warn("grade emit dropped", zap.String("submission_id", submissionID), zap.Error(err))
	}
	return nil
}

// SubmissionsFor returns every known submission for one homework, in no
// particular order.
func (s *Store) SubmissionsFor(homeworkID string) []types.Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Submission, 0)
	for _, sub := range s.submissions {
		if sub.HomeworkID == homeworkID {
			out = append(out, *sub)
		}
	}
	return out
}

// Homeworks returns a copy of the homework collection.
func (s *Store) Homeworks() []types.Homework {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Homework, 0, len(s.homeworks))
	for _, hw := range s.homeworks {
		out = append(out, *hw)
	}
	return out
}

// Homework returns one homework by ID.
func (s *Store) Homework(id string) (*types.Homework, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hw, ok := s.homeworks[id]
	if !ok {
		return nil, false
	}
	out := *hw
	return &out, true
}

// ReplaceHomeworks applies the snapshot's homework collection wholesale.
// Submissions are kept; they may reference homeworks that arrive in a later
// snapshot (eventual consistency is accepted).
func (s *Store) ReplaceHomeworks(homeworks []types.Homework) {
	s.mu.Lock()
	s.homeworks = make(map[string]*types.Homework, len(homeworks))
	for _, hw := range homeworks {
		stored := hw
		stored.Pending = false
		s.homeworks[hw.ID] = &stored
	}
	s.mu.Unlock()
	s.notifyChange()
}

// Reset discards all state for a left class.
func (s *Store) Reset(classID string) {
	s.mu.Lock()
	for id, hw := range s.homeworks {
		if classID == "" || hw.ClassID == classID || hw.ClassID == "" {
			delete(s.homeworks, id)
		}
	}
	for id, sub := range s.submissions {
		if _, keep := s.homeworks[sub.HomeworkID]; !keep {
			delete(s.submissions, id)
		}
	}
	s.mu.Unlock()
	s.notifyChange()
}

// applyHomework merges an authoritative homework broadcast by identifier:
// it supersedes a pending entry in place and never duplicates.
func (s *Store) applyHomework(hw types.Homework) {
	s.mu.Lock()
	stored := hw
	stored.Pending = false
	s.homeworks[hw.ID] = &stored
	s.mu.Unlock()
	s.notifyChange()
}

// applySubmission merges an authoritative submission by identifier. The
// homework it references may be unknown yet; the entry is kept regardless
// and becomes consistent when the homework snapshot arrives.
func (s *Store) applySubmission(sub types.Submission) {
	s.mu.Lock()
	if existing, ok := s.submissions[sub.ID]; ok && existing.IsGraded && !sub.IsGraded {
		// A replayed pre-grade copy must not roll back a grade.
		s.mu.Unlock()
		return
	}
	stored := sub
	stored.Pending = false
	s.submissions[sub.ID] = &stored
	s.mu.Unlock()
}

func (s *Store) applyGrade(p *types.GradeSubmissionPayload) {
	if !s.applyGradeLocked(p.HomeworkID, p.SubmissionID, p.Score, p.Feedback, p.TeacherID) {
		s.log.Debug("grade for unknown submission ignored",
			zap.String("submission_id", p.SubmissionID))
	}
}

// applyGradeLocked overwrites the grade fields of one submission. Replaying
// an identical grade leaves the submission byte-identical, including the
// graded-at timestamp. Returns false when the submission is unknown.
func (s *Store) applyGradeLocked(homeworkID, submissionID string, score int, feedback, teacherID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[submissionID]
	if !ok || sub.HomeworkID != homeworkID {
		return false
	}
	if sub.IsGraded && sub.Score != nil && *sub.Score == score &&
		sub.Feedback == feedback && sub.GradedBy == teacherID {
		return true // identical replay, converged already
	}
	now := time.Now()
	sub.Score = &score
	sub.Feedback = feedback
	sub.GradedBy = teacherID
	sub.GradedAt = &now
	sub.IsGraded = true
	sub.Pending = false
	return true
}

func (s *Store) notifyChange() {
	if len(s.onChange) == 0 {
		return
	}
	homeworks := s.Homeworks()
	for _, fn := range s.onChange {
		fn(homeworks)
	}
}
