package types

import (
	"time"
)

// Role identifies the privilege level of a connected client.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Identity is the caller's identity as supplied by the external identity
// provider. It must be known before any class operation is attempted.
type Identity struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"displayName"`
}

// Member is one participant of a class session.
type Member struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// ClassSession is a teacher-owned grouping of members, homeworks and schedule
// entries, identified by a unique human-shareable code.
//
// Pending is true while the session originated from an optimistic local
// mutation and has not yet been confirmed by an authoritative event.
type ClassSession struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	OwnerID   string    `json:"ownerId"`
	Members   []Member  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
	Pending   bool      `json:"pending,omitempty"`
}

// Homework is a published assignment scoped to one class. Publish is
// append-only: once IsPublished is set the entry is never edited locally,
// only superseded by authoritative broadcasts matched by ID.
type Homework struct {
	ID          string    `json:"id"`
	ClassID     string    `json:"classId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	DueAt       time.Time `json:"dueAt"`
	PublishedAt time.Time `json:"publishedAt"`
	IsPublished bool      `json:"isPublished"`
	Pending     bool      `json:"pending,omitempty"`
}

// Submission is one student's answer to a homework. Grading overwrites
// Score/Feedback/GradedBy/GradedAt in place; replaying an identical grade
// event converges to the same state.
type Submission struct {
	ID          string     `json:"id"`
	HomeworkID  string     `json:"homeworkId"`
	StudentID   string     `json:"studentId"`
	Content     string     `json:"content"`
	SubmittedAt time.Time  `json:"submittedAt"`
	Score       *int       `json:"score,omitempty"`
	Feedback    string     `json:"feedback,omitempty"`
	GradedBy    string     `json:"gradedBy,omitempty"`
	GradedAt    *time.Time `json:"gradedAt,omitempty"`
	IsGraded    bool       `json:"isGraded"`
	Pending     bool       `json:"pending,omitempty"`
}

// EventKind categorizes calendar entries.
type EventKind string

const (
	EventKindLesson   EventKind = "lesson"
	EventKindHomework EventKind = "homework"
	EventKindExam     EventKind = "exam"
	EventKindMeeting  EventKind = "meeting"
)

// CalendarEvent is a schedule entry. A non-empty HomeworkID marks the entry
// as derived from a homework due date; derived entries are recomputed from
// the homework collection and never persisted as authored content.
type CalendarEvent struct {
	ID          string    `json:"id"`
	ClassID     string    `json:"classId"`
	Kind        EventKind `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	HomeworkID  string    `json:"homeworkId,omitempty"`
	Pending     bool      `json:"pending,omitempty"`
}

// Derived reports whether the event was synthesized from a homework due date.
func (e CalendarEvent) Derived() bool {
	return e.HomeworkID != ""
}

// Snapshot is the full authoritative state for one class, applied wholesale
// on join, reconnect or explicit refresh.
type Snapshot struct {
	Class     ClassSession    `json:"class"`
	Members   []Member        `json:"members"`
	Lessons   []CalendarEvent `json:"lessons"`
	Homeworks []Homework      `json:"homeworks"`
}

// HomeworkDraft carries the teacher-authored fields of a homework before
// publication. Required fields are validated client-side before any emit.
type HomeworkDraft struct {
	ClassID     string    `json:"classId" validate:"required"`
	Title       string    `json:"title" validate:"required,min=1,max=200"`
	Description string    `json:"description" validate:"max=4000"`
	DueAt       time.Time `json:"dueAt" validate:"required"`
}
