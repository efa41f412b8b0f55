package types

import (
	"encoding/json"
	"time"
)

// Wire event names exchanged over the persistent channel. Names are part of
// the server contract and must not change.
const (
	EventJoinClass            = "join_class"
	EventTeacherCreateClass   = "teacher_create_class"
	EventClassCreated         = "class_created"
	EventClassState           = "class_state"
	EventNewHomework          = "new_homework"
	EventSubmitHomework       = "submit_homework"
	EventGradeSubmission      = "grade_submission"
	EventCalendarEventCreated = "calendar_event_created"
	EventCalendarEventUpdated = "calendar_event_updated"
	EventCalendarEventDeleted = "calendar_event_deleted"

	// EventConnectivityChanged is a local-only event dispatched by the
	// connection manager on every transition; it never crosses the wire.
	EventConnectivityChanged = "connectivity_changed"
)

// Frame is the envelope for every message on the channel.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// JoinClassPayload asks the server to add the caller to a class by code.
type JoinClassPayload struct {
	StudentID string `json:"studentId"`
	ClassCode string `json:"classCode"`
}

// CreateClassPayload asks the server to create a class and assign a code.
type CreateClassPayload struct {
	TeacherID string `json:"teacherId"`
	Name      string `json:"name"`
}

// ClassCreatedPayload confirms class creation with the server-assigned code.
type ClassCreatedPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ClassCode string `json:"classCode"`
	TeacherID string `json:"teacherId"`
}

// ClassStatePayload is the full authoritative snapshot for one class.
type ClassStatePayload struct {
	Class     ClassSession    `json:"class"`
	Students  []Member        `json:"students"`
	Lessons   []CalendarEvent `json:"lessons"`
	Homeworks []Homework      `json:"homeworks"`
}

// Snapshot converts the wire payload into the cacheable snapshot form.
func (p ClassStatePayload) Snapshot() *Snapshot {
	return &Snapshot{
		Class:     p.Class,
		Members:   p.Students,
		Lessons:   p.Lessons,
		Homeworks: p.Homeworks,
	}
}

// NewHomeworkPayload publishes a homework to a class.
type NewHomeworkPayload struct {
	TeacherID string   `json:"teacherId"`
	ClassCode string   `json:"classCode"`
	Homework  Homework `json:"homework"`
}

// SubmitHomeworkPayload delivers one student submission.
type SubmitHomeworkPayload struct {
	StudentID  string     `json:"studentId"`
	HomeworkID string     `json:"homeworkId"`
	Submission Submission `json:"submission"`
}

// GradeSubmissionPayload applies a grade to one submission.
type GradeSubmissionPayload struct {
	TeacherID    string `json:"teacherId"`
	HomeworkID   string `json:"homeworkId"`
	SubmissionID string `json:"submissionId"`
	Score        int    `json:"score"`
	Feedback     string `json:"feedback"`
}

// CalendarEventPayload mirrors a manual calendar entry creation or update.
type CalendarEventPayload struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Type        EventKind `json:"type"`
	Description string    `json:"description,omitempty"`
	ClassID     string    `json:"classId"`
}

// Event converts the wire payload into the local calendar entry form.
func (p CalendarEventPayload) Event() CalendarEvent {
	return CalendarEvent{
		ID:          p.ID,
		ClassID:     p.ClassID,
		Kind:        p.Type,
		Title:       p.Title,
		Description: p.Description,
		Start:       p.Start,
		End:         p.End,
	}
}

// CalendarEventPayloadFrom builds the wire form of a manual calendar entry.
func CalendarEventPayloadFrom(e CalendarEvent) CalendarEventPayload {
	return CalendarEventPayload{
		ID:          e.ID,
		Title:       e.Title,
		Start:       e.Start,
		End:         e.End,
		Type:        e.Kind,
		Description: e.Description,
		ClassID:     e.ClassID,
	}
}

// CalendarEventDeletedPayload removes a manual calendar entry.
type CalendarEventDeletedPayload struct {
	EventID string `json:"eventId"`
	ClassID string `json:"classId"`
}

// ConnectivityPayload reports channel state transitions to local subscribers.
type ConnectivityPayload struct {
	Connected bool      `json:"connected"`
	At        time.Time `json:"at"`
}

// NewPayload returns a fresh zero payload for the given event name, enforcing
// the one-event-one-shape contract. The second result is false for unknown
// event names.
func NewPayload(event string) (interface{}, bool) {
	switch event {
	case EventJoinClass:
		return &JoinClassPayload{}, true
	case EventTeacherCreateClass:
		return &CreateClassPayload{}, true
	case EventClassCreated:
		return &ClassCreatedPayload{}, true
	case EventClassState:
		return &ClassStatePayload{}, true
	case EventNewHomework:
		return &NewHomeworkPayload{}, true
	case EventSubmitHomework:
		return &SubmitHomeworkPayload{}, true
	case EventGradeSubmission:
		return &GradeSubmissionPayload{}, true
	case EventCalendarEventCreated, EventCalendarEventUpdated:
		return &CalendarEventPayload{}, true
	case EventCalendarEventDeleted:
		return &CalendarEventDeletedPayload{}, true
	case EventConnectivityChanged:
		return &ConnectivityPayload{}, true
	default:
		return nil, false
	}
}

// EncodeFrame wraps an event and payload into a wire frame.
func EncodeFrame(event string, payload interface{}) (*Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	return &Frame{Event: event, Payload: raw}, nil
}

// DecodePayload unmarshals a frame's payload into its registered shape.
func DecodePayload(frame Frame) (interface{}, error) {
	payload, ok := NewPayload(frame.Event)
	if !ok {
		return nil, ErrUnknownEvent
	}
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, payload); err != nil {
			return nil, ErrInvalidPayload
		}
	}
	return payload, nil
}
