package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPayloadCoversEveryWireEvent(t *testing.T) {
	events := []string{
		EventJoinClass, EventTeacherCreateClass, EventClassCreated,
		EventClassState, EventNewHomework, EventSubmitHomework,
		EventGradeSubmission, EventCalendarEventCreated,
		EventCalendarEventUpdated, EventCalendarEventDeleted,
		EventConnectivityChanged,
	}
	for _, event := range events {
		payload, ok := NewPayload(event)
		assert.True(t, ok, "event %s has no payload shape", event)
		assert.NotNil(t, payload)
	}

	_, ok := NewPayload("drive_by_event")
	assert.False(t, ok)
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	frame, err := EncodeFrame(EventJoinClass, JoinClassPayload{
		StudentID: "s-1",
		ClassCode: "PHY10A2024",
	})
	require.NoError(t, err)
	assert.Equal(t, EventJoinClass, frame.Event)

	decoded, err := DecodePayload(*frame)
	require.NoError(t, err)

	join, ok := decoded.(*JoinClassPayload)
	require.True(t, ok)
	assert.Equal(t, "s-1", join.StudentID)
	assert.Equal(t, "PHY10A2024", join.ClassCode)
}

func TestDecodePayloadRejectsUnknownEvent(t *testing.T) {
	_, err := DecodePayload(Frame{Event: "nope", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodePayloadRejectsMalformedJSON(t *testing.T) {
	_, err := DecodePayload(Frame{Event: EventJoinClass, Payload: json.RawMessage(`{"studentId":`)})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestClassStatePayloadSnapshot(t *testing.T) {
	payload := ClassStatePayload{
		Class:    ClassSession{ID: "c-1", Code: "PHY10A2024"},
		Students: []Member{{ID: "s-1", Role: RoleStudent}},
		Homeworks: []Homework{
			{ID: "hw-1", ClassID: "c-1", DueAt: time.Now()},
		},
	}
	snap := payload.Snapshot()
	assert.Equal(t, "c-1", snap.Class.ID)
	assert.Len(t, snap.Members, 1)
	assert.Len(t, snap.Homeworks, 1)
}

func TestCalendarEventPayloadConversion(t *testing.T) {
	start := time.Date(2026, 9, 10, 9, 0, 0, 0, time.UTC)
	original := CalendarEvent{
		ID:      "ev-1",
		ClassID: "c-1",
		Kind:    EventKindExam,
		Title:   "Midterm",
		Start:   start,
		End:     start.Add(2 * time.Hour),
	}
	back := CalendarEventPayloadFrom(original).Event()
	assert.Equal(t, original, back)
}

func TestDerivedMarker(t *testing.T) {
	assert.True(t, CalendarEvent{HomeworkID: "hw-1"}.Derived())
	assert.False(t, CalendarEvent{}.Derived())
}
