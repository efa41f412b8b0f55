package types

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidUserID(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		want   bool
	}{
		{"simple", "teacher-1", true},
		{"underscore", "student_42", true},
		{"empty", "", false},
		{"spaces", "bad id", false},
		{"too long", strings.Repeat("a", 51), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidUserID(tt.userID))
		})
	}
}

func TestIsValidClassCode(t *testing.T) {
	assert.True(t, IsValidClassCode("PHY10A2024"))
	assert.True(t, IsValidClassCode("CLS2026"))
	assert.False(t, IsValidClassCode("phy10a2024"), "lowercase is rejected")
	assert.False(t, IsValidClassCode("AB"), "too short")
	assert.False(t, IsValidClassCode("ABCDEFGHIJKLM"), "too long")
	assert.False(t, IsValidClassCode("PHY 10A"), "spaces are rejected")
}

func TestIdentityValidate(t *testing.T) {
	valid := Identity{ID: "t-1", Role: RoleTeacher, DisplayName: "T"}
	require.NoError(t, valid.Validate())

	badRole := Identity{ID: "t-1", Role: "admin"}
	assert.ErrorIs(t, badRole.Validate(), ErrInvalidRole)

	badID := Identity{ID: "no spaces allowed", Role: RoleStudent}
	assert.ErrorIs(t, badID.Validate(), ErrInvalidUserID)
}

func TestHomeworkDraftValidate(t *testing.T) {
	due := time.Now().Add(48 * time.Hour)

	good := HomeworkDraft{ClassID: "c-1", Title: "Chapter 3 problems", DueAt: due}
	require.NoError(t, good.Validate())

	missingTitle := HomeworkDraft{ClassID: "c-1", DueAt: due}
	assert.ErrorIs(t, missingTitle.Validate(), ErrInvalidDraft)

	missingClass := HomeworkDraft{Title: "orphan", DueAt: due}
	assert.ErrorIs(t, missingClass.Validate(), ErrInvalidDraft)

	missingDue := HomeworkDraft{ClassID: "c-1", Title: "no deadline"}
	assert.ErrorIs(t, missingDue.Validate(), ErrInvalidDraft)
}

func TestCalendarEventValidate(t *testing.T) {
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	good := CalendarEvent{Title: "Lab", Kind: EventKindLesson, Start: start, End: start.Add(time.Hour)}
	require.NoError(t, good.Validate())

	noTitle := CalendarEvent{Kind: EventKindExam, Start: start}
	assert.ErrorIs(t, noTitle.Validate(), ErrInvalidEvent)

	badKind := CalendarEvent{Title: "x", Kind: "party", Start: start}
	assert.ErrorIs(t, badKind.Validate(), ErrInvalidEvent)

	backwards := CalendarEvent{Title: "x", Kind: EventKindExam, Start: start, End: start.Add(-time.Hour)}
	assert.ErrorIs(t, backwards.Validate(), ErrInvalidEvent)
}
