package types

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Compiled once at package initialization; validation runs on every emit.
var (
	userIDRegex    = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)
	classCodeRegex = regexp.MustCompile(`^[A-Z0-9]{4,12}$`)

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// IsValidUserID checks identity and member ID format.
func IsValidUserID(id string) bool {
	return userIDRegex.MatchString(id)
}

// IsValidClassCode checks the human-shareable class code format.
func IsValidClassCode(code string) bool {
	return classCodeRegex.MatchString(code)
}

// Validate checks the identity supplied by the external provider.
func (i Identity) Validate() error {
	if !IsValidUserID(i.ID) {
		return ErrInvalidUserID
	}
	if i.Role != RoleTeacher && i.Role != RoleStudent {
		return ErrInvalidRole
	}
	return nil
}

// Validate checks the required fields of a homework draft before the
// publish emit. Validation failure prevents the emit entirely.
func (d HomeworkDraft) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	return nil
}

// Validate checks a manual calendar entry before it is mirrored out.
func (e CalendarEvent) Validate() error {
	if e.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidEvent)
	}
	switch e.Kind {
	case EventKindLesson, EventKindHomework, EventKindExam, EventKindMeeting:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	if e.Start.IsZero() {
		return fmt.Errorf("%w: start is required", ErrInvalidEvent)
	}
	if !e.End.IsZero() && e.End.Before(e.Start) {
		return fmt.Errorf("%w: end precedes start", ErrInvalidEvent)
	}
	return nil
}
