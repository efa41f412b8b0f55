package types

import "errors"

var (
	ErrUnknownEvent     = errors.New("unknown event name")
	ErrInvalidPayload   = errors.New("payload does not match event shape")
	ErrInvalidUserID    = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidClassCode = errors.New("class code must be 4-12 uppercase alphanumeric characters")
	ErrInvalidRole      = errors.New("role must be 'teacher' or 'student'")
	ErrInvalidDraft     = errors.New("homework draft is missing required fields")
	ErrInvalidEvent     = errors.New("calendar event is invalid")
)
