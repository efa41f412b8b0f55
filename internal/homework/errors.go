package homework

import "errors"

var (
	ErrNoIdentity         = errors.New("no identity known, log in before homework operations")
	ErrNotTeacher         = errors.New("operation requires the teacher role")
	ErrNotStudent         = errors.New("operation requires the student role")
	ErrNoActiveClass      = errors.New("no class is currently active")
	ErrHomeworkNotFound   = errors.New("homework is not known to this client")
	ErrSubmissionNotFound = errors.New("submission is not known to this client")
)
