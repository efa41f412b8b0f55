package session

import "errors"

var (
	ErrNoIdentity    = errors.New("no identity known, log in before class operations")
	ErrNotTeacher    = errors.New("operation requires the teacher role")
	ErrClassNotFound = errors.New("class is not known to this client")
)
