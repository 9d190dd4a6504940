package errors

import "errors"

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrInvalidTaskID  = errors.New("task id contains unsupported characters")
	ErrStateCorrupt   = errors.New("state file corrupt")
	ErrStoreClosed    = errors.New("remote store closed")
	ErrObjectNotFound = errors.New("remote object not found")
	ErrSessionActive  = errors.New("a session is already active")
)
