package errors

import "errors"

var (
	ErrValidation      = errors.New("validation failed")
	ErrTransport       = errors.New("transport failed")
	ErrParse           = errors.New("manifest parse failed")
	ErrNoFiles         = errors.New("no files in manifest")
	ErrMissingStudyID  = errors.New("study id missing")
	ErrPoolStarted     = errors.New("worker pool already started")
	ErrSessionStarted  = errors.New("session already started")
	ErrSessionNotFound = errors.New("session not found")
)
