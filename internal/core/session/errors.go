package session

import "errors"

// Session channel errors
var (
	ErrNotOpen        = errors.New("session channel is not open")
	ErrClosed         = errors.New("session channel is closed")
	ErrAlreadyStarted = errors.New("session channel already started")
	ErrDialFailed     = errors.New("failed to connect session channel")
	ErrInvalidConfig  = errors.New("invalid session channel configuration")
)
