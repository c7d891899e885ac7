package relay

import "errors"

// Relay errors
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidDocument  = errors.New("invalid document")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrServerClosed     = errors.New("relay is closed")
	ErrInvalidConfig    = errors.New("invalid relay configuration")
)
