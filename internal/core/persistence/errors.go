package persistence

import "errors"

// Persistence errors. ErrSaveFailed must reach the user.
var (
	ErrSaveFailed    = errors.New("failed to save document")
	ErrLoadFailed    = errors.New("failed to load document")
	ErrNotFound      = errors.New("document not found")
	ErrInvalidConfig = errors.New("invalid persistence configuration")
)
