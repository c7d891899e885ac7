package engine

import "errors"

// Engine errors
var (
	ErrAlreadyStarted  = errors.New("engine already started")
	ErrNotRunning      = errors.New("engine is not running")
	ErrClosed          = errors.New("engine closed")
	ErrInitialTimeout  = errors.New("no initial snapshot received in time")
	ErrForeignDocument = errors.New("edit addressed to another document")
	ErrNotEditable     = errors.New("content model does not accept local edits")
)
