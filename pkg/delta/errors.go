package delta

import "errors"

// Operation decoding errors
var (
	ErrMalformed      = errors.New("malformed operation")
	ErrEmptyOp        = errors.New("operation has no instruction")
	ErrAmbiguousOp    = errors.New("operation carries more than one instruction")
	ErrNegativeLength = errors.New("operation length is negative")
	ErrBadEmbed       = errors.New("embed must have exactly one key")
	ErrOutOfRange     = errors.New("operation reaches past the end of the document")
)
