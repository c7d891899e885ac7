package protocol

import "errors"

// Decoding errors. Every one of them means the frame is discarded.
var (
	ErrMalformed         = errors.New("malformed message")
	ErrUnknownType       = errors.New("unknown message type")
	ErrMissingField      = errors.New("required field missing")
	ErrInvalidDocumentID = errors.New("invalid document id")
)
