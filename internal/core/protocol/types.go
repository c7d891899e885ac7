package protocol

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DocumentID scopes a live session and its save requests. It is taken from
// the session's address (the "doc" query parameter) and never changes for
// the lifetime of a session.
type DocumentID int64

// QueryParam is the query parameter carrying the DocumentID.
const QueryParam = "doc"

// ParseDocumentID parses the decimal form used in URLs.
func ParseDocumentID(s string) (DocumentID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidDocumentID, "%q", s)
	}
	return DocumentID(id), nil
}

func (id DocumentID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// MessageType is the tag of a SyncMessage.
type MessageType string

const (
	// TypeLoad asks the server for a snapshot (client to server).
	TypeLoad MessageType = "load"
	// TypeInitial carries the full snapshot (server to client).
	TypeInitial MessageType = "initial"
	// TypeEdit carries an incremental operation (both directions).
	TypeEdit MessageType = "edit"
)

func (t MessageType) String() string {
	return string(t)
}
