package feed

import (
	"errors"
	"fmt"
	"strings"
)

// Operation enumerates row-level mutation kinds carried by the change feed.
type Operation string

const (
	// OperationInsert represents a newly created row.
	OperationInsert Operation = "insert"
	// OperationUpdate represents a mutated row.
	OperationUpdate Operation = "update"
	// OperationDelete represents a removed row.
	OperationDelete Operation = "delete"
)

// Channel names published by the backing store.
const (
	ChannelDirectMessages    = "direct_messages"
	ChannelCommunityMessages = "community_messages"
)

// ErrInvalidOperation indicates an unrecognized mutation kind.
var ErrInvalidOperation = errors.New("feed: invalid operation")

// ParseOperation validates raw input and returns an Operation.
func ParseOperation(raw string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(OperationInsert):
		return OperationInsert, nil
	case string(OperationUpdate):
		return OperationUpdate, nil
	case string(OperationDelete):
		return OperationDelete, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOperation, raw)
	}
}

// Row is the loosely typed payload of a change event.
type Row map[string]any

// String returns the row value under key rendered as a string, or "" when the
// key is absent or not string-like.
func (r Row) String(key string) string {
	if r == nil {
		return ""
	}
	value, ok := r[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return typed
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprintf("%v", typed)
	}
}

// ChangeEvent is one row-level mutation delivered by the change feed. It is
// ephemeral: produced by the feed, consumed once by each subscriber.
type ChangeEvent struct {
	Operation Operation `json:"operation"`
	Channel   string    `json:"channel"`
	New       Row       `json:"new,omitempty"`
	Old       Row       `json:"old,omitempty"`
}
