package store

import (
	"errors"
	"fmt"
)

// Reason classifies store failures for callers.
type Reason string

const (
	// ReasonUnavailable means the embedding capability or the collection
	// failed or timed out.
	ReasonUnavailable Reason = "capability-unavailable"
	// ReasonMalformed means the input or the embedder's output was unusable.
	ReasonMalformed Reason = "malformed-entry"
)

// ErrDuplicateID is returned by a Collection when an ID already exists.
var ErrDuplicateID = errors.New("duplicate entry id")

// ErrInvalidMetadata is returned by a Collection when an entry's metadata
// cannot be encoded.
var ErrInvalidMetadata = errors.New("invalid metadata")

// EmbedError is returned by EmbedAndStore. Nothing was stored.
type EmbedError struct {
	Reason Reason
	Err    error
}

func (e *EmbedError) Error() string {
	return fmt.Sprintf("store: embed: %s: %v", e.Reason, e.Err)
}

func (e *EmbedError) Unwrap() error { return e.Err }

// QueryError is returned by Query on infrastructure failure.
type QueryError struct {
	Reason Reason
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("store: query: %s: %v", e.Reason, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
