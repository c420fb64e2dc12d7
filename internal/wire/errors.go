package wire

import (
	"fmt"

	"github.com/jfoltran/pgcdc/internal/cellmodel"
)

// DecodeError is the taxonomy of hard failures a wire decoder can
// raise. A single row or event failing to decode aborts the current
// batch and the pipeline run; there is no per-row skip.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return e.Reason }

func decodeErrf(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// MessageNotSupportedError is raised for replication message kinds
// the decoder deliberately does not implement (Origin, Truncate).
type MessageNotSupportedError struct {
	Kind string
}

func (e *MessageNotSupportedError) Error() string {
	return fmt.Sprintf("replication message not supported: %s", e.Kind)
}

// UnchangedToastNotSupportedError is raised when a tuple column
// carries the "unchanged TOAST" sentinel, which this decoder rejects
// rather than silently filling with a stale or zero value. Running
// with REPLICA IDENTITY FULL (or an equivalent) avoids it.
type UnchangedToastNotSupportedError struct {
	Column string
}

func (e *UnchangedToastNotSupportedError) Error() string {
	return fmt.Sprintf("unchanged TOAST value for column %q is not supported", e.Column)
}

// MissingTupleInDeleteBodyError is raised when a Delete message
// carries neither a key tuple nor an old tuple.
type MissingTupleInDeleteBodyError struct{}

func (e *MissingTupleInDeleteBodyError) Error() string {
	return "delete message has neither a key tuple nor an old tuple"
}

// MissingSchemaError is raised when an Insert, Update or Delete message
// references a table id the decoder has no schema for.
type MissingSchemaError struct {
	TableID cellmodel.TableID
}

func (e *MissingSchemaError) Error() string {
	return fmt.Sprintf("missing schema for table id %d", e.TableID)
}

// UnknownReplicationMessageError is raised for a top-level logical
// replication message type this decoder has never heard of.
type UnknownReplicationMessageError struct {
	Type byte
}

func (e *UnknownReplicationMessageError) Error() string {
	return fmt.Sprintf("unknown replication message type %q", e.Type)
}

// InvalidUTF8Error is raised when a text-format tuple column is not
// valid UTF-8.
type InvalidUTF8Error struct {
	Column string
}

func (e *InvalidUTF8Error) Error() string {
	return fmt.Sprintf("column %q is not valid UTF-8", e.Column)
}
