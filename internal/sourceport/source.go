// Package sourceport defines the abstract Postgres publication the
// pipeline orchestrator drives: schema discovery, table COPY
// streaming, and CDC streaming. It has no method for acknowledging
// applied progress back to the source. Concrete
// implementations (internal/pgsource) are the only place that talks
// to an actual Postgres connection.
package sourceport

import (
	"context"
	"fmt"

	"github.com/jfoltran/pgcdc/internal/cellmodel"
	"github.com/jfoltran/pgcdc/internal/wire"
	"github.com/jfoltran/pgcdc/pkg/lsn"
)

// RowResult and EventResult carry a decoded item or the error that
// terminated the stream early, mirroring a lazy sequence of Result<T>.
type RowResult struct {
	Row cellmodel.TableRow
	Err error
}

type EventResult struct {
	Event wire.CdcEvent
	Err   error
}

// Source presents a Postgres publication as a sequence of operations
// the orchestrator composes without knowing anything about pgx,
// pglogrepl, or connection management.
type Source interface {
	// PrepareReplication ensures the replication slot used for CDC
	// exists before the table copy phase starts. resumeLSN is the
	// sink's last durable checkpoint (lsn.Zero on a fresh run); the
	// returned LSN is the position CDC streaming must start from,
	// which on a fresh run is the slot's consistent point rather than
	// resumeLSN itself. Only the first call can create the slot; the
	// consistent point is not cached, so a later call returns a
	// position derived from resumeLSN alone.
	PrepareReplication(ctx context.Context, resumeLSN lsn.LSN) (lsn.LSN, error)

	// GetTableSchemas snapshots the publication's table catalog. The
	// result must remain stable for the duration of one pipeline run.
	GetTableSchemas(ctx context.Context) (map[cellmodel.TableID]cellmodel.TableSchema, error)

	// GetTableCopyStream opens a transaction-scoped COPY of the named
	// table and returns a channel of decoded rows, closed when the
	// COPY ends or the context is cancelled.
	GetTableCopyStream(ctx context.Context, table cellmodel.TableSchema) (<-chan RowResult, error)

	// CommitTransaction closes the snapshot transaction opened for
	// the copy phase. Called once, after every table has been copied.
	CommitTransaction(ctx context.Context) error

	// GetCdcStream starts logical replication at startLSN and returns
	// a channel of decoded events. The stream runs until the context
	// is cancelled or the connection fails.
	GetCdcStream(ctx context.Context, startLSN lsn.LSN) (<-chan EventResult, error)

	// Close releases the source's connections.
	Close(ctx context.Context) error
}

// ErrorKind classifies a SourceError for logging and retry decisions.
type ErrorKind int

const (
	ErrConnection ErrorKind = iota
	ErrCopyStream
	ErrCdcStream
	ErrStatusUpdate
)

func (k ErrorKind) String() string {
	switch k {
	case ErrConnection:
		return "connection"
	case ErrCopyStream:
		return "copy_stream"
	case ErrCdcStream:
		return "cdc_stream"
	case ErrStatusUpdate:
		return "status_update"
	default:
		return "unknown"
	}
}

// SourceError wraps a failure from the source side with the kind
// taxonomy the orchestrator and its logging rely on.
type SourceError struct {
	Kind ErrorKind
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source error (%s): %v", e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

func NewSourceError(kind ErrorKind, err error) *SourceError {
	return &SourceError{Kind: kind, Err: err}
}
