// Package sinkport defines the abstract batching sink the pipeline
// orchestrator writes to: BigQuery (internal/bqsink) and an in-memory
// reference sink (internal/memsink) both implement it.
package sinkport

import (
	"context"

	"github.com/jfoltran/pgcdc/internal/cellmodel"
	"github.com/jfoltran/pgcdc/internal/wire"
	"github.com/jfoltran/pgcdc/pkg/lsn"
)

// ResumptionState is the authoritative resume point a sink hands back
// to the orchestrator at the start of a run. The pipeline itself is
// stateless across restarts; this is the only persisted state.
type ResumptionState struct {
	CopiedTables map[cellmodel.TableID]bool
	LastLSN      lsn.LSN
}

// Sink is the single source of truth for durability: the pipeline
// never persists its own checkpoint, only asks the sink for one and
// reports progress back through WriteCDCEvents/TableCopied.
type Sink interface {
	// GetResumptionState returns the authoritative resume point. A
	// sink with no prior state returns an empty set and LSN zero.
	GetResumptionState(ctx context.Context) (ResumptionState, error)

	// WriteTableSchemas idempotently materializes the schema catalog.
	// Called unconditionally at the start of every run.
	WriteTableSchemas(ctx context.Context, schemas map[cellmodel.TableID]cellmodel.TableSchema) error

	// TruncateTable prepares a table for a fresh copy pass. Must be
	// safe to call when the table does not yet exist at the sink.
	TruncateTable(ctx context.Context, id cellmodel.TableID) error

	// WriteTableRows bulk-writes one batch of a table's copy stream.
	WriteTableRows(ctx context.Context, id cellmodel.TableID, rows []cellmodel.TableRow) error

	// TableCopied persists that a table's snapshot copy is complete;
	// this populates ResumptionState.CopiedTables on the next run.
	TableCopied(ctx context.Context, id cellmodel.TableID) error

	// WriteCDCEvents applies one batch as the batcher cut it, by size
	// or fill time; a batch can end on any event, not only on a
	// Commit or KeepAliveRequested. It returns the durable LSN to
	// resume CDC from on the next run.
	WriteCDCEvents(ctx context.Context, events []wire.CdcEvent) (lsn.LSN, error)
}
