// Package pipeline is the orchestrator: it wires a sourceport.Source
// and a sinkport.Sink together through the batch-timeout stream and
// drives them through the schema-snapshot, table-copy, and CDC phases
// a run goes through, resuming exactly where the sink last
// checkpointed.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfoltran/pgcdc/internal/batch"
	"github.com/jfoltran/pgcdc/internal/cellmodel"
	"github.com/jfoltran/pgcdc/internal/sinkport"
	"github.com/jfoltran/pgcdc/internal/sourceport"
	"github.com/jfoltran/pgcdc/internal/wire"
	"github.com/jfoltran/pgcdc/pkg/lsn"
)

// ActionKind selects which phases of a run execute. CdcOnly and
// TableCopiesOnly are strict prefixes/suffixes of Both's sequence.
type ActionKind int

const (
	Both ActionKind = iota
	TableCopiesOnly
	CdcOnly
)

// Config carries the run-wide batching parameters; both the copy
// phase and the CDC phase share the same batch-timeout configuration.
type Config struct {
	Batch batch.Config
}

// Progress reports the orchestrator's current phase for status
// reporting.
type Progress struct {
	Phase        string
	TablesTotal  int
	TablesCopied int
	LastLSN      lsn.LSN
	StartedAt    time.Time
}

// Pipeline drives one Source/Sink pair through a single run. It holds
// no durable state of its own: every checkpoint lives in the sink.
type Pipeline struct {
	source sourceport.Source
	sink   sinkport.Sink
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	progress Progress
}

// New creates a Pipeline over an already-connected Source and Sink.
func New(source sourceport.Source, sink sinkport.Sink, cfg Config, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		source:   source,
		sink:     sink,
		cfg:      cfg,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		progress: Progress{Phase: "idle"},
	}
}

// Status returns a snapshot of the orchestrator's current progress.
func (p *Pipeline) Status() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// Close releases the source's connections. The sink is owned by the
// caller and is not closed here.
func (p *Pipeline) Close(ctx context.Context) error {
	return p.source.Close(ctx)
}

// Run executes the phase sequence for the requested action: resume →
// schemas → (table copies → commit snapshot) → CDC, skipping the
// copy phase for CdcOnly and stopping before CDC for TableCopiesOnly.
func (p *Pipeline) Run(ctx context.Context, action ActionKind) error {
	p.setPhase("resuming")
	resumption, err := p.sink.GetResumptionState(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: get resumption state: %w", err)
	}

	// The replication slot must exist, and its exported snapshot must
	// be captured, before any table copy begins: otherwise the copy
	// and the CDC stream's starting point would see different views
	// of the data.
	startLSN, err := p.source.PrepareReplication(ctx, resumption.LastLSN)
	if err != nil {
		return fmt.Errorf("pipeline: prepare replication: %w", err)
	}

	p.setPhase("schema")
	schemas, err := p.source.GetTableSchemas(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: get table schemas: %w", err)
	}
	if err := p.sink.WriteTableSchemas(ctx, schemas); err != nil {
		return fmt.Errorf("pipeline: write table schemas: %w", err)
	}

	if action != CdcOnly {
		if err := p.runTableCopies(ctx, schemas, resumption); err != nil {
			return err
		}
		if err := p.source.CommitTransaction(ctx); err != nil {
			return fmt.Errorf("pipeline: commit snapshot transaction: %w", err)
		}
	}

	if action == TableCopiesOnly {
		p.setPhase("done")
		return nil
	}

	p.setPhase("streaming")
	return p.runCDC(ctx, startLSN)
}

// runTableCopies copies every table not already present in the sink's
// resumption state, in a deterministic (ID-ascending) order so two
// runs over the same catalog behave identically.
func (p *Pipeline) runTableCopies(ctx context.Context, schemas map[cellmodel.TableID]cellmodel.TableSchema, resumption sinkport.ResumptionState) error {
	p.setPhase("copy")

	ids := make([]cellmodel.TableID, 0, len(schemas))
	for id := range schemas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	p.mu.Lock()
	p.progress.TablesTotal = len(ids)
	p.mu.Unlock()

	for _, id := range ids {
		table := schemas[id]
		if resumption.CopiedTables[id] {
			p.logger.Info().Str("table", table.QualifiedName()).Msg("already copied, skipping")
			p.bumpTablesCopied()
			continue
		}
		if err := p.copyTable(ctx, table); err != nil {
			return fmt.Errorf("pipeline: copy %s: %w", table.QualifiedName(), err)
		}
		p.bumpTablesCopied()
	}
	return nil
}

func (p *Pipeline) copyTable(ctx context.Context, table cellmodel.TableSchema) error {
	p.logger.Info().Str("table", table.QualifiedName()).Msg("truncating")
	if err := p.sink.TruncateTable(ctx, table.ID); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}

	results, err := p.source.GetTableCopyStream(ctx, table)
	if err != nil {
		return fmt.Errorf("open copy stream: %w", err)
	}

	rows := make(chan cellmodel.TableRow)
	firstErr := make(chan error, 1)
	go func() {
		defer close(rows)
		for res := range results {
			if res.Err != nil {
				firstErr <- res.Err
				return
			}
			select {
			case rows <- res.Row:
			case <-ctx.Done():
				return
			}
		}
	}()

	batches := batch.Run(ctx, rows, p.cfg.Batch)
	for b := range batches {
		select {
		case err := <-firstErr:
			return fmt.Errorf("copy stream: %w", err)
		default:
		}
		if err := p.sink.WriteTableRows(ctx, table.ID, b); err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
	}

	select {
	case err := <-firstErr:
		return fmt.Errorf("copy stream: %w", err)
	default:
	}

	p.logger.Info().Str("table", table.QualifiedName()).Msg("copy complete")
	return p.sink.TableCopied(ctx, table.ID)
}

func (p *Pipeline) bumpTablesCopied() {
	p.mu.Lock()
	p.progress.TablesCopied++
	p.mu.Unlock()
}

// runCDC streams decoded events from startLSN, batches them, and
// applies each batch to the sink, recording the sink's returned
// checkpoint LSN as the new resume point after every batch.
func (p *Pipeline) runCDC(ctx context.Context, startLSN lsn.LSN) error {
	results, err := p.source.GetCdcStream(ctx, startLSN)
	if err != nil {
		return fmt.Errorf("pipeline: open cdc stream: %w", err)
	}

	events := make(chan wire.CdcEvent)
	firstErr := make(chan error, 1)
	go func() {
		defer close(events)
		for res := range results {
			if res.Err != nil {
				firstErr <- res.Err
				return
			}
			select {
			case events <- res.Event:
			case <-ctx.Done():
				return
			}
		}
	}()

	prevLSN := startLSN
	prevAt := time.Now()

	batches := batch.Run(ctx, events, p.cfg.Batch)
	for b := range batches {
		select {
		case err := <-firstErr:
			return fmt.Errorf("pipeline: cdc stream: %w", err)
		default:
		}
		newLSN, err := p.sink.WriteCDCEvents(ctx, b)
		if err != nil {
			return fmt.Errorf("pipeline: write cdc events: %w", err)
		}
		p.mu.Lock()
		p.progress.LastLSN = newLSN
		p.mu.Unlock()

		now := time.Now()
		p.logger.Info().
			Int("events", len(b)).
			Stringer("lsn", newLSN).
			Str("lag", lsn.FormatLag(lsn.Lag(prevLSN, newLSN), now.Sub(prevAt))).
			Msg("applied cdc batch")
		prevLSN, prevAt = newLSN, now
	}

	select {
	case err := <-firstErr:
		return fmt.Errorf("pipeline: cdc stream: %w", err)
	default:
	}
	return ctx.Err()
}

func (p *Pipeline) setPhase(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress.Phase = phase
	if p.progress.StartedAt.IsZero() {
		p.progress.StartedAt = time.Now()
	}
	p.logger.Info().Str("phase", phase).Msg("phase transition")
}
