// Package memsink is an in-memory sinkport.Sink used by pipeline
// tests and local experimentation: it applies the same insert/update/
// delete decisions a real warehouse sink would, against plain Go maps
// instead of a destination connection.
package memsink

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jfoltran/pgcdc/internal/cellmodel"
	"github.com/jfoltran/pgcdc/internal/sinkport"
	"github.com/jfoltran/pgcdc/internal/wire"
	"github.com/jfoltran/pgcdc/pkg/lsn"
)

// Sink holds each table's rows as a primary-key-keyed map plus an
// insertion-order slice, so both "replay the CDC log" and "read the
// copy back out in order" are cheap.
type Sink struct {
	mu sync.Mutex

	logger zerolog.Logger

	schemas map[cellmodel.TableID]cellmodel.TableSchema
	order   map[cellmodel.TableID][]string
	rows    map[cellmodel.TableID]map[string]cellmodel.TableRow
	copied  map[cellmodel.TableID]bool
	lastLSN lsn.LSN
}

// New returns an empty Sink. A fresh Sink's GetResumptionState is
// always the zero state, matching a sink that has never run before.
func New(logger zerolog.Logger) *Sink {
	return &Sink{
		logger:  logger.With().Str("component", "memsink").Logger(),
		schemas: make(map[cellmodel.TableID]cellmodel.TableSchema),
		order:   make(map[cellmodel.TableID][]string),
		rows:    make(map[cellmodel.TableID]map[string]cellmodel.TableRow),
		copied:  make(map[cellmodel.TableID]bool),
	}
}

var _ sinkport.Sink = (*Sink)(nil)

func (s *Sink) GetResumptionState(ctx context.Context) (sinkport.ResumptionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copiedCopy := make(map[cellmodel.TableID]bool, len(s.copied))
	for id, v := range s.copied {
		copiedCopy[id] = v
	}
	return sinkport.ResumptionState{CopiedTables: copiedCopy, LastLSN: s.lastLSN}, nil
}

func (s *Sink) WriteTableSchemas(ctx context.Context, schemas map[cellmodel.TableID]cellmodel.TableSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range schemas {
		s.schemas[id] = t
	}
	return nil
}

func (s *Sink) TruncateTable(ctx context.Context, id cellmodel.TableID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id] = make(map[string]cellmodel.TableRow)
	s.order[id] = nil
	return nil
}

func (s *Sink) WriteTableRows(ctx context.Context, id cellmodel.TableID, rows []cellmodel.TableRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	schema, ok := s.schemas[id]
	if !ok {
		return fmt.Errorf("memsink: write rows for unknown table %d", id)
	}
	if s.rows[id] == nil {
		s.rows[id] = make(map[string]cellmodel.TableRow)
	}
	for _, row := range rows {
		key, ok := primaryKey(schema, row)
		if !ok {
			key = fmt.Sprintf("#%d", len(s.order[id]))
		}
		if _, exists := s.rows[id][key]; !exists {
			s.order[id] = append(s.order[id], key)
		}
		s.rows[id][key] = row
	}
	return nil
}

func (s *Sink) TableCopied(ctx context.Context, id cellmodel.TableID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.copied[id] = true
	return nil
}

// WriteCDCEvents applies a batch of decoded events in order: Insert and
// Update upsert by primary key, Delete removes by the replica identity
// row.
func (s *Sink) WriteCDCEvents(ctx context.Context, events []wire.CdcEvent) (lsn.LSN, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		switch ev.Kind {
		case wire.EventRelation:
			if ev.Schema != nil {
				s.schemas[ev.TableID] = *ev.Schema
			}
		case wire.EventInsert, wire.EventUpdate:
			if ev.NewRow == nil {
				continue
			}
			schema, ok := s.schemas[ev.TableID]
			if !ok {
				return s.lastLSN, fmt.Errorf("memsink: apply %s on unknown table %d", eventName(ev.Kind), ev.TableID)
			}
			if s.rows[ev.TableID] == nil {
				s.rows[ev.TableID] = make(map[string]cellmodel.TableRow)
			}
			key, ok := primaryKey(schema, *ev.NewRow)
			if !ok {
				key = fmt.Sprintf("#%d", len(s.order[ev.TableID]))
			}
			if _, exists := s.rows[ev.TableID][key]; !exists {
				s.order[ev.TableID] = append(s.order[ev.TableID], key)
			}
			s.rows[ev.TableID][key] = *ev.NewRow

		case wire.EventDelete:
			schema, ok := s.schemas[ev.TableID]
			if !ok {
				return s.lastLSN, fmt.Errorf("memsink: apply delete on unknown table %d", ev.TableID)
			}
			identity := ev.KeyRow
			if identity == nil {
				identity = ev.OldRow
			}
			if identity == nil {
				continue
			}
			key, ok := primaryKey(schema, *identity)
			if !ok {
				continue
			}
			delete(s.rows[ev.TableID], key)
			s.order[ev.TableID] = removeKey(s.order[ev.TableID], key)

		case wire.EventCommit:
			s.lastLSN = ev.CommitLSN
		}
	}
	return s.lastLSN, nil
}

// Rows returns a table's current rows in first-write order, for tests
// to assert against.
func (s *Sink) Rows(id cellmodel.TableID) []cellmodel.TableRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cellmodel.TableRow, 0, len(s.order[id]))
	for _, key := range s.order[id] {
		if row, ok := s.rows[id][key]; ok {
			out = append(out, row)
		}
	}
	return out
}

func primaryKey(schema cellmodel.TableSchema, row cellmodel.TableRow) (string, bool) {
	var parts []string
	for _, col := range schema.Columns {
		if col.PKPosition == 0 {
			continue
		}
		idx := columnIndex(schema, col.Name)
		if idx < 0 || idx >= len(row) {
			return "", false
		}
		parts = append(parts, row[idx].String())
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\x1f"), true
}

func columnIndex(schema cellmodel.TableSchema, name string) int {
	for i, c := range schema.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func removeKey(keys []string, target string) []string {
	for i, k := range keys {
		if k == target {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}

func eventName(k wire.EventKind) string {
	switch k {
	case wire.EventInsert:
		return "insert"
	case wire.EventUpdate:
		return "update"
	case wire.EventDelete:
		return "delete"
	default:
		return "event"
	}
}
