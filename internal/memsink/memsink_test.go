package memsink

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jfoltran/pgcdc/internal/cellmodel"
	"github.com/jfoltran/pgcdc/internal/wire"
	"github.com/jfoltran/pgcdc/pkg/lsn"
)

func testSchema() cellmodel.TableSchema {
	return cellmodel.TableSchema{
		ID:        1,
		Namespace: "public",
		Relation:  "orders",
		Columns: []cellmodel.ColumnSchema{
			{Name: "id", PKPosition: 1},
			{Name: "total"},
		},
	}
}

func TestWriteTableRowsThenTableCopied(t *testing.T) {
	ctx := context.Background()
	s := New(zerolog.Nop())
	schema := testSchema()

	if err := s.WriteTableSchemas(ctx, map[cellmodel.TableID]cellmodel.TableSchema{schema.ID: schema}); err != nil {
		t.Fatalf("write schemas: %v", err)
	}
	if err := s.TruncateTable(ctx, schema.ID); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	rows := []cellmodel.TableRow{
		{cellmodel.I32(1), cellmodel.I32(10)},
		{cellmodel.I32(2), cellmodel.I32(20)},
	}
	if err := s.WriteTableRows(ctx, schema.ID, rows); err != nil {
		t.Fatalf("write rows: %v", err)
	}
	if err := s.TableCopied(ctx, schema.ID); err != nil {
		t.Fatalf("table copied: %v", err)
	}

	state, err := s.GetResumptionState(ctx)
	if err != nil {
		t.Fatalf("resumption state: %v", err)
	}
	if !state.CopiedTables[schema.ID] {
		t.Error("expected table marked copied")
	}
	if got := s.Rows(schema.ID); len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
}

func TestWriteCDCEventsUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New(zerolog.Nop())
	schema := testSchema()

	if err := s.WriteTableSchemas(ctx, map[cellmodel.TableID]cellmodel.TableSchema{schema.ID: schema}); err != nil {
		t.Fatalf("write schemas: %v", err)
	}

	insertRow := cellmodel.TableRow{cellmodel.I32(1), cellmodel.I32(10)}
	updateRow := cellmodel.TableRow{cellmodel.I32(1), cellmodel.I32(99)}
	events := []wire.CdcEvent{
		{Kind: wire.EventInsert, TableID: schema.ID, NewRow: &insertRow},
		{Kind: wire.EventUpdate, TableID: schema.ID, NewRow: &updateRow},
		{Kind: wire.EventCommit, CommitLSN: lsn.LSN(42)},
	}

	resumeLSN, err := s.WriteCDCEvents(ctx, events)
	if err != nil {
		t.Fatalf("write cdc events: %v", err)
	}
	if resumeLSN != lsn.LSN(42) {
		t.Errorf("resume lsn = %v, want 42", resumeLSN)
	}

	got := s.Rows(schema.ID)
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	if total, err := got[0][1].AsI32(); err != nil || total != 99 {
		t.Errorf("row total = %v, %v, want 99, nil", total, err)
	}

	keyRow := cellmodel.TableRow{cellmodel.I32(1), cellmodel.Null()}
	delEvents := []wire.CdcEvent{
		{Kind: wire.EventDelete, TableID: schema.ID, KeyRow: &keyRow},
	}
	if _, err := s.WriteCDCEvents(ctx, delEvents); err != nil {
		t.Fatalf("write delete event: %v", err)
	}
	if got := s.Rows(schema.ID); len(got) != 0 {
		t.Fatalf("got %d rows after delete, want 0", len(got))
	}
}

func TestGetResumptionStateIsEmptyForFreshSink(t *testing.T) {
	s := New(zerolog.Nop())
	state, err := s.GetResumptionState(context.Background())
	if err != nil {
		t.Fatalf("resumption state: %v", err)
	}
	if len(state.CopiedTables) != 0 {
		t.Errorf("expected no copied tables, got %v", state.CopiedTables)
	}
	if state.LastLSN != lsn.Zero {
		t.Errorf("expected zero LSN, got %v", state.LastLSN)
	}
}
