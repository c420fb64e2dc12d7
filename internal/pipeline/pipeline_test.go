package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfoltran/pgcdc/internal/batch"
	"github.com/jfoltran/pgcdc/internal/cellmodel"
	"github.com/jfoltran/pgcdc/internal/sinkport"
	"github.com/jfoltran/pgcdc/internal/sourceport"
	"github.com/jfoltran/pgcdc/internal/wire"
	"github.com/jfoltran/pgcdc/pkg/lsn"
)

// fakeSource and fakeSink below implement sourceport.Source and
// sinkport.Sink in memory and record every call in order, so a test
// can assert on the exact sequence the orchestrator issues.

type fakeSource struct {
	schemas     map[cellmodel.TableID]cellmodel.TableSchema
	tableRows   map[cellmodel.TableID][]cellmodel.TableRow
	cdcEvents   []wire.CdcEvent
	calls       *[]string
	committed   bool
	gotStartLSN lsn.LSN
}

func (f *fakeSource) PrepareReplication(ctx context.Context, resumeLSN lsn.LSN) (lsn.LSN, error) {
	*f.calls = append(*f.calls, "prepare_replication")
	if resumeLSN == lsn.Zero {
		return resumeLSN, nil
	}
	return resumeLSN.Next(), nil
}

func (f *fakeSource) GetTableSchemas(ctx context.Context) (map[cellmodel.TableID]cellmodel.TableSchema, error) {
	*f.calls = append(*f.calls, "get_table_schemas")
	return f.schemas, nil
}

func (f *fakeSource) GetTableCopyStream(ctx context.Context, table cellmodel.TableSchema) (<-chan sourceport.RowResult, error) {
	out := make(chan sourceport.RowResult, len(f.tableRows[table.ID]))
	for _, row := range f.tableRows[table.ID] {
		out <- sourceport.RowResult{Row: row}
	}
	close(out)
	return out, nil
}

func (f *fakeSource) CommitTransaction(ctx context.Context) error {
	*f.calls = append(*f.calls, "commit_transaction")
	f.committed = true
	return nil
}

func (f *fakeSource) GetCdcStream(ctx context.Context, startLSN lsn.LSN) (<-chan sourceport.EventResult, error) {
	f.gotStartLSN = startLSN
	out := make(chan sourceport.EventResult, len(f.cdcEvents))
	for _, ev := range f.cdcEvents {
		out <- sourceport.EventResult{Event: ev}
	}
	close(out)
	return out, nil
}

func (f *fakeSource) Close(ctx context.Context) error { return nil }

type fakeSink struct {
	resumption sinkport.ResumptionState
	calls      *[]string
	written    map[cellmodel.TableID]int
}

func (f *fakeSink) GetResumptionState(ctx context.Context) (sinkport.ResumptionState, error) {
	*f.calls = append(*f.calls, "get_resumption_state")
	return f.resumption, nil
}

func (f *fakeSink) WriteTableSchemas(ctx context.Context, schemas map[cellmodel.TableID]cellmodel.TableSchema) error {
	*f.calls = append(*f.calls, "write_table_schemas")
	return nil
}

func (f *fakeSink) TruncateTable(ctx context.Context, id cellmodel.TableID) error {
	*f.calls = append(*f.calls, fmt.Sprintf("truncate_table(%d)", id))
	return nil
}

func (f *fakeSink) WriteTableRows(ctx context.Context, id cellmodel.TableID, rows []cellmodel.TableRow) error {
	*f.calls = append(*f.calls, fmt.Sprintf("write_table_rows(_,%d)", id))
	if f.written == nil {
		f.written = make(map[cellmodel.TableID]int)
	}
	f.written[id] += len(rows)
	return nil
}

func (f *fakeSink) TableCopied(ctx context.Context, id cellmodel.TableID) error {
	*f.calls = append(*f.calls, fmt.Sprintf("table_copied(%d)", id))
	return nil
}

func (f *fakeSink) WriteCDCEvents(ctx context.Context, events []wire.CdcEvent) (lsn.LSN, error) {
	*f.calls = append(*f.calls, "write_cdc_events")
	var last lsn.LSN
	for _, ev := range events {
		if ev.Kind == wire.EventCommit {
			last = ev.CommitLSN
		}
	}
	return last, nil
}

func schemaFor(id cellmodel.TableID, relation string) cellmodel.TableSchema {
	return cellmodel.TableSchema{
		ID:        id,
		Namespace: "public",
		Relation:  relation,
		Columns:   []cellmodel.ColumnSchema{{Name: "id", PKPosition: 1}},
	}
}

func TestRunBothSkipsCopiedTablesAndResumesAtLSNPlusOne(t *testing.T) {
	var calls []string

	schemas := map[cellmodel.TableID]cellmodel.TableSchema{
		1: schemaFor(1, "a"),
		2: schemaFor(2, "b"),
		3: schemaFor(3, "c"),
	}
	tableRows := map[cellmodel.TableID][]cellmodel.TableRow{
		2: {{cellmodel.I32(1)}, {cellmodel.I32(2)}},
		3: {{cellmodel.I32(1)}},
	}
	commitEvent := wire.CdcEvent{Kind: wire.EventCommit, CommitLSN: lsn.LSN(150)}

	src := &fakeSource{schemas: schemas, tableRows: tableRows, cdcEvents: []wire.CdcEvent{commitEvent}, calls: &calls}
	sink := &fakeSink{
		resumption: sinkport.ResumptionState{CopiedTables: map[cellmodel.TableID]bool{1: true}, LastLSN: lsn.LSN(100)},
		calls:      &calls,
	}

	p := New(src, sink, Config{Batch: batch.Config{MaxSize: 100, MaxFillDuration: time.Hour}}, zerolog.Nop())

	if err := p.Run(context.Background(), Both); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{
		"get_resumption_state",
		"prepare_replication",
		"get_table_schemas",
		"write_table_schemas",
		"truncate_table(2)",
		"write_table_rows(_,2)",
		"table_copied(2)",
		"truncate_table(3)",
		"write_table_rows(_,3)",
		"table_copied(3)",
		"commit_transaction",
		"write_cdc_events",
	}
	if len(calls) != len(want) {
		t.Fatalf("got %d calls %v, want %d calls %v", len(calls), calls, len(want), want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q (full: %v)", i, calls[i], want[i], calls)
		}
	}

	if src.gotStartLSN != lsn.LSN(101) {
		t.Errorf("cdc start lsn = %v, want 101", src.gotStartLSN)
	}
	if !src.committed {
		t.Error("expected snapshot transaction committed")
	}
	if sink.written[2] != 2 || sink.written[3] != 1 {
		t.Errorf("written row counts = %v, want {2:2, 3:1}", sink.written)
	}

	status := p.Status()
	if status.Phase != "streaming" {
		t.Errorf("final phase = %q, want streaming", status.Phase)
	}
	if status.LastLSN != lsn.LSN(150) {
		t.Errorf("final lsn = %v, want 150", status.LastLSN)
	}
}

func TestRunTableCopiesOnlySkipsCDC(t *testing.T) {
	var calls []string
	schemas := map[cellmodel.TableID]cellmodel.TableSchema{1: schemaFor(1, "a")}
	src := &fakeSource{schemas: schemas, tableRows: map[cellmodel.TableID][]cellmodel.TableRow{1: {{cellmodel.I32(1)}}}, calls: &calls}
	sink := &fakeSink{resumption: sinkport.ResumptionState{CopiedTables: map[cellmodel.TableID]bool{}}, calls: &calls}

	p := New(src, sink, Config{Batch: batch.Config{MaxSize: 10, MaxFillDuration: time.Second}}, zerolog.Nop())
	if err := p.Run(context.Background(), TableCopiesOnly); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, c := range calls {
		if c == "write_cdc_events" {
			t.Fatalf("did not expect cdc events for TableCopiesOnly, got calls: %v", calls)
		}
	}
	if p.Status().Phase != "done" {
		t.Errorf("phase = %q, want done", p.Status().Phase)
	}
}

func TestRunCdcOnlySkipsTableCopies(t *testing.T) {
	var calls []string
	schemas := map[cellmodel.TableID]cellmodel.TableSchema{1: schemaFor(1, "a")}
	src := &fakeSource{schemas: schemas, cdcEvents: []wire.CdcEvent{{Kind: wire.EventCommit, CommitLSN: lsn.LSN(5)}}, calls: &calls}
	sink := &fakeSink{resumption: sinkport.ResumptionState{LastLSN: lsn.LSN(0)}, calls: &calls}

	p := New(src, sink, Config{Batch: batch.Config{MaxSize: 10, MaxFillDuration: time.Second}}, zerolog.Nop())
	if err := p.Run(context.Background(), CdcOnly); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, c := range calls {
		if c == "commit_transaction" || c == "table_copied(1)" {
			t.Fatalf("did not expect table-copy calls for CdcOnly, got: %v", calls)
		}
	}
	if src.committed {
		t.Error("source should not be committed for CdcOnly")
	}
}
