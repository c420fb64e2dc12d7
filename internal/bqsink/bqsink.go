// Package bqsink is the BigQuery implementation of sinkport.Sink. It
// speaks only the public cloud.google.com/go/bigquery API: table
// creation, the streaming Inserter, and parameterized Query/DML for
// control-table bookkeeping and CDC application.
package bqsink

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/jfoltran/pgcdc/internal/cellmodel"
	"github.com/jfoltran/pgcdc/internal/sinkport"
	"github.com/jfoltran/pgcdc/internal/wire"
	"github.com/jfoltran/pgcdc/pkg/lsn"
)

const (
	resumptionTableName = "_resumption"
	schemasTableName    = "_schemas"
)

// Config names the destination project, dataset, and the credentials
// used to authenticate the client.
type Config struct {
	ProjectID         string
	DatasetID         string
	ServiceAccountKey []byte
}

// Sink is the BigQuery-backed sinkport.Sink.
type Sink struct {
	cfg     Config
	client  *bigquery.Client
	dataset *bigquery.Dataset
	logger  zerolog.Logger

	schemas map[cellmodel.TableID]cellmodel.TableSchema
}

var _ sinkport.Sink = (*Sink)(nil)

// Connect opens a BigQuery client from a service-account key payload
// and ensures the control tables this sink depends on exist.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (*Sink, error) {
	client, err := bigquery.NewClient(ctx, cfg.ProjectID, option.WithCredentialsJSON(cfg.ServiceAccountKey))
	if err != nil {
		return nil, fmt.Errorf("bqsink: new client: %w", err)
	}
	s := &Sink{
		cfg:     cfg,
		client:  client,
		dataset: client.Dataset(cfg.DatasetID),
		logger:  logger.With().Str("component", "bqsink").Logger(),
		schemas: make(map[cellmodel.TableID]cellmodel.TableSchema),
	}
	if err := s.ensureControlTables(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureControlTables(ctx context.Context) error {
	resumption := s.dataset.Table(resumptionTableName)
	if err := resumption.Create(ctx, &bigquery.TableMetadata{
		Schema: bigquery.Schema{
			{Name: "table_id", Type: bigquery.IntegerFieldType, Required: true},
			{Name: "copied", Type: bigquery.BooleanFieldType, Required: true},
			{Name: "last_lsn", Type: bigquery.IntegerFieldType},
		},
	}); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("bqsink: create %s: %w", resumptionTableName, err)
	}

	schemas := s.dataset.Table(schemasTableName)
	if err := schemas.Create(ctx, &bigquery.TableMetadata{
		Schema: bigquery.Schema{
			{Name: "table_id", Type: bigquery.IntegerFieldType, Required: true},
			{Name: "namespace", Type: bigquery.StringFieldType, Required: true},
			{Name: "relation", Type: bigquery.StringFieldType, Required: true},
		},
	}); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("bqsink: create %s: %w", schemasTableName, err)
	}
	return nil
}

// GetResumptionState reads the control tables back into the resume
// point the orchestrator starts a run from.
func (s *Sink) GetResumptionState(ctx context.Context) (sinkport.ResumptionState, error) {
	state := sinkport.ResumptionState{CopiedTables: make(map[cellmodel.TableID]bool)}

	q := s.client.Query(fmt.Sprintf("SELECT table_id, copied, last_lsn FROM `%s.%s`", s.cfg.DatasetID, resumptionTableName))
	it, err := q.Read(ctx)
	if err != nil {
		return state, fmt.Errorf("bqsink: read resumption: %w", err)
	}
	for {
		var row struct {
			TableID int64              `bigquery:"table_id"`
			Copied  bool               `bigquery:"copied"`
			LastLSN bigquery.NullInt64 `bigquery:"last_lsn"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return state, fmt.Errorf("bqsink: scan resumption row: %w", err)
		}
		state.CopiedTables[cellmodel.TableID(row.TableID)] = row.Copied
		if row.LastLSN.Valid && lsn.LSN(row.LastLSN.Int64) > state.LastLSN {
			state.LastLSN = lsn.LSN(row.LastLSN.Int64)
		}
	}
	return state, nil
}

// WriteTableSchemas creates (or leaves untouched) one BigQuery table
// per source table and records its identity in the schemas control
// table, idempotently.
func (s *Sink) WriteTableSchemas(ctx context.Context, schemas map[cellmodel.TableID]cellmodel.TableSchema) error {
	inserter := s.dataset.Table(schemasTableName).Inserter()
	schemaRowSchema := bigquery.Schema{
		{Name: "table_id", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "namespace", Type: bigquery.StringFieldType, Required: true},
		{Name: "relation", Type: bigquery.StringFieldType, Required: true},
	}
	var rows []*bigquery.ValuesSaver

	for id, t := range schemas {
		s.schemas[id] = t
		table := s.dataset.Table(qualifiedTableID(id))
		err := table.Create(ctx, &bigquery.TableMetadata{Schema: toBigQuerySchema(t.Columns)})
		if err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("bqsink: create table for %s: %w", t.QualifiedName(), err)
		}
		rows = append(rows, &bigquery.ValuesSaver{
			Schema:   schemaRowSchema,
			InsertID: fmt.Sprintf("schema-%d", id),
			Row:      []bigquery.Value{int64(id), t.Namespace, t.Relation},
		})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("bqsink: record schemas: %w", err)
	}
	return nil
}

// TruncateTable deletes every row of a table ahead of a fresh copy
// pass, tolerating a table that does not exist yet.
func (s *Sink) TruncateTable(ctx context.Context, id cellmodel.TableID) error {
	sql := fmt.Sprintf("TRUNCATE TABLE `%s.%s`", s.cfg.DatasetID, qualifiedTableID(id))
	job, err := s.client.Query(sql).Run(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("bqsink: truncate %d: %w", id, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("bqsink: wait truncate %d: %w", id, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("bqsink: truncate %d failed: %w", id, err)
	}
	return nil
}

// WriteTableRows streams one batch of a table's copy via the
// streaming Inserter, the BigQuery-idiomatic bulk-write path.
func (s *Sink) WriteTableRows(ctx context.Context, id cellmodel.TableID, rows []cellmodel.TableRow) error {
	schema, ok := s.schemas[id]
	if !ok {
		return fmt.Errorf("bqsink: write rows for unknown table %d", id)
	}
	savers := make([]*rowSaver, len(rows))
	for i, row := range rows {
		savers[i] = &rowSaver{schema: schema, row: row}
	}
	if err := s.dataset.Table(qualifiedTableID(id)).Inserter().Put(ctx, savers); err != nil {
		return fmt.Errorf("bqsink: insert rows into %s: %w", schema.QualifiedName(), err)
	}
	return nil
}

// TableCopied records that a table's snapshot copy completed, via a
// MERGE so the control row is created on first copy and updated on
// resumption from an interrupted run.
func (s *Sink) TableCopied(ctx context.Context, id cellmodel.TableID) error {
	sql := fmt.Sprintf(`
		MERGE INTO `+"`%s.%s`"+` T
		USING (SELECT @table_id AS table_id) S
		ON T.table_id = S.table_id
		WHEN MATCHED THEN UPDATE SET copied = true
		WHEN NOT MATCHED THEN INSERT (table_id, copied) VALUES (S.table_id, true)`,
		s.cfg.DatasetID, resumptionTableName)
	q := s.client.Query(sql)
	q.Parameters = []bigquery.QueryParameter{{Name: "table_id", Value: int64(id)}}
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("bqsink: mark %d copied: %w", id, err)
	}
	if _, err := job.Wait(ctx); err != nil {
		return fmt.Errorf("bqsink: wait mark %d copied: %w", id, err)
	}
	return nil
}

// WriteCDCEvents applies a batch of decoded CDC events: inserts and
// updates are appended through the streaming Inserter (an update adds
// a new row; the earlier row is not replaced), deletes run as a
// parameterized DML statement, and the batch's
// terminal commit LSN is persisted as the new resume point.
func (s *Sink) WriteCDCEvents(ctx context.Context, events []wire.CdcEvent) (lsn.LSN, error) {
	var lastLSN lsn.LSN

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
			if err := s.WriteTableRows(ctx, ev.TableID, []cellmodel.TableRow{*ev.NewRow}); err != nil {
				return lastLSN, err
			}
		case wire.EventDelete:
			if err := s.applyDelete(ctx, ev); err != nil {
				return lastLSN, err
			}
		case wire.EventCommit:
			lastLSN = ev.CommitLSN
		}
	}

	if lastLSN != 0 {
		if err := s.persistLastLSN(ctx, lastLSN); err != nil {
			return lastLSN, err
		}
	}
	return lastLSN, nil
}

func (s *Sink) applyDelete(ctx context.Context, ev wire.CdcEvent) error {
	schema, ok := s.schemas[ev.TableID]
	if !ok {
		return fmt.Errorf("bqsink: delete on unknown table %d", ev.TableID)
	}
	identity := ev.KeyRow
	if identity == nil {
		identity = ev.OldRow
	}
	if identity == nil {
		return nil
	}

	var clauses string
	var params []bigquery.QueryParameter
	for i, col := range schema.Columns {
		if col.PKPosition == 0 {
			continue
		}
		v, err := cellToValue((*identity)[i])
		if err != nil {
			return fmt.Errorf("bqsink: delete key column %s: %w", col.Name, err)
		}
		name := fmt.Sprintf("k%d", col.PKPosition)
		if clauses != "" {
			clauses += " AND "
		}
		clauses += fmt.Sprintf("%s = @%s", col.Name, name)
		params = append(params, bigquery.QueryParameter{Name: name, Value: v})
	}
	if clauses == "" {
		return nil
	}

	sql := fmt.Sprintf("DELETE FROM `%s.%s` WHERE %s", s.cfg.DatasetID, qualifiedTableID(ev.TableID), clauses)
	q := s.client.Query(sql)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("bqsink: delete from %s: %w", schema.QualifiedName(), err)
	}
	if _, err := job.Wait(ctx); err != nil {
		return fmt.Errorf("bqsink: wait delete from %s: %w", schema.QualifiedName(), err)
	}
	return nil
}

func (s *Sink) persistLastLSN(ctx context.Context, v lsn.LSN) error {
	sql := fmt.Sprintf(`
		MERGE INTO `+"`%s.%s`"+` T
		USING (SELECT @lsn AS last_lsn) S
		ON true
		WHEN MATCHED THEN UPDATE SET last_lsn = S.last_lsn
		WHEN NOT MATCHED THEN INSERT (table_id, copied, last_lsn) VALUES (0, false, S.last_lsn)`,
		s.cfg.DatasetID, resumptionTableName)
	q := s.client.Query(sql)
	q.Parameters = []bigquery.QueryParameter{{Name: "lsn", Value: int64(v)}}
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("bqsink: persist lsn: %w", err)
	}
	if _, err := job.Wait(ctx); err != nil {
		return fmt.Errorf("bqsink: wait persist lsn: %w", err)
	}
	return nil
}

func isAlreadyExists(err error) bool {
	return hasStatusCode(err, 409)
}

func isNotFound(err error) bool {
	return hasStatusCode(err, 404)
}

func hasStatusCode(err error, code int) bool {
	var apiErr *googleapi.Error
	return err != nil && errors.As(err, &apiErr) && apiErr.Code == code
}
