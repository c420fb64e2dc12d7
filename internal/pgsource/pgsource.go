// Package pgsource is the Postgres implementation of sourceport.Source:
// it owns the replication connection and the snapshot transaction,
// and turns both into the decoded TableRow/CdcEvent streams the
// pipeline orchestrator consumes.
package pgsource

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/jfoltran/pgcdc/internal/cellmodel"
	"github.com/jfoltran/pgcdc/internal/schema"
	"github.com/jfoltran/pgcdc/internal/sourceport"
	"github.com/jfoltran/pgcdc/internal/wire"
	ourlsn "github.com/jfoltran/pgcdc/pkg/lsn"
)

// Backoff parameters for reconnecting a failed CDC stream: the retry
// counter resets whenever a reconnect yields real LSN progress, so
// these bounds only bite a connection that keeps failing outright.
const (
	maxStreamRetries  = 5
	initialRetryDelay = 2 * time.Second
	maxRetryDelay     = 30 * time.Second
)

// Config describes how to reach the source Postgres instance and
// which publication/slot to replicate from.
type Config struct {
	DSN            string
	ReplicationDSN string
	SlotName       string
	Publication    string
}

// Source is the Postgres-backed sourceport.Source.
type Source struct {
	cfg    Config
	pool   *pgxpool.Pool
	logger zerolog.Logger

	catalog *schema.Catalog

	snapMu  sync.Mutex
	snapTx  pgx.Tx
	snapErr error

	slotMu           sync.Mutex
	slotName         string
	slotEnsured      bool
	exportedSnapshot string

	replConn *pgconn.PgConn
}

var _ sourceport.Source = (*Source)(nil)

// Connect opens the pooled connection used for catalog discovery and
// snapshot COPY. The replication connection is opened lazily by
// PrepareReplication, since it must not be created before the slot
// and its exported snapshot are in hand.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (*Source, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, sourceport.NewSourceError(sourceport.ErrConnection, fmt.Errorf("connect pool: %w", err))
	}
	s := &Source{
		cfg:      cfg,
		pool:     pool,
		logger:   logger.With().Str("component", "pgsource").Logger(),
		catalog:  schema.NewCatalog(pool, logger),
		slotName: strings.ReplaceAll(cfg.SlotName, "-", "_"),
	}
	return s, nil
}

// PrepareReplication creates the replication slot before the table
// copy phase begins, so a fresh run's COPY queries can attach to the
// slot's exported snapshot and CDC streaming resumes from exactly the
// point that snapshot was taken at. On a resumed run (resumeLSN != 0)
// the slot already exists from a previous run, so no new slot or
// snapshot is created and resumeLSN.Next() is returned.
// Idempotent: once the slot is ensured, a later call creates nothing
// and returns resumeLSN.Next() (or the zero LSN for a zero resumeLSN);
// the first call's consistent-point LSN is not cached.
func (s *Source) PrepareReplication(ctx context.Context, resumeLSN ourlsn.LSN) (ourlsn.LSN, error) {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	if s.slotEnsured {
		if resumeLSN == ourlsn.Zero {
			return resumeLSN, nil
		}
		return resumeLSN.Next(), nil
	}

	conn, err := s.dialReplication(ctx)
	if err != nil {
		return ourlsn.Zero, sourceport.NewSourceError(sourceport.ErrConnection, err)
	}
	s.replConn = conn

	if resumeLSN != ourlsn.Zero {
		s.slotEnsured = true
		return resumeLSN.Next(), nil
	}

	snapshotName, consistentLSN, err := createSlotWithSnapshot(ctx, conn, s.slotName)
	if err != nil {
		return ourlsn.Zero, sourceport.NewSourceError(sourceport.ErrConnection, err)
	}
	s.logger.Info().
		Str("slot", s.slotName).
		Str("snapshot", snapshotName).
		Stringer("lsn", consistentLSN).
		Msg("created replication slot")

	s.exportedSnapshot = snapshotName
	s.slotEnsured = true
	return consistentLSN, nil
}

func (s *Source) dialReplication(ctx context.Context) (*pgconn.PgConn, error) {
	connCfg, err := pgconn.ParseConfig(s.cfg.ReplicationDSN)
	if err != nil {
		return nil, err
	}
	return pgconn.ConnectConfig(ctx, connCfg)
}

// createSlotWithSnapshot issues CREATE_REPLICATION_SLOT with an
// exported snapshot and returns both the snapshot name and the LSN it
// is consistent with. The snapshot is only valid for use until
// StartReplication is called on this same connection.
func createSlotWithSnapshot(ctx context.Context, conn *pgconn.PgConn, slot string) (snapshotName string, consistentLSN ourlsn.LSN, err error) {
	sql := fmt.Sprintf(`CREATE_REPLICATION_SLOT %s LOGICAL pgoutput (SNAPSHOT 'export')`, slot)
	result, err := pglogrepl.ParseCreateReplicationSlot(conn.Exec(ctx, sql))
	if err != nil {
		return "", ourlsn.Zero, fmt.Errorf("create replication slot: %w", err)
	}
	parsed, err := pglogrepl.ParseLSN(result.ConsistentPoint)
	if err != nil {
		return "", ourlsn.Zero, fmt.Errorf("parse consistent point lsn: %w", err)
	}
	return result.SnapshotName, ourlsn.FromWire(parsed), nil
}

func (s *Source) GetTableSchemas(ctx context.Context) (map[cellmodel.TableID]cellmodel.TableSchema, error) {
	if err := s.catalog.EnsurePublication(ctx, s.cfg.Publication); err != nil {
		return nil, sourceport.NewSourceError(sourceport.ErrConnection, err)
	}
	schemas, err := s.catalog.DiscoverTables(ctx, s.cfg.Publication)
	if err != nil {
		return nil, sourceport.NewSourceError(sourceport.ErrConnection, err)
	}
	return schemas, nil
}

// beginSnapshot lazily opens the REPEATABLE READ, READ ONLY
// transaction every table copy shares, so all tables see the same
// consistent view regardless of copy order. When PrepareReplication
// captured an exported snapshot, the transaction attaches to it so
// this view matches the CDC stream's starting point exactly.
func (s *Source) beginSnapshot(ctx context.Context) (pgx.Tx, error) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if s.snapTx != nil {
		return s.snapTx, nil
	}
	if s.snapErr != nil {
		return nil, s.snapErr
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		s.snapErr = err
		return nil, err
	}
	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		conn.Release()
		s.snapErr = err
		return nil, err
	}

	s.slotMu.Lock()
	snapshot := s.exportedSnapshot
	s.slotMu.Unlock()
	if snapshot != "" {
		sql := fmt.Sprintf("SET TRANSACTION SNAPSHOT '%s'", strings.ReplaceAll(snapshot, "'", "''"))
		if _, err := tx.Exec(ctx, sql); err != nil {
			_ = tx.Rollback(ctx)
			conn.Release()
			s.snapErr = fmt.Errorf("attach exported snapshot: %w", err)
			return nil, s.snapErr
		}
	}

	s.snapTx = tx
	return tx, nil
}

// GetTableCopyStream runs `COPY ... TO STDOUT (FORMAT binary)` over
// the shared snapshot transaction and decodes the raw PGCOPY stream
// with wire.TableRowConverter, rather than letting pgx decode values
// itself: this is the binary COPY OUT path the decoder component
// exists for.
func (s *Source) GetTableCopyStream(ctx context.Context, table cellmodel.TableSchema) (<-chan sourceport.RowResult, error) {
	tx, err := s.beginSnapshot(ctx)
	if err != nil {
		return nil, sourceport.NewSourceError(sourceport.ErrCopyStream, err)
	}

	qn := quoteQualifiedName(table.Namespace, table.Relation)
	sql := fmt.Sprintf("COPY (SELECT * FROM %s) TO STDOUT (FORMAT binary)", qn)

	pr, pw := io.Pipe()
	go func() {
		_, err := tx.Conn().PgConn().CopyTo(ctx, pw, sql)
		pw.CloseWithError(err)
	}()

	out := make(chan sourceport.RowResult, 256)
	go func() {
		defer close(out)
		r := bufio.NewReader(pr)
		if err := wire.ReadHeader(r); err != nil {
			out <- sourceport.RowResult{Err: sourceport.NewSourceError(sourceport.ErrCopyStream, err)}
			return
		}
		conv := wire.NewTableRowConverter(table)
		for {
			row, err := conv.DecodeRow(r)
			if err == wire.ErrCopyDone {
				return
			}
			if err != nil {
				out <- sourceport.RowResult{Err: sourceport.NewSourceError(sourceport.ErrCopyStream, err)}
				return
			}
			select {
			case out <- sourceport.RowResult{Row: row}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Source) CommitTransaction(ctx context.Context) error {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if s.snapTx == nil {
		return nil
	}
	err := s.snapTx.Commit(ctx)
	s.snapTx = nil
	if err != nil {
		return sourceport.NewSourceError(sourceport.ErrConnection, fmt.Errorf("commit snapshot: %w", err))
	}
	return nil
}

func (s *Source) GetCdcStream(ctx context.Context, startLSN ourlsn.LSN) (<-chan sourceport.EventResult, error) {
	if _, err := s.PrepareReplication(ctx, startLSN); err != nil {
		return nil, err
	}
	s.slotMu.Lock()
	conn := s.replConn
	s.slotMu.Unlock()

	if err := startReplication(ctx, conn, s.slotName, s.cfg.Publication, startLSN); err != nil {
		return nil, sourceport.NewSourceError(sourceport.ErrCdcStream, fmt.Errorf("start replication: %w", err))
	}

	initialSchemas, err := s.GetTableSchemas(ctx)
	if err != nil {
		return nil, err
	}
	withPtr := make(map[cellmodel.TableID]*cellmodel.TableSchema, len(initialSchemas))
	for id, t := range initialSchemas {
		t := t
		withPtr[id] = &t
	}
	converter := wire.NewCdcEventConverter(withPtr)

	out := make(chan sourceport.EventResult, 4096)
	go s.streamWithRetry(ctx, conn, converter, startLSN, out)
	return out, nil
}

func startReplication(ctx context.Context, conn *pgconn.PgConn, slot, publication string, startLSN ourlsn.LSN) error {
	return pglogrepl.StartReplication(ctx, conn, slot, startLSN.ToWire(), pglogrepl.StartReplicationOptions{
		PluginArgs: []string{
			"proto_version '1'",
			fmt.Sprintf("publication_names '%s'", publication),
		},
	})
}

// streamWithRetry runs the receive loop and, on a recoverable stream
// error, reconnects with exponential backoff and resumes from the
// last confirmed commit LSN rather than ending the stream outright.
// The retry counter resets whenever a reconnect makes real progress
// past the last retry's watermark, so a connection that is merely
// flaky is never penalized by an old unrelated failure exhausting its
// budget.
func (s *Source) streamWithRetry(ctx context.Context, conn *pgconn.PgConn, converter *wire.CdcEventConverter, startLSN ourlsn.LSN, out chan<- sourceport.EventResult) {
	defer close(out)

	retries := 0
	delay := initialRetryDelay
	watermark := startLSN
	confirmed := startLSN

	for {
		lastConfirmed, loopErr := s.streamLoop(ctx, conn, converter, confirmed, out)
		conn.Close(context.Background())
		confirmed = lastConfirmed

		if loopErr == nil || ctx.Err() != nil {
			return
		}

		retries++
		if confirmed.Compare(watermark) > 0 {
			watermark = confirmed
			retries = 1
			delay = initialRetryDelay
		}

		if retries > maxStreamRetries {
			out <- sourceport.EventResult{Err: sourceport.NewSourceError(sourceport.ErrCdcStream,
				fmt.Errorf("cdc stream: %w (exhausted %d retries)", loopErr, maxStreamRetries))}
			return
		}

		s.logger.Warn().
			Err(loopErr).
			Int("retry", retries).
			Int("max_retries", maxStreamRetries).
			Stringer("resume_lsn", confirmed).
			Dur("delay", delay).
			Msg("cdc stream failed, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)

		newConn, err := s.reconnect(ctx, confirmed)
		if err != nil {
			out <- sourceport.EventResult{Err: sourceport.NewSourceError(sourceport.ErrCdcStream,
				fmt.Errorf("reconnect decoder: %w (original: %v)", err, loopErr))}
			return
		}
		conn = newConn
	}
}

// reconnect opens a fresh replication connection and resumes
// streaming from resumeLSN without recreating the slot, which already
// exists from this run's (or a previous run's) PrepareReplication.
func (s *Source) reconnect(ctx context.Context, resumeLSN ourlsn.LSN) (*pgconn.PgConn, error) {
	conn, err := s.dialReplication(ctx)
	if err != nil {
		return nil, fmt.Errorf("replication reconnect: %w", err)
	}
	s.slotMu.Lock()
	s.replConn = conn
	s.slotMu.Unlock()

	if err := startReplication(ctx, conn, s.slotName, s.cfg.Publication, resumeLSN); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("start replication after reconnect: %w", err)
	}
	return conn, nil
}

// streamLoop sends a standby status update whenever a second or more
// has passed since the last one (checked between receives, each of
// which waits at most two seconds), uses a bounded receive deadline so
// the loop can observe context
// cancellation, and dispatches keepalive/XLogData messages as they
// arrive. It returns the last commit LSN observed and the error that
// ended the loop, if any, so a retrying caller knows where to resume.
func (s *Source) streamLoop(ctx context.Context, conn *pgconn.PgConn, converter *wire.CdcEventConverter, startLSN ourlsn.LSN, out chan<- sourceport.EventResult) (ourlsn.LSN, error) {
	const standbyInterval = time.Second
	const recvTimeout = 2 * time.Second

	confirmed := startLSN
	lastStatus := time.Now()

	sendStatus := func(lsnVal ourlsn.LSN) error {
		lastStatus = time.Now()
		return pglogrepl.SendStandbyStatusUpdate(ctx, conn, pglogrepl.StandbyStatusUpdate{
			WALWritePosition: lsnVal.ToWire(),
			WALFlushPosition: lsnVal.ToWire(),
			WALApplyPosition: lsnVal.ToWire(),
		})
	}

	for {
		select {
		case <-ctx.Done():
			return confirmed, nil
		default:
		}

		if time.Since(lastStatus) >= standbyInterval {
			if err := sendStatus(confirmed); err != nil {
				s.logger.Err(err).Msg("send standby status")
			}
		}

		recvCtx, cancel := context.WithDeadline(ctx, time.Now().Add(recvTimeout))
		rawMsg, err := conn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return confirmed, nil
			}
			if pgconn.Timeout(err) {
				continue
			}
			return confirmed, err
		}

		if errResp, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
			return confirmed, fmt.Errorf("server error: %s (SQLSTATE %s)", errResp.Message, errResp.Code)
		}

		copyData, ok := rawMsg.(*pgproto3.CopyData)
		if !ok || len(copyData.Data) == 0 {
			continue
		}

		switch copyData.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
			if err != nil {
				s.logger.Err(err).Msg("parse keepalive")
				continue
			}
			ev := converter.DecodeKeepalive(pkm)
			select {
			case out <- sourceport.EventResult{Event: ev}:
			case <-ctx.Done():
				return confirmed, nil
			}
			if pkm.ReplyRequested {
				if err := sendStatus(confirmed); err != nil {
					s.logger.Err(err).Msg("keepalive reply")
				}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
			if err != nil {
				s.logger.Err(err).Msg("parse xlogdata")
				continue
			}
			logicalMsg, err := pglogrepl.Parse(xld.WALData)
			if err != nil {
				return confirmed, err
			}
			ev, err := converter.DecodeMessage(logicalMsg)
			if err != nil {
				return confirmed, err
			}
			if ev.Kind == wire.EventCommit {
				confirmed = ev.CommitLSN
			}
			select {
			case out <- sourceport.EventResult{Event: ev}:
			case <-ctx.Done():
				return confirmed, nil
			}
		}
	}
}

func (s *Source) Close(ctx context.Context) error {
	s.snapMu.Lock()
	if s.snapTx != nil {
		_ = s.snapTx.Rollback(ctx)
		s.snapTx = nil
	}
	s.snapMu.Unlock()

	s.slotMu.Lock()
	if s.replConn != nil {
		_ = s.replConn.Close(ctx)
	}
	s.slotMu.Unlock()

	s.pool.Close()
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteQualifiedName(namespace, relation string) string {
	if namespace == "" || namespace == "public" {
		return quoteIdent(relation)
	}
	return quoteIdent(namespace) + "." + quoteIdent(relation)
}
