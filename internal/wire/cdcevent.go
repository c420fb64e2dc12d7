package wire

import (
	"time"
	"unicode/utf8"

	"github.com/jackc/pglogrepl"

	"github.com/jfoltran/pgcdc/internal/cellmodel"
	ourlsn "github.com/jfoltran/pgcdc/pkg/lsn"
)

// EventKind enumerates the CdcEvent variants.
type EventKind int

const (
	EventBegin EventKind = iota
	EventCommit
	EventInsert
	EventUpdate
	EventDelete
	EventRelation
	EventType
	EventKeepAliveRequested
)

// TxMetadata carries the transaction-scoped fields present on Begin
// and Commit messages.
type TxMetadata struct {
	XID        uint32
	CommitTime time.Time
}

// CdcEvent is the decoded form of one logical replication protocol
// message, narrowed to the variants the pipeline understands.
type CdcEvent struct {
	Kind EventKind

	TableID cellmodel.TableID
	Tx      TxMetadata

	// CommitLSN is populated on EventCommit: the LSN the transaction
	// committed at. A restarted run resumes CDC from the LSN after it.
	CommitLSN ourlsn.LSN

	NewRow *cellmodel.TableRow
	OldRow *cellmodel.TableRow
	KeyRow *cellmodel.TableRow

	Schema *cellmodel.TableSchema

	TypeName string
	TypeOID  uint32

	KeepAliveReply bool
}

// IsBatchBoundary reports whether this event may end a CDC batch. Per
// the data model, a Commit or a requested KeepAlive both qualify;
// every other event must not end a batch.
func (e CdcEvent) IsBatchBoundary() bool {
	return e.Kind == EventCommit || e.Kind == EventKeepAliveRequested
}

// CdcEventConverter decodes pglogrepl logical messages into CdcEvent
// values, tracking the relation schemas announced mid-stream.
type CdcEventConverter struct {
	relations map[cellmodel.TableID]*cellmodel.TableSchema
}

// NewCdcEventConverter seeds the converter with the schemas captured
// at snapshot time; Relation messages update this map as the stream
// announces new or changed table shapes.
func NewCdcEventConverter(initial map[cellmodel.TableID]*cellmodel.TableSchema) *CdcEventConverter {
	relations := make(map[cellmodel.TableID]*cellmodel.TableSchema, len(initial))
	for id, s := range initial {
		relations[id] = s
	}
	return &CdcEventConverter{relations: relations}
}

// SchemaFor returns the currently known schema for a table id.
func (c *CdcEventConverter) SchemaFor(id cellmodel.TableID) (*cellmodel.TableSchema, bool) {
	s, ok := c.relations[id]
	return s, ok
}

// DecodeKeepalive converts a PrimaryKeepaliveMessage into the
// KeepAliveRequested event.
func (c *CdcEventConverter) DecodeKeepalive(pkm pglogrepl.PrimaryKeepaliveMessage) CdcEvent {
	return CdcEvent{Kind: EventKeepAliveRequested, KeepAliveReply: pkm.ReplyRequested}
}

// DecodeMessage converts one parsed logical replication message into
// a CdcEvent, or an error from the DecodeError taxonomy.
func (c *CdcEventConverter) DecodeMessage(msg pglogrepl.Message) (CdcEvent, error) {
	switch m := msg.(type) {
	case *pglogrepl.BeginMessage:
		return CdcEvent{
			Kind: EventBegin,
			Tx:   TxMetadata{XID: m.Xid, CommitTime: m.CommitTime},
		}, nil

	case *pglogrepl.CommitMessage:
		return CdcEvent{
			Kind:      EventCommit,
			CommitLSN: ourlsn.FromWire(m.CommitLSN),
			Tx:        TxMetadata{CommitTime: m.CommitTime},
		}, nil

	case *pglogrepl.RelationMessage:
		schema := relationToSchema(m)
		c.relations[schema.ID] = &schema
		return CdcEvent{
			Kind:    EventRelation,
			TableID: schema.ID,
			Schema:  &schema,
		}, nil

	case *pglogrepl.TypeMessage:
		return CdcEvent{
			Kind:     EventType,
			TypeName: m.Name,
			TypeOID:  m.DataType,
		}, nil

	case *pglogrepl.InsertMessage:
		schema, ok := c.relations[cellmodel.TableID(m.RelationID)]
		if !ok {
			return CdcEvent{}, &MissingSchemaError{TableID: cellmodel.TableID(m.RelationID)}
		}
		row, err := decodeTuple(m.Tuple, *schema)
		if err != nil {
			return CdcEvent{}, err
		}
		return CdcEvent{Kind: EventInsert, TableID: schema.ID, NewRow: &row}, nil

	case *pglogrepl.UpdateMessage:
		schema, ok := c.relations[cellmodel.TableID(m.RelationID)]
		if !ok {
			return CdcEvent{}, &MissingSchemaError{TableID: cellmodel.TableID(m.RelationID)}
		}
		newRow, err := decodeTuple(m.NewTuple, *schema)
		if err != nil {
			return CdcEvent{}, err
		}
		ev := CdcEvent{Kind: EventUpdate, TableID: schema.ID, NewRow: &newRow}
		if m.OldTuple != nil {
			switch m.OldTupleType {
			case 'O': // full before-image, REPLICA IDENTITY FULL
				old, err := decodeTuple(m.OldTuple, *schema)
				if err != nil {
					return CdcEvent{}, err
				}
				ev.OldRow = &old
			case 'K': // key-only before-image
				key, err := decodeTuple(m.OldTuple, *schema)
				if err != nil {
					return CdcEvent{}, err
				}
				ev.KeyRow = &key
			}
		}
		return ev, nil

	case *pglogrepl.DeleteMessage:
		schema, ok := c.relations[cellmodel.TableID(m.RelationID)]
		if !ok {
			return CdcEvent{}, &MissingSchemaError{TableID: cellmodel.TableID(m.RelationID)}
		}
		if m.OldTuple == nil {
			return CdcEvent{}, &MissingTupleInDeleteBodyError{}
		}
		row, err := decodeTuple(m.OldTuple, *schema)
		if err != nil {
			return CdcEvent{}, err
		}
		ev := CdcEvent{Kind: EventDelete, TableID: schema.ID}
		switch m.OldTupleType {
		case 'K':
			ev.KeyRow = &row
		default:
			ev.OldRow = &row
		}
		return ev, nil

	case *pglogrepl.OriginMessage:
		return CdcEvent{}, &MessageNotSupportedError{Kind: "Origin"}

	case *pglogrepl.TruncateMessage:
		return CdcEvent{}, &MessageNotSupportedError{Kind: "Truncate"}

	default:
		return CdcEvent{}, &UnknownReplicationMessageError{}
	}
}

func relationToSchema(m *pglogrepl.RelationMessage) cellmodel.TableSchema {
	cols := make([]cellmodel.ColumnSchema, len(m.Columns))
	for i, c := range m.Columns {
		cols[i] = cellmodel.ColumnSchema{
			Name: c.Name,
			OID:  c.DataType,
			// Replica identity flag is the closest signal pgoutput
			// gives for "this column matters for identifying a row";
			// full nullability is only known from the catalog schema
			// snapshot taken at pipeline start.
			PKPosition: boolToPKPosition(c.Flags == 1),
			Nullable:   true,
		}
	}
	return cellmodel.TableSchema{
		ID:        cellmodel.TableID(m.RelationID),
		Namespace: m.Namespace,
		Relation:  m.RelationName,
		Columns:   cols,
	}
}

func boolToPKPosition(isKey bool) int {
	if isKey {
		return 1
	}
	return 0
}

// decodeTuple decodes every column of a TupleData against the column
// schemas registered for its relation. The row has exactly one cell
// per tuple column, in order; a null column ('n') becomes a Null cell.
// The row is not padded to the schema's column count.
func decodeTuple(tuple *pglogrepl.TupleData, schema cellmodel.TableSchema) (cellmodel.TableRow, error) {
	row := make(cellmodel.TableRow, len(tuple.Columns))
	for i, col := range tuple.Columns {
		var colSchema cellmodel.ColumnSchema
		if i < len(schema.Columns) {
			colSchema = schema.Columns[i]
		}
		switch col.DataType {
		case 'n':
			row[i] = cellmodel.Null()
		case 'u':
			return nil, &UnchangedToastNotSupportedError{Column: colSchema.Name}
		case 't':
			if !utf8.Valid(col.Data) {
				return nil, &InvalidUTF8Error{Column: colSchema.Name}
			}
			cell, err := decodeTextScalar(colSchema.OID, string(col.Data))
			if err != nil {
				return nil, err
			}
			row[i] = cell
		default:
			return nil, decodeErrf("unknown tuple column type %q", col.DataType)
		}
	}
	return row, nil
}
