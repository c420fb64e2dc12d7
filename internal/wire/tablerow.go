package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/jfoltran/pgcdc/internal/cellmodel"
)

// pgCopySignature is the fixed 11-byte magic Postgres prefixes a
// binary COPY stream with.
var pgCopySignature = []byte("PGCOPY\n\xff\r\n\x00")

// TableRowConverter decodes rows off a Postgres binary COPY OUT
// stream into TableRow values, using a table's ColumnSchema to map
// each column's type OID to a Cell variant.
type TableRowConverter struct {
	schema cellmodel.TableSchema
}

// NewTableRowConverter builds a converter bound to one table's column
// layout, in COPY order.
func NewTableRowConverter(schema cellmodel.TableSchema) *TableRowConverter {
	return &TableRowConverter{schema: schema}
}

// ReadHeader consumes and validates the fixed PGCOPY signature, flags
// field, and header extension area, positioning r at the first row.
func ReadHeader(r *bufio.Reader) error {
	sig := make([]byte, len(pgCopySignature))
	if _, err := io.ReadFull(r, sig); err != nil {
		return fmt.Errorf("read copy signature: %w", err)
	}
	if !bytes.Equal(sig, pgCopySignature) {
		return fmt.Errorf("unexpected copy signature %q", sig)
	}
	var flags uint32
	if err := binary.Read(r, binary.BigEndian, &flags); err != nil {
		return fmt.Errorf("read copy flags: %w", err)
	}
	var extLen uint32
	if err := binary.Read(r, binary.BigEndian, &extLen); err != nil {
		return fmt.Errorf("read copy header extension length: %w", err)
	}
	if extLen > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extLen)); err != nil {
			return fmt.Errorf("skip copy header extension: %w", err)
		}
	}
	return nil
}

// ErrCopyDone is returned by DecodeRow when the trailing -1 field
// count (end-of-data marker) is read.
var ErrCopyDone = fmt.Errorf("copy stream complete")

// DecodeRow reads one row from r and converts it into a TableRow. It
// returns ErrCopyDone when the stream's end-of-data marker is read.
func (c *TableRowConverter) DecodeRow(r *bufio.Reader) (cellmodel.TableRow, error) {
	var fieldCount int16
	if err := binary.Read(r, binary.BigEndian, &fieldCount); err != nil {
		return nil, fmt.Errorf("read field count: %w", err)
	}
	if fieldCount == -1 {
		return nil, ErrCopyDone
	}
	if int(fieldCount) != len(c.schema.Columns) {
		return nil, fmt.Errorf("row has %d fields, schema has %d columns", fieldCount, len(c.schema.Columns))
	}

	row := make(cellmodel.TableRow, fieldCount)
	for i := 0; i < int(fieldCount); i++ {
		col := c.schema.Columns[i]
		var length int32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("read field %d length: %w", i, err)
		}
		if length == -1 {
			if !col.Nullable {
				return nil, fmt.Errorf("column %q: null value in non-nullable column", col.Name)
			}
			row[i] = cellmodel.Null()
			continue
		}
		buf := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("read field %d payload: %w", i, err)
			}
		}
		if len(buf) == 0 && col.Nullable {
			row[i] = cellmodel.Null()
			continue
		}
		cell, err := decodeCopyColumn(col, buf)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		row[i] = cell
	}
	return row, nil
}

func decodeCopyColumn(col cellmodel.ColumnSchema, raw []byte) (cellmodel.Cell, error) {
	if elemOID, ok := arrayElementOID(col.OID); ok {
		return decodeBinaryArray(elemOID, raw)
	}
	return decodeBinaryScalar(col.OID, raw)
}

// decodeBinaryArray parses the binary array envelope (ndim, hasnull,
// element OID, then per-dimension bounds, then length-prefixed
// elements) for the one-level-deep arrays this model supports.
func decodeBinaryArray(elemOID uint32, raw []byte) (cellmodel.Cell, error) {
	r := bytes.NewReader(raw)
	var ndim, hasNull, elemType int32
	if err := binary.Read(r, binary.BigEndian, &ndim); err != nil {
		return cellmodel.Cell{}, fmt.Errorf("array ndim: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &hasNull); err != nil {
		return cellmodel.Cell{}, fmt.Errorf("array hasnull: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &elemType); err != nil {
		return cellmodel.Cell{}, fmt.Errorf("array element type: %w", err)
	}
	if ndim == 0 {
		return cellmodel.Array(cellmodel.ArrayCell{Elems: nil}), nil
	}
	if ndim != 1 {
		return cellmodel.Cell{}, fmt.Errorf("array: unsupported %d dimensions (one level deep only)", ndim)
	}
	var dimLen, lowerBound int32
	if err := binary.Read(r, binary.BigEndian, &dimLen); err != nil {
		return cellmodel.Cell{}, fmt.Errorf("array dimension length: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &lowerBound); err != nil {
		return cellmodel.Cell{}, fmt.Errorf("array lower bound: %w", err)
	}

	elems := make([]cellmodel.Cell, dimLen)
	for i := range elems {
		var length int32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return cellmodel.Cell{}, fmt.Errorf("array element %d length: %w", i, err)
		}
		if length == -1 {
			elems[i] = cellmodel.Null()
			continue
		}
		buf := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(r, buf); err != nil {
				return cellmodel.Cell{}, fmt.Errorf("array element %d payload: %w", i, err)
			}
		}
		cell, err := decodeBinaryScalar(elemOID, buf)
		if err != nil {
			return cellmodel.Cell{}, fmt.Errorf("array element %d: %w", i, err)
		}
		elems[i] = cell
	}
	return cellmodel.Array(cellmodel.ArrayCell{Elems: elems}), nil
}
