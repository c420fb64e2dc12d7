package bqsink

import (
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/jfoltran/pgcdc/internal/cellmodel"
)

func civilDate(t time.Time) civil.Date { return civil.DateOf(t) }
func civilTime(t time.Time) civil.Time { return civil.TimeOf(t) }

// cellToValue converts one decoded Cell into the bigquery.Value the
// streaming Inserter and parameterized queries both accept.
func cellToValue(c cellmodel.Cell) (bigquery.Value, error) {
	if c.IsNull() {
		return nil, nil
	}
	switch c.Variant() {
	case cellmodel.VariantBool:
		return c.AsBool()
	case cellmodel.VariantString:
		return c.AsString()
	case cellmodel.VariantI16:
		v, err := c.AsI16()
		return int64(v), err
	case cellmodel.VariantI32:
		v, err := c.AsI32()
		return int64(v), err
	case cellmodel.VariantI64:
		return c.AsI64()
	case cellmodel.VariantU32:
		v, err := c.AsU32()
		return int64(v), err
	case cellmodel.VariantU64:
		v, err := c.AsU64()
		return int64(v), err
	case cellmodel.VariantF32:
		v, err := c.AsF32()
		return float64(v), err
	case cellmodel.VariantF64:
		return c.AsF64()
	case cellmodel.VariantNumeric:
		n, err := c.AsNumeric()
		if err != nil {
			return nil, err
		}
		return n.String(), nil
	case cellmodel.VariantDate:
		v, err := c.AsDate()
		if err != nil {
			return nil, err
		}
		return civilDate(v), nil
	case cellmodel.VariantTime:
		v, err := c.AsTime()
		if err != nil {
			return nil, err
		}
		return civilTime(v), nil
	case cellmodel.VariantTimestamp:
		return c.AsTimestamp()
	case cellmodel.VariantTimestampTz:
		return c.AsTimestampTz()
	case cellmodel.VariantUUID:
		v, err := c.AsUUID()
		if err != nil {
			return nil, err
		}
		return v.String(), nil
	case cellmodel.VariantJSON:
		v, err := c.AsJSONRaw()
		return string(v), err
	case cellmodel.VariantBytes:
		return c.AsBytes()
	case cellmodel.VariantArray:
		return arrayToValue(c)
	default:
		return nil, fmt.Errorf("bqsink: unsupported cell variant %d", c.Variant())
	}
}

// arrayToValue converts an array cell into a BigQuery repeated-field
// value by converting each element independently; BigQuery has no
// nested-NULL-array concept, so a NULL array cell becomes an empty
// slice rather than a nil value.
func arrayToValue(c cellmodel.Cell) (bigquery.Value, error) {
	elems, ok := c.Elements()
	if !ok {
		return []bigquery.Value{}, nil
	}
	out := make([]bigquery.Value, 0, len(elems))
	for _, e := range elems {
		v, err := cellToValue(e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// rowToValues maps a decoded TableRow into the column-name-keyed
// value set the Inserter's ValueSaver returns.
func rowToValues(schema cellmodel.TableSchema, row cellmodel.TableRow) (map[string]bigquery.Value, error) {
	if len(row) != len(schema.Columns) {
		return nil, fmt.Errorf("bqsink: row has %d cells, schema %s has %d columns", len(row), schema.QualifiedName(), len(schema.Columns))
	}
	out := make(map[string]bigquery.Value, len(row))
	for i, col := range schema.Columns {
		v, err := cellToValue(row[i])
		if err != nil {
			return nil, fmt.Errorf("bqsink: column %s: %w", col.Name, err)
		}
		out[col.Name] = v
	}
	return out, nil
}

// rowSaver adapts a decoded TableRow to bigquery.ValueSaver so the
// streaming Inserter can batch it without an intermediate struct tag
// scheme, since the column set is only known at run time.
type rowSaver struct {
	schema cellmodel.TableSchema
	row    cellmodel.TableRow
}

func (s rowSaver) Save() (map[string]bigquery.Value, string, error) {
	values, err := rowToValues(s.schema, s.row)
	return values, "", err
}
