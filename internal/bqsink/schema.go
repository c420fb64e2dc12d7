package bqsink

import (
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/jfoltran/pgcdc/internal/cellmodel"
)

// Postgres type OIDs a column's ColumnSchema.OID carries. Kept local
// to this package rather than imported from internal/wire, since
// wire's decoder has no business knowing about BigQuery field types.
const (
	oidBool            = 16
	oidBytea           = 17
	oidChar            = 18
	oidName            = 19
	oidInt8            = 20
	oidInt2            = 21
	oidInt4            = 23
	oidText            = 25
	oidJSON            = 114
	oidFloat4          = 700
	oidFloat8          = 701
	oidBPChar          = 1042
	oidVarchar         = 1043
	oidDate            = 1082
	oidTime            = 1083
	oidTimestamp       = 1114
	oidTimestampTZ     = 1184
	oidNumeric         = 1700
	oidUUID            = 2950
	oidJSONB           = 3802
	oidBoolArray       = 1000
	oidBytesArray      = 1001
	oidInt2Array       = 1005
	oidInt4Array       = 1007
	oidTextArray       = 1009
	oidVarcharArray    = 1015
	oidInt8Array       = 1016
	oidFloat4Array     = 1021
	oidFloat8Array     = 1022
	oidDateArray       = 1182
	oidTimeArray       = 1183
	oidTimestampArray  = 1115
	oidTimestampTZArr  = 1185
	oidNumericArray    = 1231
	oidUUIDArray       = 2951
	oidJSONArray       = 199
	oidJSONBArray      = 3807
)

// bqFieldType maps a Postgres type OID to the BigQuery field type used
// to materialize the column in the destination table.
func bqFieldType(oid uint32) (bigquery.FieldType, bool) {
	switch oid {
	case oidBool:
		return bigquery.BooleanFieldType, false
	case oidInt2, oidInt4, oidInt8:
		return bigquery.IntegerFieldType, false
	case oidFloat4, oidFloat8:
		return bigquery.FloatFieldType, false
	case oidNumeric:
		return bigquery.NumericFieldType, false
	case oidText, oidVarchar, oidBPChar, oidChar, oidName, oidUUID:
		return bigquery.StringFieldType, false
	case oidJSON, oidJSONB:
		return bigquery.JSONFieldType, false
	case oidBytea:
		return bigquery.BytesFieldType, false
	case oidDate:
		return bigquery.DateFieldType, false
	case oidTime:
		return bigquery.TimeFieldType, false
	case oidTimestamp:
		return bigquery.DateTimeFieldType, false
	case oidTimestampTZ:
		return bigquery.TimestampFieldType, false
	case oidBoolArray:
		return bigquery.BooleanFieldType, true
	case oidInt2Array, oidInt4Array, oidInt8Array:
		return bigquery.IntegerFieldType, true
	case oidFloat4Array, oidFloat8Array:
		return bigquery.FloatFieldType, true
	case oidNumericArray:
		return bigquery.NumericFieldType, true
	case oidTextArray, oidVarcharArray, oidUUIDArray:
		return bigquery.StringFieldType, true
	case oidJSONArray, oidJSONBArray:
		return bigquery.JSONFieldType, true
	case oidBytesArray:
		return bigquery.BytesFieldType, true
	case oidDateArray:
		return bigquery.DateFieldType, true
	case oidTimeArray:
		return bigquery.TimeFieldType, true
	case oidTimestampArray:
		return bigquery.DateTimeFieldType, true
	case oidTimestampTZArr:
		return bigquery.TimestampFieldType, true
	default:
		return bigquery.StringFieldType, false
	}
}

// toBigQuerySchema translates a table's column list into the Schema
// used to create or verify the destination table.
func toBigQuerySchema(cols []cellmodel.ColumnSchema) bigquery.Schema {
	schema := make(bigquery.Schema, 0, len(cols))
	for _, col := range cols {
		ft, repeated := bqFieldType(col.OID)
		schema = append(schema, &bigquery.FieldSchema{
			Name:     col.Name,
			Type:     ft,
			Repeated: repeated,
			Required: !col.Nullable && col.PKPosition > 0,
		})
	}
	return schema
}

func qualifiedTableID(id cellmodel.TableID) string {
	return fmt.Sprintf("t_%d", uint32(id))
}
