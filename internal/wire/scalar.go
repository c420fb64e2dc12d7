package wire

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jfoltran/pgcdc/internal/cellmodel"
	"github.com/jfoltran/pgcdc/internal/numeric"
)

// pgEpoch is the Postgres timestamp epoch (2000-01-01 00:00:00 UTC),
// the zero point microsecond-resolution binary timestamps count from.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func decodeBinaryTimestamp(raw []byte) (time.Time, error) {
	if len(raw) != 8 {
		return time.Time{}, decodeErrf("timestamp: expected 8 bytes, got %d", len(raw))
	}
	micros := int64(binary.BigEndian.Uint64(raw))
	return pgEpoch.Add(time.Duration(micros) * time.Microsecond), nil
}

// decodeBinaryScalar converts the raw binary wire bytes for a single
// column value into a Cell, given the column's type OID. Types not
// explicitly handled fall through to Bytes, carrying the raw payload
// verbatim.
func decodeBinaryScalar(oid uint32, raw []byte) (cellmodel.Cell, error) {
	switch oid {
	case oidBool:
		if len(raw) != 1 {
			return cellmodel.Cell{}, decodeErrf("bool: expected 1 byte, got %d", len(raw))
		}
		return cellmodel.Bool(raw[0] != 0), nil

	case oidChar, oidBPChar, oidVarchar, oidName, oidText:
		if !utf8.Valid(raw) {
			return cellmodel.Cell{}, &InvalidUTF8Error{}
		}
		return cellmodel.String(string(raw)), nil

	case oidInt2:
		if len(raw) != 2 {
			return cellmodel.Cell{}, decodeErrf("int2: expected 2 bytes, got %d", len(raw))
		}
		return cellmodel.I16(int16(binary.BigEndian.Uint16(raw))), nil

	case oidInt4:
		if len(raw) != 4 {
			return cellmodel.Cell{}, decodeErrf("int4: expected 4 bytes, got %d", len(raw))
		}
		return cellmodel.I32(int32(binary.BigEndian.Uint32(raw))), nil

	case oidInt8:
		if len(raw) != 8 {
			return cellmodel.Cell{}, decodeErrf("int8: expected 8 bytes, got %d", len(raw))
		}
		return cellmodel.I64(int64(binary.BigEndian.Uint64(raw))), nil

	case oidFloat4:
		if len(raw) != 4 {
			return cellmodel.Cell{}, decodeErrf("float4: expected 4 bytes, got %d", len(raw))
		}
		bits := binary.BigEndian.Uint32(raw)
		return cellmodel.F32(float32FromBits(bits)), nil

	case oidFloat8:
		if len(raw) != 8 {
			return cellmodel.Cell{}, decodeErrf("float8: expected 8 bytes, got %d", len(raw))
		}
		bits := binary.BigEndian.Uint64(raw)
		return cellmodel.F64(float64FromBits(bits)), nil

	case oidNumeric:
		n, err := numeric.Decode(raw)
		if err != nil {
			return cellmodel.Cell{}, decodeErrf("numeric: %v", err)
		}
		return cellmodel.Num(n), nil

	case oidUUID:
		u, err := uuid.FromBytes(raw)
		if err != nil {
			return cellmodel.Cell{}, decodeErrf("uuid: %v", err)
		}
		return cellmodel.UUID(u), nil

	case oidJSON, oidJSONB:
		body := raw
		if oid == oidJSONB && len(raw) > 0 {
			body = raw[1:] // leading version byte
		}
		return cellmodel.JSON(append([]byte(nil), body...)), nil

	case oidTimestamp:
		t, err := decodeBinaryTimestamp(raw)
		if err != nil {
			return cellmodel.Cell{}, err
		}
		return cellmodel.Timestamp(t), nil

	case oidTimestampTZ:
		t, err := decodeBinaryTimestamp(raw)
		if err != nil {
			return cellmodel.Cell{}, err
		}
		return cellmodel.TimestampTz(t), nil

	default:
		return cellmodel.Bytes(append([]byte(nil), raw...)), nil
	}
}

// decodeTextScalar converts a UTF-8 text-format tuple column into a
// Cell according to the rules the logical replication text protocol
// uses, per column type OID.
func decodeTextScalar(oid uint32, text string) (cellmodel.Cell, error) {
	switch oid {
	case oidBool:
		switch text {
		case "t":
			return cellmodel.Bool(true), nil
		case "f":
			return cellmodel.Bool(false), nil
		}
		b, err := strconv.ParseBool(text)
		if err != nil {
			return cellmodel.Cell{}, decodeErrf("invalid boolean %q", text)
		}
		return cellmodel.Bool(b), nil

	case oidChar, oidBPChar, oidVarchar, oidName, oidText:
		return cellmodel.String(text), nil

	case oidInt2:
		v, err := strconv.ParseInt(text, 10, 16)
		if err != nil {
			return cellmodel.Cell{}, decodeErrf("invalid int2 %q", text)
		}
		return cellmodel.I16(int16(v)), nil

	case oidInt4:
		v, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return cellmodel.Cell{}, decodeErrf("invalid int4 %q", text)
		}
		return cellmodel.I32(int32(v)), nil

	case oidInt8:
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return cellmodel.Cell{}, decodeErrf("invalid int8 %q", text)
		}
		return cellmodel.I64(v), nil

	case oidFloat4:
		v, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return cellmodel.Cell{}, decodeErrf("invalid float4 %q", text)
		}
		return cellmodel.F32(float32(v)), nil

	case oidFloat8:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return cellmodel.Cell{}, decodeErrf("invalid float8 %q", text)
		}
		return cellmodel.F64(v), nil

	case oidNumeric:
		n, err := numeric.ParseText(text)
		if err != nil {
			return cellmodel.Cell{}, decodeErrf("invalid numeric %q: %v", text, err)
		}
		return cellmodel.Num(n), nil

	case oidUUID:
		u, err := uuid.Parse(text)
		if err != nil {
			return cellmodel.Cell{}, decodeErrf("invalid uuid %q", text)
		}
		return cellmodel.UUID(u), nil

	case oidJSON, oidJSONB:
		return cellmodel.JSON([]byte(text)), nil

	case oidDate:
		t, err := cellmodel.ParseDate(text)
		if err != nil {
			return cellmodel.Cell{}, decodeErrf("invalid date %q", text)
		}
		return cellmodel.Date(t), nil

	case oidTime:
		t, err := cellmodel.ParseClockTime(text)
		if err != nil {
			return cellmodel.Cell{}, decodeErrf("invalid time %q", text)
		}
		return cellmodel.Time(t), nil

	case oidTimestamp:
		t, err := cellmodel.ParseNaiveTimestamp(text)
		if err != nil {
			return cellmodel.Cell{}, decodeErrf("invalid timestamp %q", text)
		}
		return cellmodel.Timestamp(t), nil

	case oidTimestampTZ:
		t, err := cellmodel.ParseAwareTimestamp(normalizePgOffset(text))
		if err != nil {
			return cellmodel.Cell{}, decodeErrf("invalid timestamptz %q", text)
		}
		return cellmodel.TimestampTz(t), nil

	case oidBytea:
		b, err := decodeHexBytea(text)
		if err != nil {
			return cellmodel.Cell{}, decodeErrf("invalid bytea %q: %v", text, err)
		}
		return cellmodel.Bytes(b), nil

	default:
		return cellmodel.Bytes([]byte(text)), nil
	}
}

// normalizePgOffset turns Postgres's "+05" / "+05:30" zone suffix into
// the "+05:00" form time.Parse expects for a "Z07:00" layout.
func normalizePgOffset(s string) string {
	idx := strings.LastIndexAny(s, "+-")
	if idx <= 10 { // don't mistake the date's dashes for a zone sign
		return s
	}
	zone := s[idx:]
	if strings.Count(zone, ":") == 1 || zone == "Z" {
		return s
	}
	return s[:idx] + zone + ":00"
}

func decodeHexBytea(text string) ([]byte, error) {
	if strings.HasPrefix(text, "\\x") {
		return hex.DecodeString(text[2:])
	}
	return []byte(text), nil
}

func float32FromBits(bits uint32) float32 {
	return math.Float32frombits(bits)
}

func float64FromBits(bits uint64) float64 {
	return math.Float64frombits(bits)
}
