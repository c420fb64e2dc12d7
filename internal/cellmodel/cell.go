package cellmodel

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jfoltran/pgcdc/internal/numeric"
)

// Variant identifies which alternative of the Cell union is populated.
type Variant int

const (
	VariantNull Variant = iota
	VariantBool
	VariantString
	VariantI16
	VariantI32
	VariantI64
	VariantU32
	VariantU64
	VariantF32
	VariantF64
	VariantNumeric
	VariantDate
	VariantTime
	VariantTimestamp   // naive, no zone
	VariantTimestampTz // UTC
	VariantUUID
	VariantJSON
	VariantBytes
	VariantArray
)

// ArrayCell is the one-level-deep array payload of a Cell. A nil Elems
// with Null set true represents SQL NULL for the whole array.
type ArrayCell struct {
	Null  bool
	Elems []Cell
}

// Cell is a closed tagged-value union: exactly one Postgres scalar
// family per variant, plus a single level of array nesting. Adding a
// variant is a breaking change to every conversion below.
type Cell struct {
	variant Variant

	b         bool
	s         string
	i16       int16
	i32       int32
	i64       int64
	u32       uint32
	u64       uint64
	f32       float32
	f64       float64
	num       numeric.Numeric
	date      time.Time
	clock     time.Time
	ts        time.Time
	tsTz      time.Time
	uid       uuid.UUID
	jsonBytes []byte
	raw       []byte
	arr       ArrayCell
}

func (c Cell) Variant() Variant { return c.variant }
func (c Cell) IsNull() bool     { return c.variant == VariantNull }

// Elements exposes an array cell's members for callers that convert
// generically by element variant rather than through one of the typed
// As*Array accessors (a destination sink mapping to its own value
// type, say). Returns ok=false for anything that is not a non-null
// array cell.
func (c Cell) Elements() (elems []Cell, ok bool) {
	if c.variant != VariantArray || c.arr.Null {
		return nil, false
	}
	return c.arr.Elems, true
}

// String renders the cell's underlying value for logging and as a
// map-key fragment; it is not a wire or display format.
func (c Cell) String() string {
	switch c.variant {
	case VariantNull:
		return "<null>"
	case VariantBool:
		return fmt.Sprintf("%t", c.b)
	case VariantString:
		return c.s
	case VariantI16:
		return fmt.Sprintf("%d", c.i16)
	case VariantI32:
		return fmt.Sprintf("%d", c.i32)
	case VariantI64:
		return fmt.Sprintf("%d", c.i64)
	case VariantU32:
		return fmt.Sprintf("%d", c.u32)
	case VariantU64:
		return fmt.Sprintf("%d", c.u64)
	case VariantF32:
		return fmt.Sprintf("%g", c.f32)
	case VariantF64:
		return fmt.Sprintf("%g", c.f64)
	case VariantNumeric:
		return c.num.String()
	case VariantDate:
		return c.date.Format(dateLayout)
	case VariantTime:
		return c.clock.Format(timeLayout)
	case VariantTimestamp:
		return FormatNaiveTimestamp(c.ts)
	case VariantTimestampTz:
		return FormatAwareTimestamp(c.tsTz)
	case VariantUUID:
		return c.uid.String()
	case VariantJSON:
		return string(c.jsonBytes)
	case VariantBytes:
		return fmt.Sprintf("%x", c.raw)
	case VariantArray:
		if c.arr.Null {
			return "<null>"
		}
		out := "["
		for i, e := range c.arr.Elems {
			if i > 0 {
				out += ","
			}
			out += e.String()
		}
		return out + "]"
	default:
		return "<unknown>"
	}
}

// Null is the SQL NULL cell.
func Null() Cell { return Cell{variant: VariantNull} }

func Bool(v bool) Cell           { return Cell{variant: VariantBool, b: v} }
func String(v string) Cell       { return Cell{variant: VariantString, s: v} }
func I16(v int16) Cell           { return Cell{variant: VariantI16, i16: v} }
func I32(v int32) Cell           { return Cell{variant: VariantI32, i32: v} }
func I64(v int64) Cell           { return Cell{variant: VariantI64, i64: v} }
func U32(v uint32) Cell          { return Cell{variant: VariantU32, u32: v} }
func U64(v uint64) Cell          { return Cell{variant: VariantU64, u64: v} }
func F32(v float32) Cell         { return Cell{variant: VariantF32, f32: v} }
func F64(v float64) Cell         { return Cell{variant: VariantF64, f64: v} }
func Num(v numeric.Numeric) Cell { return Cell{variant: VariantNumeric, num: v} }
func Date(v time.Time) Cell      { return Cell{variant: VariantDate, date: v} }
func Time(v time.Time) Cell      { return Cell{variant: VariantTime, clock: v} }
func Timestamp(v time.Time) Cell { return Cell{variant: VariantTimestamp, ts: v} }
func TimestampTz(v time.Time) Cell {
	return Cell{variant: VariantTimestampTz, tsTz: v.UTC()}
}
func UUID(v uuid.UUID) Cell { return Cell{variant: VariantUUID, uid: v} }
func JSON(v []byte) Cell    { return Cell{variant: VariantJSON, jsonBytes: v} }
func Bytes(v []byte) Cell   { return Cell{variant: VariantBytes, raw: v} }
func Array(v ArrayCell) Cell {
	return Cell{variant: VariantArray, arr: v}
}

// ConversionError reports a failed Cell -> T conversion: the cell held
// a variant other than the one T requires.
type ConversionError struct {
	Want Variant
	Got  Variant
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cell conversion: want variant %d, got %d", e.Want, e.Got)
}

func convErr(want Variant, got Cell) error {
	return &ConversionError{Want: want, Got: got.variant}
}
