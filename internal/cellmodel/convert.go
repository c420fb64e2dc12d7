package cellmodel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jfoltran/pgcdc/internal/numeric"
)

// Every scalar family gets four conversions off Cell: a total
// Cell->T, an optional Cell->*T mapping Null to nil, an array
// Cell->[]*T, and an optional array Cell->*[]*T additionally mapping
// Null and Array(Null) to nil. These are written out by hand rather
// than generated; the corpus treats either approach as acceptable so
// long as the semantics below hold.

// ---- bool ----

func (c Cell) AsBool() (bool, error) {
	if c.variant != VariantBool {
		return false, convErr(VariantBool, c)
	}
	return c.b, nil
}

func (c Cell) AsBoolOpt() (*bool, error) {
	if c.IsNull() {
		return nil, nil
	}
	v, err := c.AsBool()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsBoolArray() ([]*bool, error) {
	elems, err := c.arrayElems(VariantBool)
	if err != nil {
		return nil, err
	}
	out := make([]*bool, len(elems))
	for i, e := range elems {
		v, err := e.AsBoolOpt()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c Cell) AsBoolArrayOpt() (*[]*bool, error) {
	if arrIsNull(c) {
		return nil, nil
	}
	v, err := c.AsBoolArray()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ---- string ----

func (c Cell) AsString() (string, error) {
	if c.variant != VariantString {
		return "", convErr(VariantString, c)
	}
	return c.s, nil
}

func (c Cell) AsStringOpt() (*string, error) {
	if c.IsNull() {
		return nil, nil
	}
	v, err := c.AsString()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsStringArray() ([]*string, error) {
	elems, err := c.arrayElems(VariantString)
	if err != nil {
		return nil, err
	}
	out := make([]*string, len(elems))
	for i, e := range elems {
		v, err := e.AsStringOpt()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c Cell) AsStringArrayOpt() (*[]*string, error) {
	if arrIsNull(c) {
		return nil, nil
	}
	v, err := c.AsStringArray()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ---- i16 ----

func (c Cell) AsI16() (int16, error) {
	if c.variant != VariantI16 {
		return 0, convErr(VariantI16, c)
	}
	return c.i16, nil
}

func (c Cell) AsI16Opt() (*int16, error) {
	if c.IsNull() {
		return nil, nil
	}
	v, err := c.AsI16()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsI16Array() ([]*int16, error) {
	elems, err := c.arrayElems(VariantI16)
	if err != nil {
		return nil, err
	}
	out := make([]*int16, len(elems))
	for i, e := range elems {
		v, err := e.AsI16Opt()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c Cell) AsI16ArrayOpt() (*[]*int16, error) {
	if arrIsNull(c) {
		return nil, nil
	}
	v, err := c.AsI16Array()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ---- i32 ----

func (c Cell) AsI32() (int32, error) {
	if c.variant != VariantI32 {
		return 0, convErr(VariantI32, c)
	}
	return c.i32, nil
}

func (c Cell) AsI32Opt() (*int32, error) {
	if c.IsNull() {
		return nil, nil
	}
	v, err := c.AsI32()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsI32Array() ([]*int32, error) {
	elems, err := c.arrayElems(VariantI32)
	if err != nil {
		return nil, err
	}
	out := make([]*int32, len(elems))
	for i, e := range elems {
		v, err := e.AsI32Opt()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c Cell) AsI32ArrayOpt() (*[]*int32, error) {
	if arrIsNull(c) {
		return nil, nil
	}
	v, err := c.AsI32Array()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// U32 is produced either directly or by reinterpreting an I32 bit
// pattern, covering OID values that ride on INT4 in Postgres.

func (c Cell) AsU32() (uint32, error) {
	switch c.variant {
	case VariantU32:
		return c.u32, nil
	case VariantI32:
		return uint32(c.i32), nil
	default:
		return 0, convErr(VariantU32, c)
	}
}

func (c Cell) AsU32Opt() (*uint32, error) {
	if c.IsNull() {
		return nil, nil
	}
	v, err := c.AsU32()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsU32Array() ([]*uint32, error) {
	elems, err := c.arrayElemsAny(VariantU32, VariantI32)
	if err != nil {
		return nil, err
	}
	out := make([]*uint32, len(elems))
	for i, e := range elems {
		v, err := e.AsU32Opt()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c Cell) AsU32ArrayOpt() (*[]*uint32, error) {
	if arrIsNull(c) {
		return nil, nil
	}
	v, err := c.AsU32Array()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ---- i64 ----

func (c Cell) AsI64() (int64, error) {
	if c.variant != VariantI64 {
		return 0, convErr(VariantI64, c)
	}
	return c.i64, nil
}

func (c Cell) AsI64Opt() (*int64, error) {
	if c.IsNull() {
		return nil, nil
	}
	v, err := c.AsI64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsI64Array() ([]*int64, error) {
	elems, err := c.arrayElems(VariantI64)
	if err != nil {
		return nil, err
	}
	out := make([]*int64, len(elems))
	for i, e := range elems {
		v, err := e.AsI64Opt()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c Cell) AsI64ArrayOpt() (*[]*int64, error) {
	if arrIsNull(c) {
		return nil, nil
	}
	v, err := c.AsI64Array()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// U64 mirrors U32: a bit reinterpretation of an I64 is accepted too.

func (c Cell) AsU64() (uint64, error) {
	switch c.variant {
	case VariantU64:
		return c.u64, nil
	case VariantI64:
		return uint64(c.i64), nil
	default:
		return 0, convErr(VariantU64, c)
	}
}

func (c Cell) AsU64Opt() (*uint64, error) {
	if c.IsNull() {
		return nil, nil
	}
	v, err := c.AsU64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsU64Array() ([]*uint64, error) {
	elems, err := c.arrayElemsAny(VariantU64, VariantI64)
	if err != nil {
		return nil, err
	}
	out := make([]*uint64, len(elems))
	for i, e := range elems {
		v, err := e.AsU64Opt()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c Cell) AsU64ArrayOpt() (*[]*uint64, error) {
	if arrIsNull(c) {
		return nil, nil
	}
	v, err := c.AsU64Array()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ---- f32 ----

func (c Cell) AsF32() (float32, error) {
	if c.variant != VariantF32 {
		return 0, convErr(VariantF32, c)
	}
	return c.f32, nil
}

func (c Cell) AsF32Opt() (*float32, error) {
	if c.IsNull() {
		return nil, nil
	}
	v, err := c.AsF32()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsF32Array() ([]*float32, error) {
	elems, err := c.arrayElems(VariantF32)
	if err != nil {
		return nil, err
	}
	out := make([]*float32, len(elems))
	for i, e := range elems {
		v, err := e.AsF32Opt()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c Cell) AsF32ArrayOpt() (*[]*float32, error) {
	if arrIsNull(c) {
		return nil, nil
	}
	v, err := c.AsF32Array()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ---- f64 ----

func (c Cell) AsF64() (float64, error) {
	if c.variant != VariantF64 {
		return 0, convErr(VariantF64, c)
	}
	return c.f64, nil
}

func (c Cell) AsF64Opt() (*float64, error) {
	if c.IsNull() {
		return nil, nil
	}
	v, err := c.AsF64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsF64Array() ([]*float64, error) {
	elems, err := c.arrayElems(VariantF64)
	if err != nil {
		return nil, err
	}
	out := make([]*float64, len(elems))
	for i, e := range elems {
		v, err := e.AsF64Opt()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c Cell) AsF64ArrayOpt() (*[]*float64, error) {
	if arrIsNull(c) {
		return nil, nil
	}
	v, err := c.AsF64Array()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ---- numeric ----

func (c Cell) AsNumeric() (numeric.Numeric, error) {
	if c.variant != VariantNumeric {
		return numeric.Numeric{}, convErr(VariantNumeric, c)
	}
	return c.num, nil
}

func (c Cell) AsNumericOpt() (*numeric.Numeric, error) {
	if c.IsNull() {
		return nil, nil
	}
	v, err := c.AsNumeric()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsNumericArray() ([]*numeric.Numeric, error) {
	elems, err := c.arrayElems(VariantNumeric)
	if err != nil {
		return nil, err
	}
	out := make([]*numeric.Numeric, len(elems))
	for i, e := range elems {
		v, err := e.AsNumericOpt()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c Cell) AsNumericArrayOpt() (*[]*numeric.Numeric, error) {
	if arrIsNull(c) {
		return nil, nil
	}
	v, err := c.AsNumericArray()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ---- date / time / timestamp / timestamptz ----
//
// Timestamp values round-trip through the canonical string form
// "%Y-%m-%d %H:%M:%S%.f" (naive) or with a zone suffix (aware); the
// underlying Cell still stores a time.Time so arithmetic and
// formatting elsewhere in the codebase stay native.

const (
	naiveTimestampLayout = "2006-01-02 15:04:05.999999999"
	awareTimestampLayout = "2006-01-02 15:04:05.999999999Z07:00"
	dateLayout           = "2006-01-02"
	timeLayout           = "15:04:05.999999999"
)

func (c Cell) AsDate() (time.Time, error) {
	if c.variant != VariantDate {
		return time.Time{}, convErr(VariantDate, c)
	}
	return c.date, nil
}

func (c Cell) AsDateOpt() (*time.Time, error) {
	if c.IsNull() {
		return nil, nil
	}
	v, err := c.AsDate()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsTime() (time.Time, error) {
	if c.variant != VariantTime {
		return time.Time{}, convErr(VariantTime, c)
	}
	return c.clock, nil
}

func (c Cell) AsTimeOpt() (*time.Time, error) {
	if c.IsNull() {
		return nil, nil
	}
	v, err := c.AsTime()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// AsTimestamp returns the naive (zone-less) timestamp value.
func (c Cell) AsTimestamp() (time.Time, error) {
	if c.variant != VariantTimestamp {
		return time.Time{}, convErr(VariantTimestamp, c)
	}
	return c.ts, nil
}

func (c Cell) AsTimestampOpt() (*time.Time, error) {
	if c.IsNull() {
		return nil, nil
	}
	v, err := c.AsTimestamp()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// AsTimestampTz returns the UTC-normalized timestamp value.
func (c Cell) AsTimestampTz() (time.Time, error) {
	if c.variant != VariantTimestampTz {
		return time.Time{}, convErr(VariantTimestampTz, c)
	}
	return c.tsTz, nil
}

func (c Cell) AsTimestampTzOpt() (*time.Time, error) {
	if c.IsNull() {
		return nil, nil
	}
	v, err := c.AsTimestampTz()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// FormatNaiveTimestamp and FormatAwareTimestamp render the canonical
// string forms used at the wire boundary (%Y-%m-%d %H:%M:%S%.f and
// %Y-%m-%d %H:%M:%S%.f%:z respectively).
func FormatNaiveTimestamp(t time.Time) string {
	return t.Format(naiveTimestampLayout)
}

func FormatAwareTimestamp(t time.Time) string {
	return t.Format(awareTimestampLayout)
}

func ParseNaiveTimestamp(s string) (time.Time, error) {
	return time.Parse(naiveTimestampLayout, s)
}

func ParseAwareTimestamp(s string) (time.Time, error) {
	return time.Parse(awareTimestampLayout, s)
}

func ParseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

func ParseClockTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func (c Cell) AsDateArray() ([]*time.Time, error) {
	elems, err := c.arrayElems(VariantDate)
	if err != nil {
		return nil, err
	}
	out := make([]*time.Time, len(elems))
	for i, e := range elems {
		v, err := e.AsDateOpt()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c Cell) AsDateArrayOpt() (*[]*time.Time, error) {
	if arrIsNull(c) {
		return nil, nil
	}
	v, err := c.AsDateArray()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsTimeArray() ([]*time.Time, error) {
	elems, err := c.arrayElems(VariantTime)
	if err != nil {
		return nil, err
	}
	out := make([]*time.Time, len(elems))
	for i, e := range elems {
		v, err := e.AsTimeOpt()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c Cell) AsTimeArrayOpt() (*[]*time.Time, error) {
	if arrIsNull(c) {
		return nil, nil
	}
	v, err := c.AsTimeArray()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsTimestampArray() ([]*time.Time, error) {
	elems, err := c.arrayElems(VariantTimestamp)
	if err != nil {
		return nil, err
	}
	out := make([]*time.Time, len(elems))
	for i, e := range elems {
		v, err := e.AsTimestampOpt()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c Cell) AsTimestampArrayOpt() (*[]*time.Time, error) {
	if arrIsNull(c) {
		return nil, nil
	}
	v, err := c.AsTimestampArray()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsTimestampTzArray() ([]*time.Time, error) {
	elems, err := c.arrayElems(VariantTimestampTz)
	if err != nil {
		return nil, err
	}
	out := make([]*time.Time, len(elems))
	for i, e := range elems {
		v, err := e.AsTimestampTzOpt()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c Cell) AsTimestampTzArrayOpt() (*[]*time.Time, error) {
	if arrIsNull(c) {
		return nil, nil
	}
	v, err := c.AsTimestampTzArray()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsJSON(out any) error {
	if c.variant != VariantJSON {
		return convErr(VariantJSON, c)
	}
	return json.Unmarshal(c.jsonBytes, out)
}

func (c Cell) AsJSONRaw() ([]byte, error) {
	if c.variant != VariantJSON {
		return nil, convErr(VariantJSON, c)
	}
	return c.jsonBytes, nil
}

func (c Cell) AsJSONOpt() ([]byte, error) {
	if c.IsNull() {
		return nil, nil
	}
	return c.AsJSONRaw()
}

func (c Cell) AsJSONArray() ([][]byte, error) {
	elems, err := c.arrayElems(VariantJSON)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(elems))
	for i, e := range elems {
		v, err := e.AsJSONOpt()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c Cell) AsJSONArrayOpt() (*[][]byte, error) {
	if arrIsNull(c) {
		return nil, nil
	}
	v, err := c.AsJSONArray()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsBytes() ([]byte, error) {
	if c.variant != VariantBytes {
		return nil, convErr(VariantBytes, c)
	}
	return c.raw, nil
}

func (c Cell) AsBytesOpt() (*[]byte, error) {
	if c.IsNull() {
		return nil, nil
	}
	v, err := c.AsBytes()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsBytesArray() ([][]byte, error) {
	elems, err := c.arrayElems(VariantBytes)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(elems))
	for i, e := range elems {
		if e.IsNull() {
			continue
		}
		v, err := e.AsBytes()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c Cell) AsBytesArrayOpt() (*[][]byte, error) {
	if arrIsNull(c) {
		return nil, nil
	}
	v, err := c.AsBytesArray()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// UUID accepts a UUID cell, a parsed String cell, or parsed UTF-8
// Bytes, matching the three wire encodings Postgres may surface a
// uuid column through.

func (c Cell) AsUUID() (uuid.UUID, error) {
	switch c.variant {
	case VariantUUID:
		return c.uid, nil
	case VariantString:
		return uuid.Parse(c.s)
	case VariantBytes:
		return uuid.Parse(string(c.raw))
	default:
		return uuid.UUID{}, convErr(VariantUUID, c)
	}
}

func (c Cell) AsUUIDOpt() (*uuid.UUID, error) {
	if c.IsNull() {
		return nil, nil
	}
	v, err := c.AsUUID()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c Cell) AsUUIDArray() ([]*uuid.UUID, error) {
	elems, err := c.arrayElems(VariantUUID)
	if err != nil {
		return nil, err
	}
	out := make([]*uuid.UUID, len(elems))
	for i, e := range elems {
		v, err := e.AsUUIDOpt()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c Cell) AsUUIDArrayOpt() (*[]*uuid.UUID, error) {
	if arrIsNull(c) {
		return nil, nil
	}
	v, err := c.AsUUIDArray()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// arrayElems validates that c is a non-null Array whose elements all
// satisfy want (or are themselves Null), returning the raw elements
// for the caller to narrow individually.
func (c Cell) arrayElems(want Variant) ([]Cell, error) {
	return c.arrayElemsAny(want)
}

func (c Cell) arrayElemsAny(want ...Variant) ([]Cell, error) {
	if c.variant != VariantArray || c.arr.Null {
		return nil, convErr(VariantArray, c)
	}
	for _, e := range c.arr.Elems {
		if e.IsNull() {
			continue
		}
		ok := false
		for _, w := range want {
			if e.variant == w {
				ok = true
				break
			}
		}
		if !ok {
			return nil, fmt.Errorf("array element: %w", convErr(want[0], e))
		}
	}
	return c.arr.Elems, nil
}

func arrIsNull(c Cell) bool {
	if c.IsNull() {
		return true
	}
	return c.variant == VariantArray && c.arr.Null
}
