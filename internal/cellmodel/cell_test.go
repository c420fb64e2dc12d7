package cellmodel

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jfoltran/pgcdc/internal/numeric"
)

func TestScalarRoundTrip(t *testing.T) {
	if v, err := Bool(true).AsBool(); err != nil || v != true {
		t.Errorf("Bool round trip: %v, %v", v, err)
	}
	if v, err := String("hi").AsString(); err != nil || v != "hi" {
		t.Errorf("String round trip: %v, %v", v, err)
	}
	if v, err := I16(7).AsI16(); err != nil || v != 7 {
		t.Errorf("I16 round trip: %v, %v", v, err)
	}
	if v, err := I32(7).AsI32(); err != nil || v != 7 {
		t.Errorf("I32 round trip: %v, %v", v, err)
	}
	if v, err := U32(7).AsU32(); err != nil || v != 7 {
		t.Errorf("U32 round trip: %v, %v", v, err)
	}
	if v, err := I64(7).AsI64(); err != nil || v != 7 {
		t.Errorf("I64 round trip: %v, %v", v, err)
	}
	if v, err := U64(7).AsU64(); err != nil || v != 7 {
		t.Errorf("U64 round trip: %v, %v", v, err)
	}
	if v, err := F32(1.5).AsF32(); err != nil || v != 1.5 {
		t.Errorf("F32 round trip: %v, %v", v, err)
	}
	if v, err := F64(1.5).AsF64(); err != nil || v != 1.5 {
		t.Errorf("F64 round trip: %v, %v", v, err)
	}
	u := uuid.New()
	if v, err := UUID(u).AsUUID(); err != nil || v != u {
		t.Errorf("UUID round trip: %v, %v", v, err)
	}
}

func TestTemporalRoundTrip(t *testing.T) {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if v, err := Date(date).AsDate(); err != nil || !v.Equal(date) {
		t.Errorf("Date round trip: %v, %v", v, err)
	}

	clock := time.Date(0, 1, 1, 12, 30, 45, 0, time.UTC)
	if v, err := Time(clock).AsTime(); err != nil || !v.Equal(clock) {
		t.Errorf("Time round trip: %v, %v", v, err)
	}

	ts := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	if v, err := Timestamp(ts).AsTimestamp(); err != nil || !v.Equal(ts) {
		t.Errorf("Timestamp round trip: %v, %v", v, err)
	}

	tsTz := ts.In(time.FixedZone("UTC-3", -3*60*60))
	if v, err := TimestampTz(tsTz).AsTimestampTz(); err != nil || !v.Equal(tsTz) {
		t.Errorf("TimestampTz round trip: %v, %v", v, err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	raw := []byte(`{"a":1}`)
	if v, err := JSON(raw).AsJSONRaw(); err != nil || !bytes.Equal(v, raw) {
		t.Errorf("JSON round trip: %v, %v", v, err)
	}

	var decoded struct {
		A int `json:"a"`
	}
	if err := JSON(raw).AsJSON(&decoded); err != nil || decoded.A != 1 {
		t.Errorf("AsJSON unmarshal: %+v, %v", decoded, err)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if v, err := Bytes(raw).AsBytes(); err != nil || !bytes.Equal(v, raw) {
		t.Errorf("Bytes round trip: %v, %v", v, err)
	}
}

func TestConversionMismatchFails(t *testing.T) {
	if _, err := String("x").AsI32(); err == nil {
		t.Error("expected conversion error for String->I32")
	}
	if _, err := I32(1).AsBool(); err == nil {
		t.Error("expected conversion error for I32->Bool")
	}
}

func TestU32FromI32BitPattern(t *testing.T) {
	v, err := I32(-1).AsU32()
	if err != nil {
		t.Fatalf("AsU32: %v", err)
	}
	if v != 0xFFFFFFFF {
		t.Errorf("got %x, want 0xFFFFFFFF", v)
	}
}

func TestNullToOptionalIsNone(t *testing.T) {
	v, err := Null().AsI32Opt()
	if err != nil {
		t.Fatalf("AsI32Opt: %v", err)
	}
	if v != nil {
		t.Errorf("expected nil, got %v", *v)
	}

	s, err := Null().AsStringOpt()
	if err != nil || s != nil {
		t.Errorf("expected nil string, got %v, %v", s, err)
	}
}

func TestNullArrayToOptionalArrayIsNone(t *testing.T) {
	v, err := Array(ArrayCell{Null: true}).AsI32ArrayOpt()
	if err != nil {
		t.Fatalf("AsI32ArrayOpt: %v", err)
	}
	if v != nil {
		t.Errorf("expected nil, got %v", *v)
	}
}

func TestArrayConversion(t *testing.T) {
	arr := Array(ArrayCell{Elems: []Cell{I32(1), Null(), I32(3)}})
	got, err := arr.AsI32Array()
	if err != nil {
		t.Fatalf("AsI32Array: %v", err)
	}
	if len(got) != 3 || *got[0] != 1 || got[1] != nil || *got[2] != 3 {
		t.Errorf("unexpected array result: %+v", got)
	}
}

func TestArrayConversionOtherTypes(t *testing.T) {
	if got, err := Array(ArrayCell{Elems: []Cell{I16(1), Null()}}).AsI16Array(); err != nil || len(got) != 2 || *got[0] != 1 || got[1] != nil {
		t.Errorf("AsI16Array: %+v, %v", got, err)
	}
	if got, err := Array(ArrayCell{Elems: []Cell{U32(1), Null()}}).AsU32Array(); err != nil || len(got) != 2 || *got[0] != 1 || got[1] != nil {
		t.Errorf("AsU32Array: %+v, %v", got, err)
	}
	if got, err := Array(ArrayCell{Elems: []Cell{U64(1), Null()}}).AsU64Array(); err != nil || len(got) != 2 || *got[0] != 1 || got[1] != nil {
		t.Errorf("AsU64Array: %+v, %v", got, err)
	}
	if got, err := Array(ArrayCell{Elems: []Cell{F32(1.5), Null()}}).AsF32Array(); err != nil || len(got) != 2 || *got[0] != 1.5 || got[1] != nil {
		t.Errorf("AsF32Array: %+v, %v", got, err)
	}
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if got, err := Array(ArrayCell{Elems: []Cell{Date(date), Null()}}).AsDateArray(); err != nil || len(got) != 2 || !got[0].Equal(date) || got[1] != nil {
		t.Errorf("AsDateArray: %+v, %v", got, err)
	}
	raw := []byte("payload")
	if got, err := Array(ArrayCell{Elems: []Cell{Bytes(raw), Null()}}).AsBytesArray(); err != nil || len(got) != 2 || !bytes.Equal(got[0], raw) || got[1] != nil {
		t.Errorf("AsBytesArray: %+v, %v", got, err)
	}
	doc := []byte(`{"a":1}`)
	if got, err := Array(ArrayCell{Elems: []Cell{JSON(doc), Null()}}).AsJSONArray(); err != nil || len(got) != 2 || !bytes.Equal(got[0], doc) || got[1] != nil {
		t.Errorf("AsJSONArray: %+v, %v", got, err)
	}
}

func TestUUIDFromStringAndBytes(t *testing.T) {
	u := uuid.New()
	if got, err := String(u.String()).AsUUID(); err != nil || got != u {
		t.Errorf("UUID from string: %v, %v", got, err)
	}
	if got, err := Bytes([]byte(u.String())).AsUUID(); err != nil || got != u {
		t.Errorf("UUID from bytes: %v, %v", got, err)
	}
}

func TestNumericCell(t *testing.T) {
	n := numeric.NaN()
	v, err := Num(n).AsNumeric()
	if err != nil {
		t.Fatalf("AsNumeric: %v", err)
	}
	if !v.IsNaN() {
		t.Error("expected NaN")
	}

	d := numeric.Value(decimal.NewFromFloat(42.5))
	got, err := Num(d).AsNumeric()
	if err != nil {
		t.Fatalf("AsNumeric: %v", err)
	}
	if !got.Decimal().Equal(decimal.NewFromFloat(42.5)) {
		t.Errorf("expected 42.5, got %v", got.Decimal())
	}
}

func TestTimestampCanonicalForm(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	s := FormatNaiveTimestamp(ts)
	got, err := ParseNaiveTimestamp(s)
	if err != nil {
		t.Fatalf("ParseNaiveTimestamp: %v", err)
	}
	if !got.Equal(ts) {
		t.Errorf("round trip mismatch: %v != %v", got, ts)
	}
}
