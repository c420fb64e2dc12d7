// Package numeric decodes the Postgres binary NUMERIC wire format into
// an arbitrary-precision decimal, including its three special values.
package numeric

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Sign codes as they appear on the wire, following the fourth uint16
// field of the binary NUMERIC header.
const (
	signPositive uint16 = 0x0000
	signNegative uint16 = 0x4000
	signNaN      uint16 = 0xC000
	signPosInf   uint16 = 0xD000
	signNegInf   uint16 = 0xF000
)

// Kind distinguishes the special sentinel values from an ordinary
// decimal value.
type Kind int

const (
	KindValue Kind = iota
	KindNaN
	KindPosInfinity
	KindNegInfinity
)

// Numeric is the canonical decoded form of a Postgres NUMERIC: either
// one of the three sentinels or a decimal value.
type Numeric struct {
	kind  Kind
	value decimal.Decimal
}

// MaxSupportedScale bounds the fractional digits this decoder will
// keep; beyond it, digits are half-even rounded into the last kept
// place rather than carried further.
const MaxSupportedScale = 28

// NaN, PosInfinity, and NegInfinity are the three non-numeric values a
// Postgres NUMERIC column may hold.
func NaN() Numeric         { return Numeric{kind: KindNaN} }
func PosInfinity() Numeric { return Numeric{kind: KindPosInfinity} }
func NegInfinity() Numeric { return Numeric{kind: KindNegInfinity} }

// Value wraps an ordinary decimal.
func Value(d decimal.Decimal) Numeric {
	return Numeric{kind: KindValue, value: d}
}

func (n Numeric) Kind() Kind { return n.kind }

// Decimal returns the underlying decimal value. It is only meaningful
// when Kind() == KindValue.
func (n Numeric) Decimal() decimal.Decimal { return n.value }

func (n Numeric) IsNaN() bool         { return n.kind == KindNaN }
func (n Numeric) IsPosInfinity() bool { return n.kind == KindPosInfinity }
func (n Numeric) IsNegInfinity() bool { return n.kind == KindNegInfinity }

func (n Numeric) String() string {
	switch n.kind {
	case KindNaN:
		return "NaN"
	case KindPosInfinity:
		return "Infinity"
	case KindNegInfinity:
		return "-Infinity"
	default:
		return n.value.String()
	}
}

// Equal compares two Numeric values, treating equal sentinels as equal
// and otherwise delegating to decimal.Decimal.Equal (value equality,
// not representation equality).
func (n Numeric) Equal(other Numeric) bool {
	if n.kind != other.kind {
		return false
	}
	if n.kind != KindValue {
		return true
	}
	return n.value.Equal(other.value)
}

// DecodeError reports a hard failure decoding a binary NUMERIC value.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("numeric: %s", e.Reason)
}

const digitBase = 10000

// Decode parses the binary representation Postgres uses for NUMERIC:
// a big-endian header (n_digits uint16, weight int16, sign uint16,
// scale uint16) followed by n_digits base-10000 digit groups.
func Decode(raw []byte) (Numeric, error) {
	if len(raw) < 8 {
		return Numeric{}, &DecodeError{Reason: "truncated numeric header"}
	}
	nDigits := binary.BigEndian.Uint16(raw[0:2])
	weight := int16(binary.BigEndian.Uint16(raw[2:4]))
	sign := binary.BigEndian.Uint16(raw[4:6])
	scale := binary.BigEndian.Uint16(raw[6:8])

	switch sign {
	case signNaN:
		return NaN(), nil
	case signPosInf:
		return PosInfinity(), nil
	case signNegInf:
		return NegInfinity(), nil
	case signPositive, signNegative:
		// fall through to digit decode below
	default:
		return Numeric{}, &DecodeError{Reason: fmt.Sprintf("invalid sign code 0x%04X", sign)}
	}

	want := 8 + int(nDigits)*2
	if len(raw) < want {
		return Numeric{}, &DecodeError{Reason: "truncated numeric digits"}
	}

	digits := make([]uint16, nDigits)
	for i := range digits {
		digits[i] = binary.BigEndian.Uint16(raw[8+i*2 : 10+i*2])
	}

	d, err := assembleDecimal(digits, weight, sign == signNegative, scale)
	if err != nil {
		return Numeric{}, err
	}
	return Value(d), nil
}

// assembleDecimal accumulates the base-10000 digit groups into an
// unsigned big integer, then rescales the implied exponent to the
// declared scale, rounding half-even when the declared scale exceeds
// MaxSupportedScale.
func assembleDecimal(digits []uint16, weight int16, negative bool, scale uint16) (decimal.Decimal, error) {
	u := new(big.Int)
	base := big.NewInt(digitBase)
	for _, dg := range digits {
		if dg >= digitBase {
			return decimal.Decimal{}, &DecodeError{Reason: fmt.Sprintf("digit group %d out of range", dg)}
		}
		u.Mul(u, base)
		u.Add(u, big.NewInt(int64(dg)))
	}

	// The value represented is u * 10000^(weight - n_digits + 1), i.e.
	// a base-10 exponent of 4*(weight - n_digits + 1) relative to u's
	// own units digit.
	exp10 := 4 * (int(weight) - len(digits) + 1)

	d := decimal.NewFromBigInt(u, int32(exp10))
	if negative {
		d = d.Neg()
	}

	effectiveScale := int(scale)
	if effectiveScale > MaxSupportedScale {
		effectiveScale = MaxSupportedScale
	}
	d = d.RoundBank(int32(effectiveScale))
	// Round drops trailing zero padding; Postgres reports the exact
	// declared scale regardless of trailing zeros, so pad back out.
	if -d.Exponent() < int32(effectiveScale) {
		d = d.Truncate(int32(effectiveScale)).Round(int32(effectiveScale))
	}
	return d, nil
}

// Encode produces the binary NUMERIC wire representation for a value,
// the inverse of Decode.
func Encode(n Numeric) ([]byte, error) {
	var sign, weight, scale uint16
	var digits []uint16

	switch n.kind {
	case KindNaN:
		sign = signNaN
	case KindPosInfinity:
		sign = signPosInf
	case KindNegInfinity:
		sign = signNegInf
	case KindValue:
		var err error
		sign, weight, scale, digits, err = decomposeDecimal(n.value)
		if err != nil {
			return nil, err
		}
	default:
		return nil, &DecodeError{Reason: "unknown numeric kind"}
	}

	out := make([]byte, 8+len(digits)*2)
	binary.BigEndian.PutUint16(out[0:2], uint16(len(digits)))
	binary.BigEndian.PutUint16(out[2:4], weight)
	binary.BigEndian.PutUint16(out[4:6], sign)
	binary.BigEndian.PutUint16(out[6:8], scale)
	for i, dg := range digits {
		binary.BigEndian.PutUint16(out[8+i*2:10+i*2], dg)
	}
	return out, nil
}

func decomposeDecimal(d decimal.Decimal) (sign, weight, scale uint16, digits []uint16, err error) {
	if d.Sign() < 0 {
		sign = signNegative
		d = d.Neg()
	} else {
		sign = signPositive
	}

	negExp := -d.Exponent()
	if negExp < 0 {
		negExp = 0
	}
	scale = uint16(negExp)

	coeff := new(big.Int).Set(d.Coefficient())
	// Pad the coefficient so it represents whole base-10000 groups
	// measured from the decimal point: shift by however many extra
	// decimal digits are needed to reach a multiple of 4.
	shift := (4 - int(negExp)%4) % 4
	if shift > 0 {
		coeff.Mul(coeff, pow10(shift))
		negExp += shift
	}

	if coeff.Sign() == 0 {
		return sign, 0, scale, nil, nil
	}

	base := big.NewInt(digitBase)
	groupCount := negExp/4 + 1
	for ip := new(big.Int).Div(coeff, pow10(negExp)); ip.Cmp(base) >= 0; ip.Div(ip, base) {
		groupCount++
	}
	digits = make([]uint16, groupCount)
	rem := new(big.Int)
	tmp := new(big.Int).Set(coeff)
	for i := groupCount - 1; i >= 0; i-- {
		tmp.DivMod(tmp, base, rem)
		digits[i] = uint16(rem.Int64())
	}

	// Strip leading all-zero groups, adjusting weight to compensate.
	lead := 0
	for lead < len(digits)-1 && digits[lead] == 0 {
		lead++
	}
	weight = uint16(int(groupCount) - 1 - negExp/4 - lead)
	digits = digits[lead:]

	// Strip trailing all-zero groups; they contribute nothing once
	// scale already records the precision.
	end := len(digits)
	for end > 1 && digits[end-1] == 0 {
		end--
	}
	digits = digits[:end]

	return sign, weight, scale, digits, nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// ParseText parses the textual NUMERIC form used by the logical
// replication tuple-data protocol: the case-insensitive sentinels
// "infinity"/"-infinity"/"nan", or an ordinary decimal literal.
func ParseText(s string) (Numeric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nan":
		return NaN(), nil
	case "infinity", "+infinity":
		return PosInfinity(), nil
	case "-infinity":
		return NegInfinity(), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Numeric{}, &DecodeError{Reason: fmt.Sprintf("invalid numeric literal %q: %v", s, err)}
	}
	return Value(d), nil
}
