// Package fixed provides a float type with a deterministic plain-number JSON encoding.
package fixed

import (
	"bytes"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places kept when encoding.
const Places = 8

// Float is a float64 that encodes as a plain fixed-point JSON number.
// NaN and infinities encode as 0.
type Float float64

// Round rounds v half away from zero to the given number of decimal places.
// NaN and infinities round to 0.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// Of converts a float64, clearing NaN and infinities.
func Of(v float64) Float {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return Float(v)
}

// Float64 returns the underlying value.
func (f Float) Float64() float64 { return float64(f) }

// String renders the value the same way it is encoded.
func (f Float) String() string {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return decimal.NewFromFloat(v).Round(Places).String()
}

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalJSON accepts numbers, numeric strings and null. Anything unparsable decodes as 0.
func (f *Float) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		b = bytes.Trim(b, `"`)
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = Of(v)
	return nil
}
