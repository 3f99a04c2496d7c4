package fixed

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Marshal encodes v as JSON and canonicalizes every number in the result.
func Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Canonicalize(b)
}

// Canonicalize rewrites every number of a valid JSON document in plain notation rounded
// half away from zero to Places decimals. Strings and layout are left untouched.
func Canonicalize(doc []byte) ([]byte, error) {
	out := make([]byte, 0, len(doc))
	inString, escaped := false, false
	for i := 0; i < len(doc); {
		c := doc[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			out = append(out, c)
			i++
			continue
		}
		switch {
		case c == '"':
			inString = true
		case c == '-' || (c >= '0' && c <= '9'):
			j := i + 1
			for j < len(doc) && isNumberByte(doc[j]) {
				j++
			}
			d, err := decimal.NewFromString(string(doc[i:j]))
			if err != nil {
				return nil, fmt.Errorf("canonicalize number %q at offset %d: %w", doc[i:j], i, err)
			}
			out = append(out, d.Round(Places).String()...)
			i = j
			continue
		}
		out = append(out, c)
		i++
	}
	return out, nil
}

func isNumberByte(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-'
}
