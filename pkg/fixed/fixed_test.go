package fixed

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalPlainNumbers(t *testing.T) {
	cases := map[string]struct {
		in   float64
		want string
	}{
		"integer":         {50, "50"},
		"fraction":        {0.1 + 0.2, "0.3"},
		"small":           {0.00000001, "0.00000001"},
		"large":           {1.5e12, "1500000000000"},
		"negative":        {-12.345, "-12.345"},
		"rounded":         {1.123456789, "1.12345679"},
		"nan":             {math.NaN(), "0"},
		"positive inf":    {math.Inf(1), "0"},
		"negative inf":    {math.Inf(-1), "0"},
		"below precision": {1e-10, "0"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			b, err := json.Marshal(Float(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(b))
		})
	}
}

func TestUnmarshalDefensive(t *testing.T) {
	var v struct {
		A Float `json:"a"`
		B Float `json:"b"`
		C Float `json:"c"`
		D Float `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12.5","b":null,"c":3,"d":"oops"}`), &v))
	assert.Equal(t, Float(12.5), v.A)
	assert.Equal(t, Float(0), v.B)
	assert.Equal(t, Float(3), v.C)
	assert.Equal(t, Float(0), v.D)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 2.35, Round(2.345, 2))
	assert.Equal(t, -2.35, Round(-2.345, 2))
	assert.Equal(t, 0.0, Round(math.NaN(), 2))
}
