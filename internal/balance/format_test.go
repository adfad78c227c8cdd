package balance

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}

func TestFormatForDisplay(t *testing.T) {
	cases := []struct {
		amount   *big.Int
		decimals uint8
		want     string
	}{
		{wei("500000000000000000"), 18, "0.500"},
		{wei("1234500000000000"), 18, "0.001"},
		{wei("0"), 18, "0.000"},
		{wei("1000000000000000000"), 18, "1"},
		{wei("999600000000000000"), 18, "1"},
		{wei("999400000000000000"), 18, "0.999"},
		{wei("2500000000000000000"), 18, "2.5"},
		{wei("3000000000000000000"), 18, "3"},
		{wei("3040000000000000000"), 18, "3"},
		{wei("12345678"), 6, "12.3"},
		{wei("999"), 0, "999"},
		{nil, 18, "0"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatForDisplay(tc.amount, tc.decimals), "amount %v decimals %d", tc.amount, tc.decimals)
	}
}

func TestFormatBaseUnits(t *testing.T) {
	got, err := FormatBaseUnits("2500000000000000000", 18)
	require.NoError(t, err)
	assert.Equal(t, "2.5", got)

	_, err = FormatBaseUnits("2.5", 18)
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	cases := map[string]struct {
		value    string
		decimals uint8
		want     string
	}{
		"base units":     {"1000", 18, "1000"},
		"decimal ether":  {"0.1", 18, "100000000000000000"},
		"whole decimal":  {"2.0", 6, "2000000"},
		"leading dot":    {".5", 6, "500000"},
		"trailing zeros": {"1.500000000", 6, "1500000"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseAmount(tc.value, tc.decimals)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}

	for _, bad := range []string{"", "-1", "abc", "0.0000001", "1.2.3", "1e18"} {
		_, err := ParseAmount(bad, 6)
		assert.Error(t, err, bad)
	}
}
