package balance

import (
	"fmt"
	"math/big"
	"strings"
)

// FormatForDisplay renders a base-unit amount in whole tokens. Amounts below
// one token keep three decimals, larger amounts keep at most one.
func FormatForDisplay(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	value := new(big.Rat).SetFrac(amount, pow10(decimals))
	// The branch follows the rounded value, so 0.9996 shows as "1".
	small := value.FloatString(3)
	if rounded, ok := new(big.Rat).SetString(small); ok && rounded.Cmp(big.NewRat(1, 1)) < 0 {
		return small
	}
	return strings.TrimSuffix(value.FloatString(1), ".0")
}

// FormatBaseUnits is FormatForDisplay for a base-unit decimal string.
func FormatBaseUnits(baseUnits string, decimals uint8) (string, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(baseUnits), 10)
	if !ok {
		return "", fmt.Errorf("无法解析金额 %q", baseUnits)
	}
	return FormatForDisplay(amount, decimals), nil
}

// ParseAmount converts a user supplied amount into base units. Integer
// strings are already base units; decimal strings are whole tokens and are
// scaled by decimals.
func ParseAmount(value string, decimals uint8) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("金额为空")
	}
	if strings.HasPrefix(value, "-") {
		return nil, fmt.Errorf("金额不能为负数: %s", value)
	}

	whole, frac, isDecimal := strings.Cut(value, ".")
	if !isDecimal {
		amount, ok := new(big.Int).SetString(value, 10)
		if !ok {
			return nil, fmt.Errorf("无法解析金额 %q", value)
		}
		return amount, nil
	}

	if whole == "" {
		whole = "0"
	}
	frac = strings.TrimRight(frac, "0")
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("金额 %s 的小数位超过代币精度 %d", value, decimals)
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("无法解析金额 %q", value)
		}
	}
	amount, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("无法解析金额 %q", value)
	}
	return amount, nil
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
