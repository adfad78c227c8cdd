// Package balance turns the raw balance payloads returned by wallet accounts
// into a single base-unit amount and formats it for people.
package balance

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math/big"
	"reflect"
	"slices"
	"strings"

	xerrors "WalletPilot/internal/errors"
	"WalletPilot/internal/web3"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Amount is a normalised balance in the token's smallest unit.
type Amount struct {
	Token     web3.Token
	BaseUnits *big.Int
}

// String returns the canonical base-unit decimal string.
func (a Amount) String() string {
	if a.BaseUnits == nil {
		return "0"
	}
	return a.BaseUnits.String()
}

// Display renders the amount with FormatForDisplay.
func (a Amount) Display() string {
	return FormatForDisplay(a.BaseUnits, a.Token.Decimals)
}

// Resolver reads balances through a wallet account.
type Resolver struct{}

// NewResolver returns a balance resolver.
func NewResolver() *Resolver { return &Resolver{} }

// Resolve queries the account once and normalises whatever shape it returns.
func (r *Resolver) Resolve(ctx context.Context, account web3.Account, token web3.Token) (Amount, error) {
	if account == nil {
		return Amount{}, queryFailure(token, fmt.Errorf("未提供钱包账户"))
	}
	raw, err := account.ReadBalance(ctx, token.Address)
	if err != nil {
		return Amount{}, queryFailure(token, err)
	}
	value, err := Normalize(raw)
	if err != nil {
		return Amount{}, queryFailure(token, err)
	}
	return Amount{Token: token, BaseUnits: value}, nil
}

func queryFailure(token web3.Token, cause error) error {
	return xerrors.Wrap(xerrors.CodeBalanceQueryFailure, cause,
		fmt.Sprintf("failed to query balance of token %s", token.Address.Hex()),
		xerrors.WithMetadata("token", token.Address.Hex()),
		xerrors.WithMetadata("symbol", token.Symbol))
}

// Normalize converts a raw balance payload into base units. It accepts a
// bare value, a single-element sequence or an object exposing a balance field.
func Normalize(raw any) (*big.Int, error) {
	value, err := normalize(raw, 0)
	if err != nil {
		return nil, err
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("余额为负数: %s", value)
	}
	return value, nil
}

const maxDepth = 4

var two128 = new(big.Int).Lsh(big.NewInt(1), 128)

func normalize(raw any, depth int) (*big.Int, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("余额结构嵌套过深")
	}

	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("余额为空")
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("余额为空")
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case *hexutil.Big:
		if v == nil {
			return nil, fmt.Errorf("余额为空")
		}
		return new(big.Int).Set(v.ToInt()), nil
	case hexutil.Big:
		return new(big.Int).Set(v.ToInt()), nil
	case string:
		return parseInteger(v)
	case json.Number:
		return parseInteger(v.String())
	case float64:
		f := new(big.Float).SetFloat64(v)
		if !f.IsInt() {
			return nil, fmt.Errorf("余额不是整数: %v", v)
		}
		out, _ := f.Int(nil)
		return out, nil
	case int:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case []any:
		if len(v) != 1 {
			return nil, fmt.Errorf("余额序列应只包含一个元素，实际为 %d", len(v))
		}
		return normalize(v[0], depth+1)
	case map[string]any:
		return fromFields(v, depth)
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, fmt.Errorf("余额为空")
		}
		return normalize(rv.Elem().Interface(), depth+1)
	case reflect.Slice, reflect.Array:
		if rv.Len() != 1 {
			return nil, fmt.Errorf("余额序列应只包含一个元素，实际为 %d", rv.Len())
		}
		return normalize(rv.Index(0).Interface(), depth+1)
	case reflect.Struct:
		if field := rv.FieldByName("Balance"); field.IsValid() && field.CanInterface() {
			return normalize(field.Interface(), depth+1)
		}
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return big.NewInt(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return new(big.Int).SetUint64(rv.Uint()), nil
	}
	return nil, fmt.Errorf("无法识别的余额格式 %T", raw)
}

func fromFields(fields map[string]any, depth int) (*big.Int, error) {
	if value, ok := fields["balance"]; ok {
		return normalize(value, depth+1)
	}
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		if strings.EqualFold(key, "balance") {
			return normalize(fields[key], depth+1)
		}
	}
	low, hasLow := fields["low"]
	high, hasHigh := fields["high"]
	if hasLow && hasHigh {
		lo, err := normalize(low, depth+1)
		if err != nil {
			return nil, err
		}
		hi, err := normalize(high, depth+1)
		if err != nil {
			return nil, err
		}
		if lo.Sign() < 0 || hi.Sign() < 0 || lo.Cmp(two128) >= 0 {
			return nil, fmt.Errorf("low/high 余额分量超出范围")
		}
		return new(big.Int).Add(new(big.Int).Mul(hi, two128), lo), nil
	}
	return nil, fmt.Errorf("余额对象缺少 balance 字段")
}

func parseInteger(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("余额为空字符串")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		value, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, fmt.Errorf("无法解析十六进制余额 %q", s)
		}
		return value, nil
	}
	value, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("无法解析余额 %q", s)
	}
	return value, nil
}
