package executor

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"WalletPilot/internal/balance"
	xerrors "WalletPilot/internal/errors"
	"WalletPilot/internal/intent"
	"WalletPilot/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func invalidArgument(name, format string, args ...any) error {
	return xerrors.New(xerrors.CodeInvalidArgument,
		fmt.Sprintf("invalid %s: %s", name, fmt.Sprintf(format, args...)),
		xerrors.WithMetadata("argument", name))
}

func parseAddress(name, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, invalidArgument(name, "%q is not an address", raw)
	}
	return common.HexToAddress(raw), nil
}

// parseAmount reads the amount argument. Integers are base units, decimals
// are whole tokens.
func parseAmount(args intent.Arguments, token web3.Token) (*big.Int, error) {
	raw, ok := args.String(intent.ArgAmount)
	if !ok {
		return nil, invalidArgument(intent.ArgAmount, "amount must be a number or numeric string")
	}
	amount, err := balance.ParseAmount(raw, token.Decimals)
	if err != nil {
		return nil, invalidArgument(intent.ArgAmount, "%v", err)
	}
	if amount.Sign() <= 0 {
		return nil, invalidArgument(intent.ArgAmount, "amount must be greater than zero")
	}
	return amount, nil
}

// parseCalldata accepts a 0x-prefixed hex string or a list of such words,
// which are concatenated.
func parseCalldata(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case string:
		data, err := hexutil.Decode(strings.TrimSpace(v))
		if err != nil {
			return nil, invalidArgument(intent.ArgCalldata, "%v", err)
		}
		return data, nil
	case []any:
		var data []byte
		for i, item := range v {
			word, ok := item.(string)
			if !ok {
				return nil, invalidArgument(intent.ArgCalldata, "element %d is not a hex string", i)
			}
			chunk, err := hexutil.Decode(strings.TrimSpace(word))
			if err != nil {
				return nil, invalidArgument(intent.ArgCalldata, "element %d: %v", i, err)
			}
			data = append(data, chunk...)
		}
		return data, nil
	default:
		return nil, invalidArgument(intent.ArgCalldata, "unsupported type %T", raw)
	}
}

// rawDescriptor converts a user supplied transaction object. Unknown fields
// are ignored; from defaults to the connected account.
func rawDescriptor(tx map[string]any, owner common.Address) (web3.TransactionDescriptor, error) {
	fields := intent.Arguments(tx)
	desc := web3.TransactionDescriptor{From: owner, Value: new(big.Int)}

	if raw, ok := fields.String("from"); ok {
		from, err := parseAddress("transaction.from", raw)
		if err != nil {
			return desc, err
		}
		desc.From = from
	}
	if raw, ok := fields.String("to"); ok {
		to, err := parseAddress("transaction.to", raw)
		if err != nil {
			return desc, err
		}
		desc.To = &to
	}
	if raw, ok := fields.String("value"); ok {
		value, err := parseQuantity(raw)
		if err != nil {
			return desc, invalidArgument("transaction.value", "%v", err)
		}
		desc.Value = value
	}
	for _, key := range []string{"data", "input"} {
		if raw, ok := tx[key]; ok && raw != nil {
			data, err := parseCalldata(raw)
			if err != nil {
				return desc, err
			}
			desc.Data = data
			break
		}
	}
	if raw, ok := fields.String("gas"); ok {
		gas, err := parseQuantity(raw)
		if err != nil || !gas.IsUint64() {
			return desc, invalidArgument("transaction.gas", "%q is not a gas limit", raw)
		}
		desc.Gas = gas.Uint64()
	}
	if desc.To == nil && len(desc.Data) == 0 {
		return desc, invalidArgument(intent.ArgTransaction, "either to or data is required")
	}
	return desc, nil
}

// parseQuantity reads a hex or decimal integer.
func parseQuantity(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		value, ok := new(big.Int).SetString(raw[2:], 16)
		if !ok {
			return nil, fmt.Errorf("%q is not a hex quantity", raw)
		}
		return value, nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%q is not a quantity", raw)
	}
	return value, nil
}

func encodeResult(result web3.SimulationResult) (string, error) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
