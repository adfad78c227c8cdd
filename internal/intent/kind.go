package intent

import (
	"fmt"
	"strings"
)

// Kind identifies one wallet operation. The numeric codes are shared with the
// classifier prompt and must not be renumbered.
type Kind int

const (
	Unrecognized           Kind = -1
	GetBalance             Kind = 0
	GetTokenBalance        Kind = 1
	SimulateTransaction    Kind = 2
	SendToken              Kind = 3
	SendEth                Kind = 4
	GetAddress             Kind = 5
	NormalChat             Kind = 6
	SimulateRawTransaction Kind = 7
	SimulateMyOperation    Kind = 8
)

// Argument names understood by the executor.
const (
	ArgTokenAddress = "tokenAddress"
	ArgTo           = "to"
	ArgAmount       = "amount"
	ArgCalldata     = "calldata"
	ArgTransaction  = "transaction"
)

type kindInfo struct {
	name        string
	description string
	required    []string
	effect      effect
}

type effect int

const (
	effectNone effect = iota
	effectRead
	effectSimulate
	effectWrite
)

var kinds = map[Kind]kindInfo{
	GetBalance: {
		name:        "GetBalance",
		description: "native coin balance of the connected wallet",
		effect:      effectRead,
	},
	GetTokenBalance: {
		name:        "GetTokenBalance",
		description: "ERC-20 token balance; tokenAddress may be omitted for the default token",
		effect:      effectRead,
	},
	SimulateTransaction: {
		name:        "SimulateTransaction",
		description: "simulate a contract call",
		required:    []string{ArgTo, ArgCalldata},
		effect:      effectSimulate,
	},
	SendToken: {
		name:        "SendToken",
		description: "transfer an ERC-20 token",
		required:    []string{ArgTokenAddress, ArgTo, ArgAmount},
		effect:      effectWrite,
	},
	SendEth: {
		name:        "SendEth",
		description: "transfer the native coin",
		required:    []string{ArgTo, ArgAmount},
		effect:      effectWrite,
	},
	GetAddress: {
		name:        "GetAddress",
		description: "show the connected wallet address",
		effect:      effectRead,
	},
	NormalChat: {
		name:        "NormalChat",
		description: "small talk or questions that need no wallet action",
	},
	SimulateRawTransaction: {
		name:        "SimulateRawTransaction",
		description: "simulate a raw transaction object supplied by the user",
		required:    []string{ArgTransaction},
		effect:      effectSimulate,
	},
	SimulateMyOperation: {
		name:        "SimulateMyOperation",
		description: "preview a transfer from the connected wallet without sending it",
		required:    []string{ArgTo, ArgAmount},
		effect:      effectSimulate,
	},
}

// Kinds returns every recognized kind in code order.
func Kinds() []Kind {
	return []Kind{
		GetBalance,
		GetTokenBalance,
		SimulateTransaction,
		SendToken,
		SendEth,
		GetAddress,
		NormalChat,
		SimulateRawTransaction,
		SimulateMyOperation,
	}
}

// KindFromCode maps a wire code onto a Kind. Unknown codes become Unrecognized.
func KindFromCode(code int) Kind {
	k := Kind(code)
	if _, ok := kinds[k]; ok {
		return k
	}
	return Unrecognized
}

// ParseKindName resolves the textual tag of a kind, case-insensitively.
func ParseKindName(name string) (Kind, bool) {
	name = strings.TrimSpace(name)
	for k, info := range kinds {
		if strings.EqualFold(info.name, name) {
			return k, true
		}
	}
	return Unrecognized, false
}

// Known reports whether k is one of the recognized operations.
func (k Kind) Known() bool {
	_, ok := kinds[k]
	return ok
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return "Unrecognized"
}

// Code returns the wire code.
func (k Kind) Code() int { return int(k) }

// SideEffecting reports whether the operation submits or simulates a transaction.
func (k Kind) SideEffecting() bool {
	info, ok := kinds[k]
	return ok && (info.effect == effectWrite || info.effect == effectSimulate)
}

// Irreversible reports whether the operation changes chain state.
func (k Kind) Irreversible() bool {
	info, ok := kinds[k]
	return ok && info.effect == effectWrite
}

// RequiredArguments lists the argument names that must be present before the
// operation may run.
func (k Kind) RequiredArguments() []string {
	info, ok := kinds[k]
	if !ok || len(info.required) == 0 {
		return nil
	}
	out := make([]string, len(info.required))
	copy(out, info.required)
	return out
}

// MarshalText encodes the kind as its name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name written by MarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	kind, ok := ParseKindName(string(text))
	if !ok && string(text) == Unrecognized.String() {
		kind, ok = Unrecognized, true
	}
	if !ok {
		return fmt.Errorf("unknown operation %q", text)
	}
	*k = kind
	return nil
}
