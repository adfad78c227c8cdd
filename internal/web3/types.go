package web3

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// NativeToken is the pseudo contract address used for the chain's native coin.
var NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// userRejectedCode is the EIP-1193 provider error for a declined request.
const userRejectedCode = 4001

// ErrUserRejected reports that the wallet owner declined to sign.
var ErrUserRejected = errors.New("user rejected the request")

// ErrNoSigner is returned by read-only accounts asked to transfer.
var ErrNoSigner = errors.New("account has no signer attached")

// IsUserRejected recognises a declined signature, either our sentinel or an
// RPC error carrying code 4001 from an external wallet.
func IsUserRejected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
		return true
	}
	return false
}

// Token describes an asset the wallet can read or send.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// Native reports whether the token is the chain's native coin.
func (t Token) Native() bool {
	return t.Address == NativeToken
}

// TransferReceipt identifies a submitted transfer.
type TransferReceipt struct {
	TransactionID string `json:"transactionId"`
}

// TransactionDescriptor is the chain-agnostic shape of a call to simulate.
type TransactionDescriptor struct {
	From  common.Address
	To    *common.Address
	Value *big.Int
	Data  []byte
	Gas   uint64
}

// SimulateOptions controls simulation behaviour.
type SimulateOptions struct {
	// SkipValidate skips sender-side checks such as balance sufficiency.
	SkipValidate bool
}

// SimulationResult is the outcome of a non-committing execution.
type SimulationResult struct {
	Success      bool            `json:"success"`
	From         common.Address  `json:"from"`
	To           *common.Address `json:"to,omitempty"`
	Value        *hexutil.Big    `json:"value,omitempty"`
	GasUsed      hexutil.Uint64  `json:"gasUsed"`
	ReturnData   hexutil.Bytes   `json:"returnData,omitempty"`
	RevertReason string          `json:"revertReason,omitempty"`
	BlockNumber  hexutil.Uint64  `json:"blockNumber"`
}

// Account is the wallet capability handed to the executor. Implementations
// are not safe for concurrent side-effecting use; callers serialize turns.
type Account interface {
	Address() common.Address
	// ReadBalance returns the raw balance as reported by the ledger client.
	// The shape varies: a bare value, a one-element sequence or an object
	// with a balance field.
	ReadBalance(ctx context.Context, token common.Address) (any, error)
	ExecuteTransfer(ctx context.Context, token, to common.Address, amount *big.Int) (TransferReceipt, error)
	Simulate(ctx context.Context, tx TransactionDescriptor, opts SimulateOptions) (SimulationResult, error)
}

// AccountProvider hands out the account for a session. An empty address
// selects the default account.
type AccountProvider interface {
	Account(ctx context.Context, address string) (Account, error)
}

// TokenMetadataReader reads ERC-20 metadata directly from the chain.
type TokenMetadataReader interface {
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
}

// ChainSnapshot represents summarized network metadata for health reporting.
type ChainSnapshot struct {
	Name        string `json:"name"`
	ChainID     string `json:"chainId"`
	BlockNumber string `json:"blockNumber"`
	Notes       string `json:"notes,omitempty"`
}
