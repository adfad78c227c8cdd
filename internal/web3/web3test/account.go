// Package web3test provides an in-memory wallet account for tests.
package web3test

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"WalletPilot/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// Transfer records one ExecuteTransfer call.
type Transfer struct {
	Token  common.Address
	To     common.Address
	Amount *big.Int
}

// Account is a scriptable web3.Account that records every call.
type Account struct {
	Owner common.Address

	// Balances maps a token to the raw payload ReadBalance returns, in any of
	// the shapes a real client may produce.
	Balances    map[common.Address]any
	BalanceErr  error
	TransferErr error
	TxHash      string
	SimResult   web3.SimulationResult
	SimErr      error

	mu          sync.Mutex
	reads       []common.Address
	transfers   []Transfer
	simulations []web3.TransactionDescriptor
	simOptions  []web3.SimulateOptions
}

var _ web3.Account = (*Account)(nil)

// NewAccount returns an account owned by owner with no balances.
func NewAccount(owner string) *Account {
	return &Account{
		Owner:    common.HexToAddress(owner),
		Balances: make(map[common.Address]any),
		TxHash:   "0x5e1f0c1c6cb1d6a5c2a56c1a3d0f6f6f0e6d8b1e0a7bd4d2a2f9a1c7b3e4d5f6",
	}
}

func (a *Account) Address() common.Address { return a.Owner }

func (a *Account) ReadBalance(_ context.Context, token common.Address) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reads = append(a.reads, token)
	if a.BalanceErr != nil {
		return nil, a.BalanceErr
	}
	raw, ok := a.Balances[token]
	if !ok {
		return nil, fmt.Errorf("no balance scripted for %s", token.Hex())
	}
	return raw, nil
}

func (a *Account) ExecuteTransfer(_ context.Context, token, to common.Address, amount *big.Int) (web3.TransferReceipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transfers = append(a.transfers, Transfer{Token: token, To: to, Amount: new(big.Int).Set(amount)})
	if a.TransferErr != nil {
		return web3.TransferReceipt{}, a.TransferErr
	}
	return web3.TransferReceipt{TransactionID: a.TxHash}, nil
}

func (a *Account) Simulate(_ context.Context, tx web3.TransactionDescriptor, opts web3.SimulateOptions) (web3.SimulationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.simulations = append(a.simulations, tx)
	a.simOptions = append(a.simOptions, opts)
	if a.SimErr != nil {
		return web3.SimulationResult{}, a.SimErr
	}
	result := a.SimResult
	if result.From == (common.Address{}) {
		result.From = tx.From
	}
	return result, nil
}

// Reads returns the tokens whose balance was read.
func (a *Account) Reads() []common.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]common.Address(nil), a.reads...)
}

// Transfers returns every transfer attempt, including failed ones.
func (a *Account) Transfers() []Transfer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Transfer(nil), a.transfers...)
}

// Simulations returns every simulated descriptor.
func (a *Account) Simulations() []web3.TransactionDescriptor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]web3.TransactionDescriptor(nil), a.simulations...)
}

// SimulateOptions returns the options of every simulation call.
func (a *Account) SimulateOptions() []web3.SimulateOptions {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]web3.SimulateOptions(nil), a.simOptions...)
}

// Calls reports how many ledger calls of any kind were made.
func (a *Account) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reads) + len(a.transfers) + len(a.simulations)
}

// Provider serves a fixed account regardless of address.
type Provider struct {
	Wallet *Account
	Err    error
}

func (p Provider) Account(_ context.Context, _ string) (web3.Account, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Wallet, nil
}
