package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"WalletPilot/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Account is a wallet account on an EVM chain. Without a signer it can read
// and simulate but not transfer.
type Account struct {
	owner   common.Address
	backend Backend
	chainID *big.Int
	signer  Signer
}

var _ web3.Account = (*Account)(nil)

// Address returns the account address.
func (a *Account) Address() common.Address { return a.owner }

// ReadBalance returns the raw balance. Native balances come back as a bare
// *big.Int, ERC-20 balances as the []any produced by abi.Unpack.
func (a *Account) ReadBalance(ctx context.Context, token common.Address) (any, error) {
	if token == web3.NativeToken {
		balance, err := a.backend.BalanceAt(ctx, a.owner, nil)
		if err != nil {
			return nil, fmt.Errorf("查询余额失败: %w", err)
		}
		return balance, nil
	}

	data, err := erc20ABI.Pack("balanceOf", a.owner)
	if err != nil {
		return nil, err
	}
	out, err := a.backend.CallContract(ctx, gethcore.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用 balanceOf 失败: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("代币合约 %s 未返回数据", token.Hex())
	}
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("解析 balanceOf 结果失败: %w", err)
	}
	return values, nil
}

// ExecuteTransfer signs and submits a single transfer. It never resubmits.
func (a *Account) ExecuteTransfer(ctx context.Context, token, to common.Address, amount *big.Int) (web3.TransferReceipt, error) {
	if a.signer == nil {
		return web3.TransferReceipt{}, web3.ErrNoSigner
	}
	if amount == nil || amount.Sign() <= 0 {
		return web3.TransferReceipt{}, errors.New("转账金额必须大于 0")
	}

	call, err := transferCall(a.owner, token, to, amount)
	if err != nil {
		return web3.TransferReceipt{}, err
	}
	tx, err := a.buildTx(ctx, call)
	if err != nil {
		return web3.TransferReceipt{}, err
	}
	signed, err := a.signer.SignTx(ctx, tx, a.chainID)
	if err != nil {
		return web3.TransferReceipt{}, err
	}
	if err := a.backend.SendTransaction(ctx, signed); err != nil {
		return web3.TransferReceipt{}, fmt.Errorf("广播交易失败: %w", err)
	}
	return web3.TransferReceipt{TransactionID: signed.Hash().Hex()}, nil
}

// Simulate executes the call against the latest state without committing.
// A revert is reported through the result, not as an error.
func (a *Account) Simulate(ctx context.Context, desc web3.TransactionDescriptor, opts web3.SimulateOptions) (web3.SimulationResult, error) {
	from := desc.From
	if from == (common.Address{}) {
		from = a.owner
	}
	call := gethcore.CallMsg{From: from, To: desc.To, Value: desc.Value, Data: desc.Data, Gas: desc.Gas}

	head, err := a.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return web3.SimulationResult{}, fmt.Errorf("获取最新区块失败: %w", err)
	}
	result := web3.SimulationResult{
		From:        from,
		To:          desc.To,
		BlockNumber: hexutil.Uint64(head.Number.Uint64()),
	}
	if desc.Value != nil {
		result.Value = (*hexutil.Big)(new(big.Int).Set(desc.Value))
	}

	if !opts.SkipValidate && desc.Value != nil && desc.Value.Sign() > 0 {
		balance, err := a.backend.BalanceAt(ctx, from, nil)
		if err != nil {
			return web3.SimulationResult{}, fmt.Errorf("查询余额失败: %w", err)
		}
		if balance.Cmp(desc.Value) < 0 {
			result.RevertReason = "insufficient funds for transfer"
			return result, nil
		}
	}

	out, err := a.backend.CallContract(ctx, call, nil)
	if err != nil {
		if reason, ok := revertReason(err); ok {
			result.RevertReason = reason
			return result, nil
		}
		return web3.SimulationResult{}, fmt.Errorf("模拟调用失败: %w", err)
	}
	gas, err := a.backend.EstimateGas(ctx, call)
	if err != nil {
		if reason, ok := revertReason(err); ok {
			result.RevertReason = reason
			return result, nil
		}
		return web3.SimulationResult{}, fmt.Errorf("估算 gas 失败: %w", err)
	}

	result.Success = true
	result.GasUsed = hexutil.Uint64(gas)
	result.ReturnData = out
	return result, nil
}

// TransferDescriptor describes the transfer ExecuteTransfer would send, for
// simulating it first.
func TransferDescriptor(from, token, to common.Address, amount *big.Int) (web3.TransactionDescriptor, error) {
	call, err := transferCall(from, token, to, amount)
	if err != nil {
		return web3.TransactionDescriptor{}, err
	}
	return web3.TransactionDescriptor{From: from, To: call.To, Value: call.Value, Data: call.Data}, nil
}

func transferCall(from, token, to common.Address, amount *big.Int) (gethcore.CallMsg, error) {
	if token == web3.NativeToken {
		recipient := to
		return gethcore.CallMsg{From: from, To: &recipient, Value: new(big.Int).Set(amount)}, nil
	}
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return gethcore.CallMsg{}, fmt.Errorf("编码 transfer 调用失败: %w", err)
	}
	contract := token
	return gethcore.CallMsg{From: from, To: &contract, Value: new(big.Int), Data: data}, nil
}

func (a *Account) buildTx(ctx context.Context, call gethcore.CallMsg) (*coretypes.Transaction, error) {
	nonce, err := a.backend.PendingNonceAt(ctx, call.From)
	if err != nil {
		return nil, fmt.Errorf("查询 nonce 失败: %w", err)
	}
	tip, err := a.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询小费失败: %w", err)
	}
	head, err := a.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("获取最新区块失败: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := a.backend.EstimateGas(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("估算 gas 失败: %w", err)
	}

	return coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   a.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        call.To,
		Value:     call.Value,
		Data:      call.Data,
	}), nil
}

// revertReason recognises execution reverts and precondition failures that
// belong in a simulation result rather than an error.
func revertReason(err error) (string, bool) {
	var dataErr gethrpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok && hexData != "" {
			if reason, unpackErr := abi.UnpackRevert(common.FromHex(hexData)); unpackErr == nil {
				return reason, true
			}
			return dataErr.Error(), true
		}
	}
	msg := err.Error()
	for _, marker := range []string{"execution reverted", "insufficient funds"} {
		if strings.Contains(msg, marker) {
			return msg, true
		}
	}
	return "", false
}
