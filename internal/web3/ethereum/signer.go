package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Signer authorises transactions on behalf of one address.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *coretypes.Transaction, chainID *big.Int) (*coretypes.Transaction, error)
}

// KeySigner signs with a private key held in process.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner parses a hex encoded secp256k1 private key.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New("签名私钥为空")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("解析签名私钥失败: %w", err)
	}
	return NewKeySignerFromKey(key), nil
}

// NewKeySignerFromKey wraps an existing key.
func NewKeySignerFromKey(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the signing address.
func (s *KeySigner) Address() common.Address { return s.address }

// SignTx signs tx for chainID.
func (s *KeySigner) SignTx(_ context.Context, tx *coretypes.Transaction, chainID *big.Int) (*coretypes.Transaction, error) {
	return coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), s.key)
}

// RPCSigner delegates signing to an external wallet speaking
// eth_signTransaction, such as Clef or a browser wallet bridge. The owner may
// decline, which surfaces as an RPC error with code 4001.
type RPCSigner struct {
	client  *gethrpc.Client
	address common.Address
}

// NewRPCSigner binds an external signer to address.
func NewRPCSigner(client *gethrpc.Client, address common.Address) *RPCSigner {
	return &RPCSigner{client: client, address: address}
}

// DiscoverRPCSigner asks the external wallet for its accounts and binds the
// first one.
func DiscoverRPCSigner(ctx context.Context, client *gethrpc.Client) (*RPCSigner, error) {
	var accounts []common.Address
	if err := client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, fmt.Errorf("查询外部签名账户失败: %w", err)
	}
	if len(accounts) == 0 {
		return nil, errors.New("外部签名器没有可用账户")
	}
	return NewRPCSigner(client, accounts[0]), nil
}

// Address returns the signing address.
func (s *RPCSigner) Address() common.Address { return s.address }

type signTxArgs struct {
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to,omitempty"`
	Gas                  hexutil.Uint64  `json:"gas"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Value                *hexutil.Big    `json:"value"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	Data                 hexutil.Bytes   `json:"data"`
	ChainID              *hexutil.Big    `json:"chainId"`
}

type signTxResult struct {
	Raw hexutil.Bytes `json:"raw"`
}

// SignTx forwards tx to the external wallet and decodes the signed payload.
func (s *RPCSigner) SignTx(ctx context.Context, tx *coretypes.Transaction, chainID *big.Int) (*coretypes.Transaction, error) {
	args := signTxArgs{
		From:                 s.address,
		To:                   tx.To(),
		Gas:                  hexutil.Uint64(tx.Gas()),
		MaxFeePerGas:         (*hexutil.Big)(tx.GasFeeCap()),
		MaxPriorityFeePerGas: (*hexutil.Big)(tx.GasTipCap()),
		Value:                (*hexutil.Big)(tx.Value()),
		Nonce:                hexutil.Uint64(tx.Nonce()),
		Data:                 tx.Data(),
		ChainID:              (*hexutil.Big)(chainID),
	}

	var result signTxResult
	if err := s.client.CallContext(ctx, &result, "eth_signTransaction", args); err != nil {
		return nil, fmt.Errorf("外部签名失败: %w", err)
	}
	if len(result.Raw) == 0 {
		return nil, errors.New("外部签名器返回空交易")
	}
	signed := new(coretypes.Transaction)
	if err := signed.UnmarshalBinary(result.Raw); err != nil {
		return nil, fmt.Errorf("解析已签名交易失败: %w", err)
	}
	return signed, nil
}
