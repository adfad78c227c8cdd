package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"WalletPilot/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Backend is the subset of the go-ethereum client API the wallet needs. Both
// *ethclient.Client and the ethclient/simulated client satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
}

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name         string
	RPCURL       string
	SignerURL    string
	SignerKey    string
	Notes        string
	NativeSymbol string
	DefaultToken string
	Tokens       []web3.TokenDefinition
}

// Client owns the connection to one EVM chain and hands out accounts on it.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	signerRPC *gethrpc.Client
	backend   Backend
	chainID   *big.Int
	signer    Signer
	tokens    *web3.TokenBook
	mu        sync.Mutex
}

// NewClient dials the configured RPC endpoints and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	tokens, err := web3.NewTokenBook(cfg.NativeSymbol, cfg.DefaultToken, cfg.Tokens)
	if err != nil {
		return nil, err
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}

	client := &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		backend:   eth,
		chainID:   chainID,
		tokens:    tokens,
	}

	switch {
	case strings.TrimSpace(cfg.SignerKey) != "":
		signer, err := NewKeySigner(cfg.SignerKey)
		if err != nil {
			client.Close()
			return nil, err
		}
		client.signer = signer
	case strings.TrimSpace(cfg.SignerURL) != "":
		signerRPC, err := gethrpc.DialContext(ctx, strings.TrimSpace(cfg.SignerURL))
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("连接外部签名器失败: %w", err)
		}
		client.signerRPC = signerRPC
		signer, err := DiscoverRPCSigner(ctx, signerRPC)
		if err != nil {
			client.Close()
			return nil, err
		}
		client.signer = signer
	}
	return client, nil
}

// NewSimulatedClient wraps an already connected backend, typically the
// go-ethereum simulated backend in tests.
func NewSimulatedClient(name string, backend Backend, chainID *big.Int, signer Signer, tokens *web3.TokenBook) *Client {
	if tokens == nil {
		tokens, _ = web3.NewTokenBook("", "", nil)
	}
	return &Client{
		name:    name,
		notes:   "simulated backend",
		backend: backend,
		chainID: new(big.Int).Set(chainID),
		signer:  signer,
		tokens:  tokens,
	}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.signerRPC != nil {
		c.signerRPC.Close()
		c.signerRPC = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// Name returns the chain name from the configuration.
func (c *Client) Name() string { return c.name }

// Tokens returns the chain's static token book.
func (c *Client) Tokens() *web3.TokenBook { return c.tokens }

// Account returns the account for address. An empty address selects the
// signer's account. Accounts other than the signer's are read-only.
func (c *Client) Account(_ context.Context, address string) (web3.Account, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	address = strings.TrimSpace(address)
	if address == "" {
		if c.signer == nil {
			return nil, errors.New("未配置签名账户，请求必须携带地址")
		}
		return c.newAccount(c.signer.Address()), nil
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("无效的钱包地址: %q", address)
	}
	return c.newAccount(common.HexToAddress(address)), nil
}

func (c *Client) newAccount(owner common.Address) *Account {
	acct := &Account{owner: owner, backend: c.backend, chainID: c.chainID}
	if c.signer != nil && c.signer.Address() == owner {
		acct.signer = c.signer
	}
	return acct
}

// TokenDecimals reads decimals() from an ERC-20 contract.
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	if token == web3.NativeToken {
		return c.tokens.Native().Decimals, nil
	}
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	out, err := c.backend.CallContract(ctx, gethcore.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("查询代币精度失败: %w", err)
	}
	values, err := erc20ABI.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("解析代币精度失败: %w", err)
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("decimals 返回了 %d 个值", len(values))
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals 返回了非预期类型 %T", values[0])
	}
	return decimals, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil || c.backend == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}
	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		Name:        c.name,
		ChainID:     toHexBig(c.chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
