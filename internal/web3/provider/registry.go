package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"WalletPilot/internal/config"
	"WalletPilot/internal/web3"
	"WalletPilot/internal/web3/ethereum"

	"github.com/ethereum/go-ethereum/common"
)

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]*ethereum.Client
}

var (
	_ web3.AccountProvider     = (*Registry)(nil)
	_ web3.TokenMetadataReader = (*Registry)(nil)
)

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]*ethereum.Client)
	closeAll := func() {
		for _, client := range clients {
			client.Close()
		}
	}
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		switch chainType {
		case "evm":
			signerURL := chain.SignerURL
			if signerURL == "" {
				signerURL = cfg.SignerURL
			}
			client, err := ethereum.NewClient(ctx, ethereum.Config{
				Name:         name,
				RPCURL:       chain.RPCURL,
				SignerURL:    signerURL,
				SignerKey:    cfg.SignerKey,
				Notes:        chain.Description,
				NativeSymbol: chain.NativeSymbol,
				DefaultToken: chain.DefaultToken,
				Tokens:       chain.Tokens,
			})
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
			}
			clients[name] = client
		default:
			closeAll()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
	}

	if len(clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:      "default",
			RPCURL:    cfg.RPCURL,
			SignerURL: cfg.SignerURL,
			SignerKey: cfg.SignerKey,
		})
		if err != nil {
			return nil, err
		}
		clients["default"] = client
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}

	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	registry, err := newRegistry(cfg.DefaultChain, clients)
	if err != nil {
		closeAll()
		return nil, err
	}
	return registry, nil
}

// NewStaticRegistry wraps already constructed clients, mainly for tests and
// embedded use.
func NewStaticRegistry(defaultChain string, clients map[string]*ethereum.Client) (*Registry, error) {
	if len(clients) == 0 {
		return nil, errors.New("未配置任何链客户端")
	}
	copied := make(map[string]*ethereum.Client, len(clients))
	for name, client := range clients {
		copied[name] = client
	}
	return newRegistry(defaultChain, copied)
}

func newRegistry(defaultChain string, clients map[string]*ethereum.Client) (*Registry, error) {
	if defaultChain == "" {
		names := make([]string, 0, len(clients))
		for name := range clients {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	return &Registry{defaultChain: defaultChain, clients: clients}, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (*ethereum.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (*ethereum.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Account resolves an account on the default chain.
func (r *Registry) Account(ctx context.Context, address string) (web3.Account, error) {
	client, err := r.DefaultClient()
	if err != nil {
		return nil, err
	}
	return client.Account(ctx, address)
}

// TokenDecimals reads token decimals on the default chain.
func (r *Registry) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	client, err := r.DefaultClient()
	if err != nil {
		return 0, err
	}
	return client.TokenDecimals(ctx, token)
}

// Tokens returns the token book of the default chain.
func (r *Registry) Tokens() *web3.TokenBook {
	client, err := r.DefaultClient()
	if err != nil {
		return nil
	}
	return client.Tokens()
}

// Snapshot reports the default chain's current head.
func (r *Registry) Snapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	client, err := r.DefaultClient()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	return client.FetchChainSnapshot(ctx)
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
