package web3

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint and the tokens the wallet
// knows about on it.
type ChainDefinition struct {
	Type         string            `yaml:"type"`
	RPCURL       string            `yaml:"rpc_url"`
	SignerURL    string            `yaml:"signer_url"`
	Description  string            `yaml:"description"`
	NativeSymbol string            `yaml:"native_symbol"`
	DefaultToken string            `yaml:"default_token"`
	Tokens       []TokenDefinition `yaml:"tokens"`
}

// TokenDefinition is one ERC-20 entry of the token book.
type TokenDefinition struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, chain := range defs.Chains {
		for _, token := range chain.Tokens {
			if !common.IsHexAddress(token.Address) {
				return ChainDefinitions{}, fmt.Errorf("链 %s 的代币 %s 地址无效: %q", name, token.Symbol, token.Address)
			}
		}
	}
	return defs, nil
}

// TokenBook is the static token list of one chain.
type TokenBook struct {
	native       Token
	defaultToken Token
	bySymbol     map[string]Token
	byAddress    map[common.Address]Token
}

// NewTokenBook builds a token book. The native coin is always present with 18
// decimals; defaultSymbol selects the canonical ERC-20 token.
func NewTokenBook(nativeSymbol, defaultSymbol string, tokens []TokenDefinition) (*TokenBook, error) {
	if strings.TrimSpace(nativeSymbol) == "" {
		nativeSymbol = "ETH"
	}
	book := &TokenBook{
		native:    Token{Symbol: nativeSymbol, Address: NativeToken, Decimals: 18},
		bySymbol:  make(map[string]Token, len(tokens)+1),
		byAddress: make(map[common.Address]Token, len(tokens)+1),
	}
	book.add(book.native)
	for _, def := range tokens {
		if !common.IsHexAddress(def.Address) {
			return nil, fmt.Errorf("invalid address for token %s: %q", def.Symbol, def.Address)
		}
		book.add(Token{
			Symbol:   strings.TrimSpace(def.Symbol),
			Address:  common.HexToAddress(def.Address),
			Decimals: def.Decimals,
		})
	}

	if defaultSymbol = strings.TrimSpace(defaultSymbol); defaultSymbol != "" {
		token, ok := book.BySymbol(defaultSymbol)
		if !ok {
			return nil, fmt.Errorf("default token %s is not in the token list", defaultSymbol)
		}
		book.defaultToken = token
	}
	return book, nil
}

func (b *TokenBook) add(token Token) {
	b.bySymbol[strings.ToUpper(token.Symbol)] = token
	b.byAddress[token.Address] = token
}

// Native returns the native coin.
func (b *TokenBook) Native() Token {
	return b.native
}

// Default returns the canonical token used when a request names none.
func (b *TokenBook) Default() (Token, bool) {
	if b == nil || b.defaultToken.Address == (common.Address{}) {
		return Token{}, false
	}
	return b.defaultToken, true
}

// BySymbol finds a token by ticker, case-insensitively.
func (b *TokenBook) BySymbol(symbol string) (Token, bool) {
	if b == nil {
		return Token{}, false
	}
	token, ok := b.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return token, ok
}

// ByAddress finds a token by contract address.
func (b *TokenBook) ByAddress(addr common.Address) (Token, bool) {
	if b == nil {
		return Token{}, false
	}
	token, ok := b.byAddress[addr]
	return token, ok
}
