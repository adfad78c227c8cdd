package balance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"WalletPilot/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// DecimalsCache stores token decimals read from chain. Implementations live
// in internal/storage.
type DecimalsCache interface {
	Decimals(ctx context.Context, token common.Address) (uint8, bool, error)
	StoreDecimals(ctx context.Context, token common.Address, decimals uint8) error
}

// TokenDirectory resolves token metadata from the static token book first and
// falls back to reading decimals() on chain.
type TokenDirectory struct {
	book   *web3.TokenBook
	reader web3.TokenMetadataReader
	cache  DecimalsCache
	logger *slog.Logger

	mu    sync.RWMutex
	local map[common.Address]uint8
}

// DirectoryOption customises a TokenDirectory.
type DirectoryOption func(*TokenDirectory)

// WithDecimalsCache shares looked-up decimals through an external cache.
func WithDecimalsCache(cache DecimalsCache) DirectoryOption {
	return func(d *TokenDirectory) { d.cache = cache }
}

// WithDirectoryLogger sets the logger used for cache failures.
func WithDirectoryLogger(logger *slog.Logger) DirectoryOption {
	return func(d *TokenDirectory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewTokenDirectory builds a directory over book. reader may be nil, in which
// case only the token book is consulted.
func NewTokenDirectory(book *web3.TokenBook, reader web3.TokenMetadataReader, opts ...DirectoryOption) *TokenDirectory {
	if book == nil {
		book, _ = web3.NewTokenBook("", "", nil)
	}
	d := &TokenDirectory{
		book:   book,
		reader: reader,
		logger: slog.Default(),
		local:  make(map[common.Address]uint8),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Native returns the chain's native coin.
func (d *TokenDirectory) Native() web3.Token { return d.book.Native() }

// Default returns the configured canonical token.
func (d *TokenDirectory) Default() (web3.Token, bool) { return d.book.Default() }

// BySymbol looks a token up in the static book.
func (d *TokenDirectory) BySymbol(symbol string) (web3.Token, bool) { return d.book.BySymbol(symbol) }

// Lookup returns metadata for the token at address.
func (d *TokenDirectory) Lookup(ctx context.Context, address common.Address) (web3.Token, error) {
	if token, ok := d.book.ByAddress(address); ok {
		return token, nil
	}

	d.mu.RLock()
	decimals, ok := d.local[address]
	d.mu.RUnlock()
	if ok {
		return unlistedToken(address, decimals), nil
	}

	if d.cache != nil {
		decimals, ok, err := d.cache.Decimals(ctx, address)
		if err != nil {
			d.logger.Warn("读取代币精度缓存失败", "token", address.Hex(), "error", err)
		} else if ok {
			d.remember(address, decimals)
			return unlistedToken(address, decimals), nil
		}
	}

	if d.reader == nil {
		return web3.Token{}, fmt.Errorf("未知代币 %s", address.Hex())
	}
	decimals, err := d.reader.TokenDecimals(ctx, address)
	if err != nil {
		return web3.Token{}, fmt.Errorf("读取代币 %s 精度失败: %w", address.Hex(), err)
	}
	d.remember(address, decimals)
	if d.cache != nil {
		if err := d.cache.StoreDecimals(ctx, address, decimals); err != nil {
			d.logger.Warn("写入代币精度缓存失败", "token", address.Hex(), "error", err)
		}
	}
	return unlistedToken(address, decimals), nil
}

func (d *TokenDirectory) remember(address common.Address, decimals uint8) {
	d.mu.Lock()
	d.local[address] = decimals
	d.mu.Unlock()
}

// unlistedToken labels a token missing from the book by its shortened address.
func unlistedToken(address common.Address, decimals uint8) web3.Token {
	hex := address.Hex()
	return web3.Token{
		Symbol:   hex[:6] + "…" + hex[len(hex)-4:],
		Address:  address,
		Decimals: decimals,
	}
}
