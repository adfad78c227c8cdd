package balance

import (
	"context"
	"errors"
	"testing"

	"WalletPilot/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReader struct {
	decimals uint8
	err      error
	calls    int
}

func (r *countingReader) TokenDecimals(context.Context, common.Address) (uint8, error) {
	r.calls++
	return r.decimals, r.err
}

type mapCache struct {
	values  map[common.Address]uint8
	readErr error
	stored  int
}

func (c *mapCache) Decimals(_ context.Context, token common.Address) (uint8, bool, error) {
	if c.readErr != nil {
		return 0, false, c.readErr
	}
	v, ok := c.values[token]
	return v, ok, nil
}

func (c *mapCache) StoreDecimals(_ context.Context, token common.Address, decimals uint8) error {
	c.values[token] = decimals
	c.stored++
	return nil
}

func testBook(t *testing.T) *web3.TokenBook {
	t.Helper()
	book, err := web3.NewTokenBook("ETH", "USDC", []web3.TokenDefinition{
		{Symbol: "USDC", Address: usdc.Address.Hex(), Decimals: 6},
	})
	require.NoError(t, err)
	return book
}

func TestDirectoryPrefersTokenBook(t *testing.T) {
	reader := &countingReader{decimals: 9}
	dir := NewTokenDirectory(testBook(t), reader)

	token, err := dir.Lookup(context.Background(), usdc.Address)
	require.NoError(t, err)
	assert.Equal(t, usdc, token)
	assert.Zero(t, reader.calls)

	def, ok := dir.Default()
	require.True(t, ok)
	assert.Equal(t, "USDC", def.Symbol)
	assert.Equal(t, web3.NativeToken, dir.Native().Address)
}

func TestDirectoryReadsUnlistedTokensOnce(t *testing.T) {
	reader := &countingReader{decimals: 8}
	cache := &mapCache{values: map[common.Address]uint8{}}
	dir := NewTokenDirectory(testBook(t), reader, WithDecimalsCache(cache))

	unlisted := common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599")
	for i := 0; i < 3; i++ {
		token, err := dir.Lookup(context.Background(), unlisted)
		require.NoError(t, err)
		assert.Equal(t, uint8(8), token.Decimals)
		assert.Equal(t, "0x2260…C599", token.Symbol)
	}
	assert.Equal(t, 1, reader.calls)
	assert.Equal(t, 1, cache.stored)

	fresh := NewTokenDirectory(testBook(t), reader, WithDecimalsCache(cache))
	_, err := fresh.Lookup(context.Background(), unlisted)
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls, "shared cache serves a new directory")
}

func TestDirectoryCacheErrorsFallBackToChain(t *testing.T) {
	reader := &countingReader{decimals: 18}
	cache := &mapCache{values: map[common.Address]uint8{}, readErr: errors.New("redis down")}
	dir := NewTokenDirectory(nil, reader, WithDecimalsCache(cache))

	token, err := dir.Lookup(context.Background(), common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Equal(t, uint8(18), token.Decimals)
	assert.Equal(t, 1, reader.calls)
}

func TestDirectoryUnknownToken(t *testing.T) {
	dir := NewTokenDirectory(testBook(t), nil)
	_, err := dir.Lookup(context.Background(), common.HexToAddress("0x02"))
	assert.Error(t, err)

	failing := NewTokenDirectory(testBook(t), &countingReader{err: errors.New("not a contract")})
	_, err = failing.Lookup(context.Background(), common.HexToAddress("0x03"))
	assert.ErrorContains(t, err, "not a contract")
}
