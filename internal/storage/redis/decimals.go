package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/redis/go-redis/v9"
)

// Config 描述 Redis 缓存的连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// commander 是缓存实际用到的 Redis 命令子集。
type commander interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
}

// DecimalsCache 把代币精度缓存在 Redis 中。
type DecimalsCache struct {
	client commander
	closer func() error
	prefix string
	ttl    time.Duration
}

// NewDecimalsCache 连接 Redis 并返回缓存实例。
func NewDecimalsCache(ctx context.Context, cfg Config) (*DecimalsCache, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	cache := newDecimalsCache(client, cfg)
	cache.closer = client.Close
	return cache, nil
}

func newDecimalsCache(client commander, cfg Config) *DecimalsCache {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "walletpilot:decimals:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DecimalsCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *DecimalsCache) key(token common.Address) string {
	return c.prefix + strings.ToLower(token.Hex())
}

// Decimals 返回缓存的精度，未命中时第二个返回值为 false。
func (c *DecimalsCache) Decimals(ctx context.Context, token common.Address) (uint8, bool, error) {
	value, err := c.client.Get(ctx, c.key(token)).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("读取 Redis 缓存失败: %w", err)
	}
	decimals, err := strconv.ParseUint(value, 10, 8)
	if err != nil {
		return 0, false, fmt.Errorf("缓存中的精度无效 %q: %w", value, err)
	}
	return uint8(decimals), true, nil
}

// StoreDecimals 写入精度并设置过期时间。
func (c *DecimalsCache) StoreDecimals(ctx context.Context, token common.Address, decimals uint8) error {
	if err := c.client.Set(ctx, c.key(token), strconv.Itoa(int(decimals)), c.ttl).Err(); err != nil {
		return fmt.Errorf("写入 Redis 缓存失败: %w", err)
	}
	return nil
}

// Close 关闭底层连接。
func (c *DecimalsCache) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer()
}
