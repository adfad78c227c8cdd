package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// DefaultPath 是未设置 WALLETPILOT_CONFIG 时使用的配置文件路径。
const DefaultPath = "configs/walletpilot.json"

// Config 描述了 WalletPilot 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	LLM      LLMConfig      `json:"llm"`
	Web3     Web3Config     `json:"web3"`
	Wallet   WalletConfig   `json:"wallet"`
	Events   EventsConfig   `json:"events"`
	Alerting AlertingConfig `json:"alerting"`
	Logging  LoggingConfig  `json:"logging"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address            string `json:"address"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
}

// StorageConfig 统一描述 MySQL、Redis 等后端的连接信息。
type StorageConfig struct {
	TurnStore TurnStoreConfig `json:"turn_store"`
	Cache     CacheConfig     `json:"cache"`
}

// TurnStoreConfig 选择对话记录的存储实现，memory 或 mysql。
type TurnStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// CacheConfig 配置代币精度缓存，Address 为空时只使用进程内缓存。
type CacheConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	TTL      string `json:"ttl"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider            string             `json:"provider"`
	Timeout             string             `json:"timeout"`
	Temperature         float64            `json:"temperature"`
	RecoverEmbeddedJSON bool               `json:"recover_embedded_json"`
	OpenAI              OpenAIConfig       `json:"openai"`
	Gemini              GeminiConfig       `json:"gemini"`
	Python              PythonBridgeConfig `json:"python_bridge"`
}

// OpenAIConfig 描述兼容 OpenAI Chat Completions 协议的服务。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// GeminiConfig 描述 Google Gemini API 的接入参数。
type GeminiConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// Web3Config 包含访问区块链节点所需的 RPC 地址与签名方式。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url"`
	SignerKey    string `json:"signer_key"`
	SignerURL    string `json:"signer_url"`
}

// WalletConfig 控制执行器的业务策略。
type WalletConfig struct {
	DefaultToken        string `json:"default_token"`
	RequireTokenAddress bool   `json:"require_token_address"`
	AutoExplain         bool   `json:"auto_explain"`
	ExecutionTimeout    string `json:"execution_timeout"`
}

// EventsConfig 配置转账事件的 RabbitMQ 发布，URL 为空时不发布。
type EventsConfig struct {
	URL        string `json:"url"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

// AlertingConfig 配置告警通知，Webhook 为空时只写日志。
type AlertingConfig struct {
	Webhook string `json:"webhook"`
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level           string   `json:"level"`
	Format          string   `json:"format"`
	Outputs         []string `json:"outputs"`
	AuditFile       string   `json:"audit_file"`
	AuditMaxSizeMB  int      `json:"audit_max_size_mb"`
	AuditMaxBackups int      `json:"audit_max_backups"`
	AuditMaxAgeDays int      `json:"audit_max_age_days"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// envOverlay 列出允许通过环境变量覆盖的字段，前缀为 WALLETPILOT_，
// 未设置带前缀的变量时回退到不带前缀的同名变量。
type envOverlay struct {
	ServerAddress string `envconfig:"SERVER_ADDRESS"`
	TurnStoreDSN  string `envconfig:"MYSQL_DSN"`
	RedisAddress  string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	LLMProvider   string `envconfig:"LLM_PROVIDER"`
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`
	OpenAIModel   string `envconfig:"OPENAI_MODEL"`
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY"`
	RPCURL        string `envconfig:"RPC_URL"`
	SignerKey     string `envconfig:"SIGNER_KEY"`
	SignerURL     string `envconfig:"SIGNER_URL"`
	AMQPURL       string `envconfig:"AMQP_URL"`
	AlertWebhook  string `envconfig:"ALERT_WEBHOOK"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
}

// PathFromEnv 返回配置文件路径。
func PathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv("WALLETPILOT_CONFIG")); path != "" {
		return path
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件，并叠加环境变量。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverlay
	if err := envconfig.Process("walletpilot", &env); err != nil {
		return fmt.Errorf("解析环境变量失败: %w", err)
	}

	overlay := []struct {
		value  string
		target *string
	}{
		{env.ServerAddress, &c.Server.Address},
		{env.TurnStoreDSN, &c.Storage.TurnStore.DSN},
		{env.RedisAddress, &c.Storage.Cache.Address},
		{env.RedisPassword, &c.Storage.Cache.Password},
		{env.LLMProvider, &c.LLM.Provider},
		{env.OpenAIAPIKey, &c.LLM.OpenAI.APIKey},
		{env.OpenAIBaseURL, &c.LLM.OpenAI.BaseURL},
		{env.OpenAIModel, &c.LLM.OpenAI.Model},
		{env.GeminiAPIKey, &c.LLM.Gemini.APIKey},
		{env.RPCURL, &c.Web3.RPCURL},
		{env.SignerKey, &c.Web3.SignerKey},
		{env.SignerURL, &c.Web3.SignerURL},
		{env.AMQPURL, &c.Events.URL},
		{env.AlertWebhook, &c.Alerting.Webhook},
		{env.LogLevel, &c.Logging.Level},
	}
	for _, item := range overlay {
		if v := strings.TrimSpace(item.value); v != "" {
			*item.target = v
		}
	}
	if env.TurnStoreDSN != "" && c.Storage.TurnStore.Driver == "" {
		c.Storage.TurnStore.Driver = "mysql"
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RateLimitPerMinute == 0 {
		c.Server.RateLimitPerMinute = 60
	}

	if c.Storage.TurnStore.Driver == "" {
		c.Storage.TurnStore.Driver = "memory"
	}
	if c.Storage.Cache.TTL == "" {
		c.Storage.Cache.TTL = "24h"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Timeout == "" {
		c.LLM.Timeout = "30s"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.Gemini.Model == "" {
		c.LLM.Gemini.Model = "gemini-2.0-flash"
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	c.LLM.Python.WorkingDir = resolvePath(baseDir, c.LLM.Python.WorkingDir, baseDir)

	if c.Web3.ChainConfig != "" {
		c.Web3.ChainConfig = resolvePath(baseDir, c.Web3.ChainConfig, "")
	}

	if c.Wallet.ExecutionTimeout == "" {
		c.Wallet.ExecutionTimeout = "60s"
	}

	if c.Events.Exchange == "" {
		c.Events.Exchange = "walletpilot.events"
	}
	if c.Events.RoutingKey == "" {
		c.Events.RoutingKey = "transfer.submitted"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir, filepath.Join(baseDir, "data"))
	if c.Logging.AuditFile != "" {
		c.Logging.AuditFile = resolvePath(c.Runtime.DataDir, c.Logging.AuditFile, "")
	}
}

func resolvePath(baseDir, value, fallback string) string {
	if value == "" {
		return fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}

// Validate 检查无法通过默认值修复的配置错误。
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.TurnStore.Driver) {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.TurnStore.DSN) == "" {
			return errors.New("使用 mysql 存储时必须配置 dsn")
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Storage.TurnStore.Driver)
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "gemini", "python_bridge":
	default:
		return fmt.Errorf("不支持的大模型提供方: %s", c.LLM.Provider)
	}

	if c.Web3.SignerKey != "" && c.Web3.SignerURL != "" {
		return errors.New("signer_key 与 signer_url 只能配置其一")
	}

	for name, value := range map[string]string{
		"llm.timeout":              c.LLM.Timeout,
		"wallet.execution_timeout": c.Wallet.ExecutionTimeout,
		"storage.cache.ttl":        c.Storage.Cache.TTL,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s 不是合法的时长: %w", name, err)
		}
	}
	return nil
}

// LLMTimeout 返回单次分类调用的超时时间。
func (c *Config) LLMTimeout() time.Duration { return mustDuration(c.LLM.Timeout, 30*time.Second) }

// ExecutionTimeout 返回单次钱包操作的超时时间。
func (c *Config) ExecutionTimeout() time.Duration {
	return mustDuration(c.Wallet.ExecutionTimeout, 60*time.Second)
}

// CacheTTL 返回代币精度缓存的有效期。
func (c *Config) CacheTTL() time.Duration { return mustDuration(c.Storage.Cache.TTL, 24*time.Hour) }

func mustDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
