package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"WalletPilot/internal/agent"
	"WalletPilot/internal/api"
	"WalletPilot/internal/balance"
	"WalletPilot/internal/config"
	"WalletPilot/internal/events"
	"WalletPilot/internal/executor"
	"WalletPilot/internal/intent"
	"WalletPilot/internal/llm"
	"WalletPilot/internal/llm/gemini"
	"WalletPilot/internal/llm/openai"
	"WalletPilot/internal/llm/pythonbridge"
	"WalletPilot/internal/observability/alerting"
	"WalletPilot/internal/storage/mysql"
	"WalletPilot/internal/storage/redis"
	"WalletPilot/internal/web3/provider"
	"WalletPilot/pkg/logger"
)

// main 是 WalletPilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("walletpilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.AuditFile != "",
			Path:       cfg.Logging.AuditFile,
			MaxSizeMB:  cfg.Logging.AuditMaxSizeMB,
			MaxBackups: cfg.Logging.AuditMaxBackups,
			MaxAgeDays: cfg.Logging.AuditMaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("walletpilotd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()
	lg.Info("链客户端已就绪", "chains", chainRegistry.Chains())

	dirOpts := []balance.DirectoryOption{balance.WithDirectoryLogger(logger.Named("tokens"))}
	if cfg.Storage.Cache.Address != "" {
		cache, err := redis.NewDecimalsCache(ctx, redis.Config{
			Address:  cfg.Storage.Cache.Address,
			Password: cfg.Storage.Cache.Password,
			DB:       cfg.Storage.Cache.DB,
			TTL:      cfg.CacheTTL(),
		})
		if err != nil {
			return err
		}
		defer cache.Close()
		dirOpts = append(dirOpts, balance.WithDecimalsCache(cache))
	}
	tokens := balance.NewTokenDirectory(chainRegistry.Tokens(), chainRegistry, dirOpts...)

	execOpts := []executor.Option{
		executor.WithRequireTokenAddress(cfg.Wallet.RequireTokenAddress),
		executor.WithLogger(logger.Named("executor")),
	}
	if symbol := strings.TrimSpace(cfg.Wallet.DefaultToken); symbol != "" {
		token, ok := tokens.BySymbol(symbol)
		if !ok {
			return fmt.Errorf("默认代币 %s 不在代币列表中", symbol)
		}
		execOpts = append(execOpts, executor.WithDefaultToken(token))
	}
	exec := executor.New(tokens, execOpts...)

	llmClient, err := createLLMClient(ctx, cfg)
	if err != nil {
		return err
	}

	turnRepo, err := createTurnRepository(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := turnRepo.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.URL != "" {
		rabbit, err := events.NewRabbitMQPublisher(events.Config{
			URL:        cfg.Events.URL,
			Exchange:   cfg.Events.Exchange,
			RoutingKey: cfg.Events.RoutingKey,
		})
		if err != nil {
			return err
		}
		defer rabbit.Close()
		publisher = rabbit
	}

	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerts")}}
	if cfg.Alerting.Webhook != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.Alerting.Webhook,
			Client: &http.Client{Timeout: 10 * time.Second},
		})
	}

	ag := agent.New(llmClient, chainRegistry, exec,
		agent.WithLLMTimeout(cfg.LLMTimeout()),
		agent.WithExecutionTimeout(cfg.ExecutionTimeout()),
		agent.WithTemperature(cfg.LLM.Temperature),
		agent.WithParser(intent.NewParser(intent.WithEmbeddedJSONRecovery(cfg.LLM.RecoverEmbeddedJSON))),
		agent.WithNativeSymbol(tokens.Native().Symbol),
		agent.WithAutoExplain(cfg.Wallet.AutoExplain),
		agent.WithTurnRepository(turnRepo),
		agent.WithPublisher(publisher),
		agent.WithAlerts(alerting.NewFanout(notifiers...)),
	)

	server := api.NewServer(cfg.Server.Address, ag,
		api.WithChainStatus(chainRegistry),
		api.WithRateLimit(cfg.Server.RateLimitPerMinute),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	lg.Info("walletpilotd 已退出")
	return nil
}

func createLLMClient(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: time.Duration(cfg.LLM.OpenAI.TimeoutSeconds) * time.Second,
		})
	case "gemini":
		return gemini.NewClient(ctx, gemini.Config{
			APIKey:  cfg.LLM.Gemini.APIKey,
			BaseURL: cfg.LLM.Gemini.BaseURL,
			Model:   cfg.LLM.Gemini.Model,
		})
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.LLM.Python.WorkingDir, cfg.LLM.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, scriptPath, cfg.LLM.Python.WorkingDir)
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createTurnRepository(ctx context.Context, cfg *config.Config) (mysql.TurnRepository, error) {
	switch strings.ToLower(cfg.Storage.TurnStore.Driver) {
	case "", "memory":
		return mysql.NewMemoryTurnRepository(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.NewSQLTurnRepository(ctx, mysql.Config{DSN: cfg.Storage.TurnStore.DSN})
	default:
		return nil, fmt.Errorf("不支持的存储驱动: %s", cfg.Storage.TurnStore.Driver)
	}
}
