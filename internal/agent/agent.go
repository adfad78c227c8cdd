package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "WalletPilot/internal/errors"
	"WalletPilot/internal/events"
	"WalletPilot/internal/executor"
	"WalletPilot/internal/intent"
	"WalletPilot/internal/llm"
	"WalletPilot/internal/observability/alerting"
	"WalletPilot/internal/simulation"
	"WalletPilot/internal/storage/mysql"
	"WalletPilot/internal/web3"
	"WalletPilot/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// MessageRequired 是消息为空时返回给用户的提示。
const MessageRequired = "Message is required"

// defaultTemperature 与原有前端保持一致。
const defaultTemperature = 0.7

// ChatRequest 描述一次用户对话请求。
type ChatRequest struct {
	Message string `json:"message"`
	Address string `json:"address,omitempty"`
}

// ChatReply 汇总一次对话轮次的结果。执行阶段的失败体现在 Response 与 ErrorCode 中。
type ChatReply struct {
	TurnID        string                 `json:"turnId"`
	Response      string                 `json:"response"`
	Operation     intent.Kind            `json:"operation"`
	OperationType int                    `json:"operationType"`
	TransactionID string                 `json:"transactionId,omitempty"`
	Simulation    *web3.SimulationResult `json:"simulation,omitempty"`
	Explanation   string                 `json:"explanation,omitempty"`
	ErrorCode     xerrors.Code           `json:"errorCode,omitempty"`
	Model         string                 `json:"model,omitempty"`
}

// ExplainRequest 描述一次模拟结果解释请求。
type ExplainRequest struct {
	SimulationResult json.RawMessage
	Operation        intent.Kind
}

// Turn 是对外展示的历史对话记录。
type Turn struct {
	ID            string       `json:"id"`
	Address       string       `json:"address"`
	Message       string       `json:"message"`
	Operation     intent.Kind  `json:"operation"`
	Response      string       `json:"response"`
	TransactionID string       `json:"transactionId,omitempty"`
	ErrorCode     xerrors.Code `json:"errorCode,omitempty"`
	Model         string       `json:"model,omitempty"`
	CreatedAt     int64        `json:"createdAt"`
}

// Agent 协调大模型分类、意图解析与钱包操作执行，是系统的业务核心。
type Agent struct {
	llmClient llm.Client
	accounts  web3.AccountProvider
	executor  *executor.Executor
	explainer *simulation.Explainer
	parser    *intent.Parser

	turns     mysql.TurnRepository
	publisher events.Publisher
	alerts    alerting.Dispatcher
	logger    *slog.Logger
	audit     *slog.Logger

	systemPrompt string
	temperature  float64
	llmTimeout   time.Duration
	execTimeout  time.Duration
	autoExplain  bool

	locksMu  sync.Mutex
	inflight map[common.Address]struct{}
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// WithExecutionTimeout 设置执行钱包操作的超时时间。
func WithExecutionTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.execTimeout = 0
			return
		}
		a.execTimeout = timeout
	}
}

// WithAutoExplain 在模拟类操作完成后立即请求解释。
func WithAutoExplain(enabled bool) Option {
	return func(a *Agent) {
		a.autoExplain = enabled
	}
}

// WithTemperature 设置分类请求的采样温度。
func WithTemperature(t float64) Option {
	return func(a *Agent) {
		if t >= 0 {
			a.temperature = t
		}
	}
}

// WithParser 替换意图解析器。
func WithParser(parser *intent.Parser) Option {
	return func(a *Agent) {
		if parser != nil {
			a.parser = parser
		}
	}
}

// WithNativeSymbol 设置系统提示词中使用的原生代币符号。
func WithNativeSymbol(symbol string) Option {
	return func(a *Agent) {
		a.systemPrompt = intent.SystemPrompt(symbol)
	}
}

// WithExplainer 替换模拟结果解释器。
func WithExplainer(explainer *simulation.Explainer) Option {
	return func(a *Agent) {
		if explainer != nil {
			a.explainer = explainer
		}
	}
}

// WithTurnRepository 配置对话记录仓库。
func WithTurnRepository(repo mysql.TurnRepository) Option {
	return func(a *Agent) {
		a.turns = repo
	}
}

// WithPublisher 配置转账事件发布器。
func WithPublisher(publisher events.Publisher) Option {
	return func(a *Agent) {
		if publisher != nil {
			a.publisher = publisher
		}
	}
}

// WithAlerts 配置告警分发器。
func WithAlerts(dispatcher alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerts = dispatcher
	}
}

// WithLogger 设置 Agent 日志。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithAuditLogger 设置记录有副作用操作的审计日志。
func WithAuditLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.audit = l
		}
	}
}

// New 创建一个 Agent。
func New(llmClient llm.Client, accounts web3.AccountProvider, exec *executor.Executor, opts ...Option) *Agent {
	ag := &Agent{
		llmClient:    llmClient,
		accounts:     accounts,
		executor:     exec,
		parser:       intent.NewParser(),
		publisher:    events.NopPublisher{},
		logger:       logger.Named("agent"),
		audit:        logger.Audit(),
		systemPrompt: intent.SystemPrompt(""),
		temperature:  defaultTemperature,
		inflight:     make(map[common.Address]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.executor == nil {
		ag.executor = executor.New(nil, executor.WithLogger(ag.logger))
	}
	if ag.explainer == nil {
		ag.explainer = simulation.NewExplainer(llmClient,
			simulation.WithParser(ag.parser),
			simulation.WithTemperature(ag.temperature),
			simulation.WithLogger(ag.logger))
	}
	return ag
}

// ExplainSimulation 请求大模型解释一次模拟结果，受大模型超时约束。
func (a *Agent) ExplainSimulation(ctx context.Context, req ExplainRequest) (string, error) {
	if !strings.HasPrefix(strings.TrimSpace(string(req.SimulationResult)), "{") {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "Simulation result and operation type are required")
	}
	if !json.Valid(req.SimulationResult) {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "simulation result is not valid JSON")
	}
	return a.explain(ctx, req.SimulationResult, req.Operation)
}

func (a *Agent) explain(ctx context.Context, result any, kind intent.Kind) (string, error) {
	llmCtx, cancel := withOptionalTimeout(ctx, a.llmTimeout)
	defer cancel()

	start := time.Now()
	text, err := a.explainer.Explain(llmCtx, result, kind)
	a.observeClassifier("explain", start, err)
	return text, err
}

// ListHistory 获取最近的对话记录。
func (a *Agent) ListHistory(ctx context.Context, limit int) ([]Turn, error) {
	if a.turns == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置对话记录仓库")
	}

	records, err := a.turns.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询对话记录失败")
	}

	turns := make([]Turn, 0, len(records))
	for _, record := range records {
		turns = append(turns, Turn{
			ID:            record.ID,
			Address:       record.Address,
			Message:       record.Message,
			Operation:     intent.KindFromCode(record.Operation),
			Response:      record.Response,
			TransactionID: record.TransactionID,
			ErrorCode:     xerrors.Code(record.ErrorCode),
			Model:         record.Model,
			CreatedAt:     record.CreatedAt,
		})
	}
	return turns, nil
}

// lockAccount 尝试独占钱包，同一钱包同一时刻只允许一个对话轮次。
// 轮次结束即删除登记，map 只保存进行中的钱包。
func (a *Agent) lockAccount(address common.Address) (func(), bool) {
	a.locksMu.Lock()
	defer a.locksMu.Unlock()
	if _, busy := a.inflight[address]; busy {
		return nil, false
	}
	a.inflight[address] = struct{}{}
	return func() {
		a.locksMu.Lock()
		delete(a.inflight, address)
		a.locksMu.Unlock()
	}, true
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// classifierFailure 将大模型调用错误映射为统一错误码。
func classifierFailure(err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
	}
	return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "大模型推理失败")
}
