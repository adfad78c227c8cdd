package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"WalletPilot/internal/agent"
	xerrors "WalletPilot/internal/errors"
	"WalletPilot/internal/intent"
	"WalletPilot/internal/observability/metrics"
	"WalletPilot/internal/web3"
	"WalletPilot/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

const (
	// genericFailure 是分类服务失败时返回给用户的统一提示。
	genericFailure = "Sorry, there was an error processing your request."
	internalError  = "Internal server error"
	explainMissing = "Simulation result and operation type are required"

	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
	maxBodyBytes        = 1 << 20
)

// suggestions 是前端展示的示例问题。
var suggestions = []string{
	"What's my balance?",
	"USDC token balance",
	"Simulate transaction",
	"Send 0.1 ETH",
}

// Service 描述 API 依赖的对话能力，*agent.Agent 实现了该接口。
type Service interface {
	Chat(ctx context.Context, req agent.ChatRequest) (*agent.ChatReply, error)
	ExplainSimulation(ctx context.Context, req agent.ExplainRequest) (string, error)
	ListHistory(ctx context.Context, limit int) ([]agent.Turn, error)
}

// ChainStatus 提供健康检查所需的链状态。
type ChainStatus interface {
	Snapshot(ctx context.Context) (web3.ChainSnapshot, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr      string
	svc       Service
	chain     ChainStatus
	rateLimit int
	logger    *slog.Logger
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithChainStatus 配置健康检查使用的链状态来源。
func WithChainStatus(chain ChainStatus) Option {
	return func(s *Server) { s.chain = chain }
}

// WithRateLimit 设置每个 IP 每分钟允许的请求数，非正数表示不限流。
func WithRateLimit(perMinute int) Option {
	return func(s *Server) { s.rateLimit = perMinute }
}

// WithLogger 设置服务日志。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc Service, opts ...Option) *Server {
	s := &Server{addr: addr, svc: svc, logger: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 构建带中间件的路由。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.rateLimit > 0 {
			r.Use(httprate.LimitByIP(s.rateLimit, time.Minute))
		}
		r.Post("/chat", s.handleChat)
		r.Post("/simulate", s.handleSimulate)
		r.Get("/turns", s.handleListTurns)
		r.Get("/suggestions", s.handleSuggestions)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP 服务启动", "addr", s.addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP 服务关闭超时", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.svc == nil {
		writeError(w, http.StatusServiceUnavailable, "service not initialized")
		return
	}

	var req agent.ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, agent.MessageRequired)
		return
	}

	reply, err := s.svc.Chat(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// simulateRequest 接受数字或名称形式的 operationType。
type simulateRequest struct {
	SimulationResult json.RawMessage `json:"simulationResult"`
	OperationType    json.RawMessage `json:"operationType"`
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if s.svc == nil {
		writeError(w, http.StatusServiceUnavailable, "service not initialized")
		return
	}

	var req simulateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, explainMissing)
		return
	}
	if !isJSONObject(req.SimulationResult) || isEmptyJSON(req.OperationType) {
		writeError(w, http.StatusBadRequest, explainMissing)
		return
	}

	text, err := s.svc.ExplainSimulation(r.Context(), agent.ExplainRequest{
		SimulationResult: req.SimulationResult,
		Operation:        decodeOperationType(req.OperationType),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": text})
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	if s.svc == nil {
		writeError(w, http.StatusServiceUnavailable, "service not initialized")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxHistoryLimit)
		}
	}

	turns, err := s.svc.ListHistory(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, turns)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"suggestions": suggestions})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.chain == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	snapshot, err := s.chain.Snapshot(ctx)
	if err != nil {
		s.logger.Warn("链状态查询失败", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "chain": snapshot})
}

// writeServiceError 将业务错误码映射为 HTTP 状态码，上游细节不暴露给调用方。
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := xerrors.CodeOf(err)
	s.logger.Warn("请求处理失败",
		"request_id", middleware.GetReqID(r.Context()),
		"path", r.URL.Path,
		"code", code,
		"error", err)

	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodeMissingArgument, xerrors.CodeInvalidOperationKind:
		writeError(w, http.StatusBadRequest, xerrors.MessageOf(err))
	case xerrors.CodeConflict:
		writeError(w, http.StatusConflict, xerrors.MessageOf(err))
	case xerrors.CodeTimeout:
		writeError(w, http.StatusGatewayTimeout, genericFailure)
	case xerrors.CodeParseFailure, xerrors.CodeUpstreamFailure:
		writeError(w, http.StatusBadGateway, genericFailure)
	default:
		writeError(w, http.StatusInternalServerError, internalError)
	}
}

// decodeOperationType 支持 7、"7" 与 "SimulateRawTransaction" 三种写法。
func decodeOperationType(raw json.RawMessage) intent.Kind {
	var code int
	if err := json.Unmarshal(raw, &code); err == nil {
		return intent.KindFromCode(code)
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return intent.Unrecognized
	}
	name = strings.TrimSpace(name)
	if n, err := strconv.Atoi(name); err == nil {
		return intent.KindFromCode(n)
	}
	if kind, ok := intent.ParseKindName(name); ok {
		return kind
	}
	return intent.Unrecognized
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(dst)
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// isJSONObject 仅接受对象形式的模拟结果，标量和数组一律视为缺失。
func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
