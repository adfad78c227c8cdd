package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	xerrors "WalletPilot/internal/errors"
	"WalletPilot/internal/events"
	"WalletPilot/internal/executor"
	"WalletPilot/internal/intent"
	"WalletPilot/internal/llm"
	"WalletPilot/internal/observability/alerting"
	"WalletPilot/internal/observability/metrics"
	"WalletPilot/internal/storage/mysql"
	"WalletPilot/internal/web3"

	"github.com/google/uuid"
)

// turn 收集一次对话在各阶段产生的数据，最终写入仓库与日志。
type turn struct {
	id        string
	request   ChatRequest
	address   string
	operation intent.Kind
	model     string
	outcome   executor.Outcome
	err       error
}

// Chat 执行一次完整的对话轮次：分类、解析、执行并记录结果。
//
// 分类与解析阶段的失败以错误返回；执行阶段的失败已渲染进 ChatReply.Response，
// 同时通过 ErrorCode 暴露错误码。
func (a *Agent) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	if a.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, MessageRequired)
	}
	if a.accounts == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置钱包")
	}

	account, err := a.accounts.Account(ctx, strings.TrimSpace(req.Address))
	if err != nil {
		if _, typed := xerrors.From(err); typed {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "wallet is not available",
			xerrors.WithMetadata("address", req.Address))
	}

	unlock, ok := a.lockAccount(account.Address())
	if !ok {
		return nil, xerrors.New(xerrors.CodeConflict, "another request for this wallet is in progress",
			xerrors.WithMetadata("address", account.Address().Hex()))
	}
	defer unlock()

	done := metrics.TurnStarted()
	defer done()

	t := &turn{
		id:        uuid.NewString(),
		request:   req,
		address:   account.Address().Hex(),
		operation: intent.Unrecognized,
	}
	reply, err := a.runTurn(ctx, account, t)
	if err != nil {
		t.err = err
	}
	a.finishTurn(ctx, t)
	return reply, err
}

func (a *Agent) runTurn(ctx context.Context, account web3.Account, t *turn) (*ChatReply, error) {
	parsed, err := a.classify(ctx, t)
	if err != nil {
		return nil, err
	}
	t.operation = parsed.Operation

	execCtx, cancel := withOptionalTimeout(ctx, a.execTimeout)
	outcome, execErr := a.executor.Execute(execCtx, account, parsed)
	cancel()
	t.outcome = outcome

	reply := &ChatReply{
		TurnID:        t.id,
		Response:      outcome.Message,
		Operation:     parsed.Operation,
		OperationType: parsed.Operation.Code(),
		TransactionID: outcome.TransactionID,
		Simulation:    outcome.Simulation,
		Model:         t.model,
	}
	if execErr != nil {
		t.err = execErr
		reply.ErrorCode = xerrors.CodeOf(execErr)
		return reply, nil
	}

	if a.autoExplain && outcome.NeedsExplanation() {
		explanation, err := a.explain(ctx, outcome.Simulation, outcome.Kind)
		if err != nil {
			a.logger.Warn("模拟结果解释失败", "turn_id", t.id, "code", xerrors.CodeOf(err), "error", err)
		} else {
			reply.Explanation = explanation
		}
	}
	return reply, nil
}

// classify 调用大模型并解析返回的意图。
func (a *Agent) classify(ctx context.Context, t *turn) (intent.Intent, error) {
	llmCtx, cancel := withOptionalTimeout(ctx, a.llmTimeout)
	defer cancel()

	start := time.Now()
	resp, err := a.llmClient.Generate(llmCtx, llm.Request{
		SystemPrompt: a.systemPrompt,
		UserMessage:  t.request.Message,
		Temperature:  a.temperature,
		JSONOnly:     true,
	})
	if err != nil {
		err = classifierFailure(err)
		a.observeClassifier("classify", start, err)
		return intent.Intent{}, err
	}
	a.observeClassifier("classify", start, nil)
	t.model = resp.Model

	parsed, err := a.parser.Parse(resp.Content)
	if err != nil {
		a.logger.Warn("无法解析大模型响应", "turn_id", t.id, "error", err)
		return intent.Intent{}, err
	}
	a.logger.Debug("意图分类完成", "turn_id", t.id, "operation", parsed.Operation.String(), "model", t.model)
	return parsed, nil
}

// finishTurn 记录对话、发布事件、写审计日志并按需告警。这些步骤的失败只记录日志。
func (a *Agent) finishTurn(ctx context.Context, t *turn) {
	ctx = context.WithoutCancel(ctx)
	code := ""
	if t.err != nil {
		code = string(xerrors.CodeOf(t.err))
	}

	metrics.ObserveTurn(t.operation.String(), code)
	if t.operation.Irreversible() {
		metrics.ObserveTransfer(t.operation.String(), code)
	}

	response := t.outcome.Message
	if response == "" && t.err != nil {
		response = executor.RenderError(t.err)
	}

	if a.turns != nil {
		record := mysql.TurnRecord{
			ID:            t.id,
			Address:       t.address,
			Message:       t.request.Message,
			Operation:     t.operation.Code(),
			Response:      response,
			TransactionID: t.outcome.TransactionID,
			ErrorCode:     code,
			Model:         t.model,
			CreatedAt:     time.Now().Unix(),
		}
		if err := a.turns.Save(ctx, record); err != nil {
			a.logger.Error("保存对话记录失败", "turn_id", t.id, "error", err)
		}
	}

	if t.outcome.TransactionID != "" {
		event := events.TransferEvent{
			TurnID:        t.id,
			Address:       t.address,
			Operation:     t.operation.String(),
			TransactionID: t.outcome.TransactionID,
			OccurredAt:    time.Now().UTC(),
		}
		if err := a.publisher.PublishTransfer(ctx, event); err != nil {
			a.logger.Error("发布转账事件失败", "turn_id", t.id, "transaction_id", t.outcome.TransactionID, "error", err)
		}
	}

	if t.operation.SideEffecting() {
		a.audit.Info("wallet operation",
			slog.String("turn_id", t.id),
			slog.String("operation", t.operation.String()),
			slog.String("address", t.address),
			slog.String("transaction_id", t.outcome.TransactionID),
			slog.String("code", code))
	}

	if t.err != nil && a.alerts != nil && xerrors.ShouldAlert(t.err) {
		event := alerting.NewEvent(t.err, t.id, t.operation.String(), t.address)
		if err := a.alerts.Notify(ctx, event); err != nil {
			a.logger.Error("发送告警失败", "turn_id", t.id, "error", err)
		}
	}
}

func (a *Agent) observeClassifier(purpose string, start time.Time, err error) {
	code := ""
	if err != nil {
		code = string(xerrors.CodeOf(err))
	}
	metrics.ObserveClassifier(purpose, time.Since(start), code)
}
