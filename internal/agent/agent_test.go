package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "WalletPilot/internal/errors"
	"WalletPilot/internal/events"
	"WalletPilot/internal/executor"
	"WalletPilot/internal/intent"
	"WalletPilot/internal/llm"
	"WalletPilot/internal/observability/alerting"
	"WalletPilot/internal/storage/mysql"
	"WalletPilot/internal/web3"
	"WalletPilot/internal/web3/web3test"
)

const ownerAddr = "0x00000000000000000000000000000000000000a1"

type stubLLM struct {
	resp  *llm.Response
	err   error
	wait  time.Duration
	mu    sync.Mutex
	calls int
}

func (s *stubLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *stubLLM) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func reply(content string) *stubLLM {
	return &stubLLM{resp: &llm.Response{Content: content, Model: "stub-model"}}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TransferEvent
}

func (p *recordingPublisher) PublishTransfer(_ context.Context, event events.TransferEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type recordingAlerts struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerts) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

type failingRepo struct{}

func (failingRepo) Save(context.Context, mysql.TurnRecord) error { return errors.New("disk full") }
func (failingRepo) ListLatest(context.Context, int) ([]mysql.TurnRecord, error) {
	return nil, errors.New("disk full")
}

func newWallet() *web3test.Account {
	account := web3test.NewAccount(ownerAddr)
	account.Balances[web3.NativeToken] = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	account.SimResult = web3.SimulationResult{Success: true, GasUsed: 21000}
	return account
}

func newRepo(t *testing.T) *mysql.MemoryTurnRepository {
	t.Helper()
	repo, err := mysql.NewMemoryTurnRepository(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	return repo
}

func TestChatBalanceTurn(t *testing.T) {
	wallet := newWallet()
	repo := newRepo(t)
	ag := New(reply(`{"operationType": 0, "message": "Your balance is [$balance] ETH", "arguments": null}`),
		web3test.Provider{Wallet: wallet}, executor.New(nil), WithTurnRepository(repo))

	result, err := ag.Chat(context.Background(), ChatRequest{Message: "What's my balance?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Response != "Your balance is 1 ETH" {
		t.Fatalf("unexpected response: %q", result.Response)
	}
	if result.Operation != intent.GetBalance || result.OperationType != 0 {
		t.Fatalf("unexpected operation: %+v", result)
	}
	if result.TurnID == "" || result.Model != "stub-model" {
		t.Fatalf("turn metadata missing: %+v", result)
	}

	history, err := ag.ListHistory(context.Background(), 10)
	if err != nil {
		t.Fatalf("list history failed: %v", err)
	}
	if len(history) != 1 || history[0].ID != result.TurnID || history[0].Response != result.Response {
		t.Fatalf("turn not recorded: %+v", history)
	}
}

func TestChatSendEthTransfersOnceAndPublishes(t *testing.T) {
	wallet := newWallet()
	publisher := &recordingPublisher{}
	ag := New(reply(`{"operationType": 4, "message": "Sending 1000 wei", "arguments": {"to": "0x00000000000000000000000000000000000000b0", "amount": "1000"}}`),
		web3test.Provider{Wallet: wallet}, executor.New(nil), WithPublisher(publisher))

	result, err := ag.Chat(context.Background(), ChatRequest{Message: "send 1000 wei to 0xb0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transfers := wallet.Transfers(); len(transfers) != 1 || transfers[0].Amount.Int64() != 1000 {
		t.Fatalf("expected exactly one transfer of 1000 wei, got %+v", transfers)
	}
	if result.TransactionID != wallet.TxHash {
		t.Fatalf("unexpected transaction id: %q", result.TransactionID)
	}
	if !strings.Contains(result.Response, "ETH transfer initiated: "+wallet.TxHash) {
		t.Fatalf("transaction id missing from response: %q", result.Response)
	}
	if len(publisher.events) != 1 || publisher.events[0].TurnID != result.TurnID || publisher.events[0].Operation != "SendEth" {
		t.Fatalf("unexpected events: %+v", publisher.events)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	client := reply(`{}`)
	ag := New(client, web3test.Provider{Wallet: newWallet()}, executor.New(nil))

	_, err := ag.Chat(context.Background(), ChatRequest{Message: "   "})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument || xerrors.MessageOf(err) != MessageRequired {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if client.Calls() != 0 {
		t.Fatalf("classifier must not be called for an empty message")
	}
}

func TestChatTimeout(t *testing.T) {
	wallet := newWallet()
	ag := New(&stubLLM{wait: 50 * time.Millisecond}, web3test.Provider{Wallet: wallet}, executor.New(nil),
		WithLLMTimeout(10*time.Millisecond))

	_, err := ag.Chat(context.Background(), ChatRequest{Message: "balance"})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline exceeded, got %v", err)
	}
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout code, got %s", xerrors.CodeOf(err))
	}
	if wallet.Calls() != 0 {
		t.Fatalf("wallet must not be touched after a classifier timeout")
	}
}

func TestChatUpstreamFailureIsRecordedAndAlerted(t *testing.T) {
	repo := newRepo(t)
	alerts := &recordingAlerts{}
	ag := New(&stubLLM{err: errors.New("502 bad gateway")}, web3test.Provider{Wallet: newWallet()}, executor.New(nil),
		WithTurnRepository(repo), WithAlerts(alerts))

	_, err := ag.Chat(context.Background(), ChatRequest{Message: "balance"})
	if xerrors.CodeOf(err) != xerrors.CodeUpstreamFailure {
		t.Fatalf("expected upstream failure, got %v", err)
	}

	records, _ := repo.ListLatest(context.Background(), 10)
	if len(records) != 1 || records[0].ErrorCode != string(xerrors.CodeUpstreamFailure) || records[0].Operation != -1 {
		t.Fatalf("failed turn not recorded: %+v", records)
	}
	if len(alerts.events) != 1 || alerts.events[0].Code != xerrors.CodeUpstreamFailure {
		t.Fatalf("expected one alert, got %+v", alerts.events)
	}
}

func TestChatParseFailure(t *testing.T) {
	wallet := newWallet()
	ag := New(reply("Sure, your balance is 5 ETH."), web3test.Provider{Wallet: wallet}, executor.New(nil))

	_, err := ag.Chat(context.Background(), ChatRequest{Message: "balance"})
	if xerrors.CodeOf(err) != xerrors.CodeParseFailure {
		t.Fatalf("expected parse failure, got %v", err)
	}
	if wallet.Calls() != 0 {
		t.Fatalf("wallet must not be touched when parsing fails")
	}
}

func TestChatExecutionFailureIsRendered(t *testing.T) {
	wallet := newWallet()
	wallet.BalanceErr = errors.New("connection refused")
	ag := New(reply(`{"operationType": 0, "message": "Your balance is [$balance] ETH"}`),
		web3test.Provider{Wallet: wallet}, executor.New(nil))

	result, err := ag.Chat(context.Background(), ChatRequest{Message: "balance"})
	if err != nil {
		t.Fatalf("execution failures are part of the reply, got error %v", err)
	}
	if result.ErrorCode != xerrors.CodeBalanceQueryFailure {
		t.Fatalf("unexpected error code: %q", result.ErrorCode)
	}
	if !strings.HasPrefix(result.Response, "An error occurred: ") {
		t.Fatalf("unexpected response: %q", result.Response)
	}
}

func TestChatConcurrentTurnsConflict(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		once.Do(func() { close(started) })
		<-release
		return &llm.Response{Content: `{"operationType": 6, "message": "hello"}`}, nil
	})
	ag := New(client, web3test.Provider{Wallet: newWallet()}, executor.New(nil))

	done := make(chan error, 1)
	go func() {
		_, err := ag.Chat(context.Background(), ChatRequest{Message: "hi"})
		done <- err
	}()
	<-started

	_, err := ag.Chat(context.Background(), ChatRequest{Message: "hi again"})
	if xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	result, err := ag.Chat(context.Background(), ChatRequest{Message: "hi"})
	if err != nil || result.Response != "hello" {
		t.Fatalf("lock not released: %v %+v", err, result)
	}
}

type addressedProvider struct{}

func (addressedProvider) Account(_ context.Context, address string) (web3.Account, error) {
	return web3test.NewAccount(address), nil
}

func TestChatReleasesAccountLocks(t *testing.T) {
	ag := New(reply(`{"operationType": 6, "message": "hello"}`), addressedProvider{}, executor.New(nil))

	for i := 1; i <= 50; i++ {
		address := fmt.Sprintf("0x%040x", i)
		if _, err := ag.Chat(context.Background(), ChatRequest{Message: "hi", Address: address}); err != nil {
			t.Fatalf("turn %d failed: %v", i, err)
		}
	}

	ag.locksMu.Lock()
	defer ag.locksMu.Unlock()
	if len(ag.inflight) != 0 {
		t.Fatalf("finished turns must not keep locks, got %d", len(ag.inflight))
	}
}

func TestChatAutoExplainsSimulation(t *testing.T) {
	wallet := newWallet()
	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		if strings.Contains(req.SystemPrompt, "simulated wallet operation") {
			return &llm.Response{Content: `{"operationType": 8, "message": "You would send 1000 wei for 21000 gas."}`}, nil
		}
		return &llm.Response{Content: `{"operationType": 8, "arguments": {"to": "0x00000000000000000000000000000000000000b0", "amount": "1000"}}`}, nil
	})
	ag := New(client, web3test.Provider{Wallet: wallet}, executor.New(nil), WithAutoExplain(true))

	result, err := ag.Chat(context.Background(), ChatRequest{Message: "what happens if I send 1000 wei?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Response != executor.SimulatingMessage {
		t.Fatalf("unexpected interim response: %q", result.Response)
	}
	if result.Simulation == nil || !result.Simulation.Success {
		t.Fatalf("simulation result missing: %+v", result.Simulation)
	}
	if result.Explanation != "You would send 1000 wei for 21000 gas." {
		t.Fatalf("unexpected explanation: %q", result.Explanation)
	}
	if len(wallet.Transfers()) != 0 {
		t.Fatalf("simulation must not transfer")
	}
}

func TestChatStorageFailureIsNotSurfaced(t *testing.T) {
	ag := New(reply(`{"operationType": 6, "message": "hello"}`), web3test.Provider{Wallet: newWallet()}, executor.New(nil),
		WithTurnRepository(failingRepo{}))

	result, err := ag.Chat(context.Background(), ChatRequest{Message: "hi"})
	if err != nil || result.Response != "hello" {
		t.Fatalf("storage failure leaked into the turn: %v %+v", err, result)
	}

	if _, err := ag.ListHistory(context.Background(), 5); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure from history, got %v", err)
	}
}

func TestChatWalletUnavailable(t *testing.T) {
	ag := New(reply(`{}`), web3test.Provider{Err: errors.New("invalid address")}, executor.New(nil))
	_, err := ag.Chat(context.Background(), ChatRequest{Message: "hi", Address: "nope"})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestExplainSimulation(t *testing.T) {
	ag := New(reply(`{"operationType": 7, "message": "It calls transfer on the token."}`), nil, nil)

	text, err := ag.ExplainSimulation(context.Background(), ExplainRequest{
		SimulationResult: json.RawMessage(`{"success": true}`),
		Operation:        intent.SimulateRawTransaction,
	})
	if err != nil || text != "It calls transfer on the token." {
		t.Fatalf("unexpected explanation: %q %v", text, err)
	}

	if _, err := ag.ExplainSimulation(context.Background(), ExplainRequest{Operation: intent.SimulateRawTransaction}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for empty result, got %v", err)
	}
	for _, raw := range []string{`""`, `0`, `false`, `"abc"`, `[]`} {
		_, err := ag.ExplainSimulation(context.Background(), ExplainRequest{
			SimulationResult: json.RawMessage(raw),
			Operation:        intent.SimulateRawTransaction,
		})
		if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
			t.Fatalf("expected invalid argument for %s, got %v", raw, err)
		}
	}

	_, err = ag.ExplainSimulation(context.Background(), ExplainRequest{
		SimulationResult: json.RawMessage(`{}`),
		Operation:        intent.SendEth,
	})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidOperationKind {
		t.Fatalf("expected invalid operation kind, got %v", err)
	}
}

func TestListHistoryWithoutRepository(t *testing.T) {
	ag := New(reply(`{}`), nil, nil)
	if _, err := ag.ListHistory(context.Background(), 5); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}
