// Package executor validates classified intents and performs the matching
// wallet call. Every side effect happens at most once per Execute call.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"WalletPilot/internal/balance"
	xerrors "WalletPilot/internal/errors"
	"WalletPilot/internal/intent"
	"WalletPilot/internal/web3"
	"WalletPilot/internal/web3/ethereum"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// DeclinedMessage is shown when the wallet owner refuses to sign.
	DeclinedMessage = "You declined the request in your wallet, so nothing was sent."
	// SimulatingMessage is the interim status of a simulation awaiting explanation.
	SimulatingMessage = "Simulating the transaction..."

	errorPrefix = "An error occurred: "
)

// TokenSource resolves token metadata. *balance.TokenDirectory implements it.
type TokenSource interface {
	Native() web3.Token
	Default() (web3.Token, bool)
	Lookup(ctx context.Context, address common.Address) (web3.Token, error)
}

// DisplayFormatter renders a resolved balance for the user.
type DisplayFormatter func(balance.Amount) string

// Outcome is the result of one executed intent.
type Outcome struct {
	Kind          intent.Kind
	Message       string
	TransactionID string
	Simulation    *web3.SimulationResult
}

// NeedsExplanation reports whether the outcome carries a simulation result
// that the post-processor should explain.
func (o Outcome) NeedsExplanation() bool {
	return o.Simulation != nil &&
		(o.Kind == intent.SimulateRawTransaction || o.Kind == intent.SimulateMyOperation)
}

// Executor maps intents onto wallet calls.
type Executor struct {
	tokens       TokenSource
	resolver     *balance.Resolver
	defaultToken *web3.Token
	requireToken bool
	display      DisplayFormatter
	logger       *slog.Logger
}

// Option customises an Executor.
type Option func(*Executor)

// WithDefaultToken overrides the token used when GetTokenBalance names none.
func WithDefaultToken(token web3.Token) Option {
	return func(e *Executor) { e.defaultToken = &token }
}

// WithRequireTokenAddress makes tokenAddress mandatory for GetTokenBalance.
func WithRequireTokenAddress(required bool) Option {
	return func(e *Executor) { e.requireToken = required }
}

// WithDisplayFormatter replaces the balance rendering.
func WithDisplayFormatter(format DisplayFormatter) Option {
	return func(e *Executor) {
		if format != nil {
			e.display = format
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New builds an executor over the given token source.
func New(tokens TokenSource, opts ...Option) *Executor {
	if tokens == nil {
		tokens = balance.NewTokenDirectory(nil, nil)
	}
	e := &Executor{
		tokens:   tokens,
		resolver: balance.NewResolver(),
		display:  func(a balance.Amount) string { return a.Display() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Execute performs in against account. The returned Outcome always carries a
// user-facing message, including when err is non-nil.
func (e *Executor) Execute(ctx context.Context, account web3.Account, in intent.Intent) (Outcome, error) {
	out, err := e.dispatch(ctx, account, in)
	out.Kind = in.Operation
	if err != nil {
		out.Message = RenderError(err)
		e.logger.Warn("operation failed",
			"operation", in.Operation.String(),
			"code", xerrors.CodeOf(err),
			"error", err)
		return out, err
	}
	e.logger.Debug("operation executed", "operation", in.Operation.String())
	return out, nil
}

func (e *Executor) dispatch(ctx context.Context, account web3.Account, in intent.Intent) (Outcome, error) {
	switch in.Operation {
	case intent.NormalChat:
		return Outcome{Message: in.Message}, nil
	case intent.Unrecognized:
		return Outcome{Message: intent.UnrecognizedMessage}, nil
	}

	if !in.Operation.Known() {
		return Outcome{Message: intent.UnrecognizedMessage}, nil
	}
	if account == nil {
		return Outcome{}, xerrors.New(xerrors.CodeInvalidArgument, "wallet is not connected")
	}

	switch in.Operation {
	case intent.GetBalance:
		return e.getBalance(ctx, account, in)
	case intent.GetTokenBalance:
		return e.getTokenBalance(ctx, account, in)
	case intent.SimulateTransaction:
		return e.simulateCall(ctx, account, in)
	case intent.SendToken:
		return e.sendToken(ctx, account, in)
	case intent.SendEth:
		return e.sendEth(ctx, account, in)
	case intent.GetAddress:
		return e.getAddress(account, in)
	case intent.SimulateRawTransaction:
		return e.simulateRaw(ctx, account, in)
	case intent.SimulateMyOperation:
		return e.simulateMine(ctx, account, in)
	default:
		return Outcome{}, xerrors.New(xerrors.CodeInvalidOperationKind,
			fmt.Sprintf("no handler for operation %s", in.Operation))
	}
}

func (e *Executor) getBalance(ctx context.Context, account web3.Account, in intent.Intent) (Outcome, error) {
	native := e.tokens.Native()
	amount, err := e.resolver.Resolve(ctx, account, native)
	if err != nil {
		return Outcome{}, err
	}
	display := e.display(amount)
	if msg, ok := intent.Substitute(in.Message, intent.PlaceholderBalance, display); ok {
		return Outcome{Message: msg}, nil
	}
	return Outcome{Message: appendSentence(in.Message, fmt.Sprintf("Your balance is %s %s.", display, native.Symbol))}, nil
}

func (e *Executor) getTokenBalance(ctx context.Context, account web3.Account, in intent.Intent) (Outcome, error) {
	var token web3.Token
	if raw, ok := in.Arguments.String(intent.ArgTokenAddress); ok {
		address, err := parseAddress(intent.ArgTokenAddress, raw)
		if err != nil {
			return Outcome{}, err
		}
		token, err = e.tokens.Lookup(ctx, address)
		if err != nil {
			return Outcome{}, xerrors.Wrap(xerrors.CodeBalanceQueryFailure, err,
				fmt.Sprintf("failed to query balance of token %s", address.Hex()),
				xerrors.WithMetadata("token", address.Hex()))
		}
	} else {
		def, ok := e.defaultTokenFor()
		if e.requireToken || !ok {
			return Outcome{}, missingArguments(in.Operation, []string{intent.ArgTokenAddress})
		}
		token = def
	}

	amount, err := e.resolver.Resolve(ctx, account, token)
	if err != nil {
		return Outcome{}, err
	}
	display := e.display(amount)
	if msg, ok := intent.Substitute(in.Message, intent.PlaceholderBalance, display); ok {
		return Outcome{Message: msg}, nil
	}
	return Outcome{Message: appendSentence(in.Message, fmt.Sprintf("Your token balance is %s %s.", display, token.Symbol))}, nil
}

func (e *Executor) defaultTokenFor() (web3.Token, bool) {
	if e.defaultToken != nil {
		return *e.defaultToken, true
	}
	return e.tokens.Default()
}

func (e *Executor) getAddress(account web3.Account, in intent.Intent) (Outcome, error) {
	address := account.Address().Hex()
	if msg, ok := intent.Substitute(in.Message, intent.PlaceholderAddress, address); ok {
		return Outcome{Message: msg}, nil
	}
	return Outcome{Message: appendSentence(in.Message, fmt.Sprintf("Your address is %s.", address))}, nil
}

func (e *Executor) sendEth(ctx context.Context, account web3.Account, in intent.Intent) (Outcome, error) {
	if missing := in.Arguments.Missing(intent.ArgTo, intent.ArgAmount); len(missing) > 0 {
		return Outcome{}, missingArguments(in.Operation, missing)
	}
	native := e.tokens.Native()
	to, amount, err := e.transferArguments(in, native)
	if err != nil {
		return Outcome{}, err
	}
	return e.transfer(ctx, account, in, native, to, amount)
}

func (e *Executor) sendToken(ctx context.Context, account web3.Account, in intent.Intent) (Outcome, error) {
	if missing := in.Arguments.Missing(intent.ArgTokenAddress, intent.ArgTo, intent.ArgAmount); len(missing) > 0 {
		return Outcome{}, missingArguments(in.Operation, missing)
	}
	raw, _ := in.Arguments.String(intent.ArgTokenAddress)
	address, err := parseAddress(intent.ArgTokenAddress, raw)
	if err != nil {
		return Outcome{}, err
	}
	token, err := e.tokens.Lookup(ctx, address)
	if err != nil {
		return Outcome{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err,
			fmt.Sprintf("unknown token %s", address.Hex()))
	}
	to, amount, err := e.transferArguments(in, token)
	if err != nil {
		return Outcome{}, err
	}
	return e.transfer(ctx, account, in, token, to, amount)
}

func (e *Executor) transferArguments(in intent.Intent, token web3.Token) (common.Address, *big.Int, error) {
	rawTo, _ := in.Arguments.String(intent.ArgTo)
	to, err := parseAddress(intent.ArgTo, rawTo)
	if err != nil {
		return common.Address{}, nil, err
	}
	amount, err := parseAmount(in.Arguments, token)
	if err != nil {
		return common.Address{}, nil, err
	}
	return to, amount, nil
}

// transfer submits exactly one transfer. There is no retry path.
func (e *Executor) transfer(ctx context.Context, account web3.Account, in intent.Intent, token web3.Token, to common.Address, amount *big.Int) (Outcome, error) {
	receipt, err := account.ExecuteTransfer(ctx, token.Address, to, amount)
	if err != nil {
		if web3.IsUserRejected(err) {
			return Outcome{}, xerrors.Wrap(xerrors.CodeSignatureDeclined, err, "the transfer was declined in the wallet")
		}
		opts := []xerrors.Option{
			xerrors.WithRetryable(false),
			xerrors.WithMetadata("token", token.Address.Hex()),
			xerrors.WithMetadata("to", to.Hex()),
		}
		if errors.Is(err, web3.ErrNoSigner) {
			// Nothing was signed, so there is no broadcast to chase.
			opts = append(opts, xerrors.WithAlert(false), xerrors.WithSeverity(xerrors.SeverityWarning))
		}
		return Outcome{}, xerrors.Wrap(xerrors.CodeTransferFailure, err, "transfer failed", opts...)
	}

	label := "Token"
	if token.Native() {
		label = token.Symbol
	}
	sentence := fmt.Sprintf("%s transfer initiated: %s", label, receipt.TransactionID)
	return Outcome{
		Message:       appendSentence(in.Message, sentence),
		TransactionID: receipt.TransactionID,
	}, nil
}

func (e *Executor) simulateCall(ctx context.Context, account web3.Account, in intent.Intent) (Outcome, error) {
	if missing := in.Arguments.Missing(intent.ArgTo, intent.ArgCalldata); len(missing) > 0 {
		return Outcome{}, missingArguments(in.Operation, missing)
	}
	rawTo, _ := in.Arguments.String(intent.ArgTo)
	to, err := parseAddress(intent.ArgTo, rawTo)
	if err != nil {
		return Outcome{}, err
	}
	data, err := parseCalldata(in.Arguments[intent.ArgCalldata])
	if err != nil {
		return Outcome{}, err
	}
	value := new(big.Int)
	if in.Arguments.Has(intent.ArgAmount) {
		if value, err = parseAmount(in.Arguments, e.tokens.Native()); err != nil {
			return Outcome{}, err
		}
	}

	desc := web3.TransactionDescriptor{From: account.Address(), To: &to, Value: value, Data: data}
	result, err := simulate(ctx, account, desc, web3.SimulateOptions{SkipValidate: true})
	if err != nil {
		return Outcome{}, err
	}
	encoded, err := encodeResult(result)
	if err != nil {
		return Outcome{}, xerrors.Wrap(xerrors.CodeSimulationFailure, err, "failed to encode simulation result")
	}
	return Outcome{
		Message:    appendSentence(in.Message, "Transaction simulation result: "+encoded),
		Simulation: &result,
	}, nil
}

func (e *Executor) simulateRaw(ctx context.Context, account web3.Account, in intent.Intent) (Outcome, error) {
	tx, ok := in.Arguments.Object(intent.ArgTransaction)
	if !ok {
		return Outcome{}, missingArguments(in.Operation, []string{intent.ArgTransaction})
	}
	desc, err := rawDescriptor(tx, account.Address())
	if err != nil {
		return Outcome{}, err
	}
	result, err := simulate(ctx, account, desc, web3.SimulateOptions{SkipValidate: true})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Message: interimMessage(in.Message), Simulation: &result}, nil
}

func (e *Executor) simulateMine(ctx context.Context, account web3.Account, in intent.Intent) (Outcome, error) {
	if missing := in.Arguments.Missing(intent.ArgTo, intent.ArgAmount); len(missing) > 0 {
		return Outcome{}, missingArguments(in.Operation, missing)
	}
	token := e.tokens.Native()
	if raw, ok := in.Arguments.String(intent.ArgTokenAddress); ok {
		address, err := parseAddress(intent.ArgTokenAddress, raw)
		if err != nil {
			return Outcome{}, err
		}
		if token, err = e.tokens.Lookup(ctx, address); err != nil {
			return Outcome{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err,
				fmt.Sprintf("unknown token %s", address.Hex()))
		}
	}
	to, amount, err := e.transferArguments(in, token)
	if err != nil {
		return Outcome{}, err
	}
	desc, err := ethereum.TransferDescriptor(account.Address(), token.Address, to, amount)
	if err != nil {
		return Outcome{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "failed to build transfer")
	}
	result, err := simulate(ctx, account, desc, web3.SimulateOptions{SkipValidate: true})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Message: interimMessage(in.Message), Simulation: &result}, nil
}

func simulate(ctx context.Context, account web3.Account, desc web3.TransactionDescriptor, opts web3.SimulateOptions) (web3.SimulationResult, error) {
	result, err := account.Simulate(ctx, desc, opts)
	if err != nil {
		// Simulations never commit, so a node timeout can be tried again.
		retry := errors.Is(err, context.DeadlineExceeded)
		return web3.SimulationResult{}, xerrors.Wrap(xerrors.CodeSimulationFailure, err, "simulation failed",
			xerrors.WithRetryable(retry))
	}
	return result, nil
}

func interimMessage(message string) string {
	if strings.TrimSpace(message) != "" {
		return message
	}
	return SimulatingMessage
}

// RenderError turns an execution failure into the sentence shown to the user.
func RenderError(err error) string {
	if err == nil {
		return ""
	}
	if xerrors.CodeOf(err) == xerrors.CodeSignatureDeclined || web3.IsUserRejected(err) {
		return DeclinedMessage
	}
	return errorPrefix + describe(err)
}

func describe(err error) string {
	appErr, ok := xerrors.From(err)
	if !ok {
		return err.Error()
	}
	text := appErr.Message()
	if cause := errors.Unwrap(appErr); cause != nil {
		text += ": " + cause.Error()
	}
	return text
}

func appendSentence(message, sentence string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return sentence
	}
	return message + "\n" + sentence
}

func missingArguments(kind intent.Kind, missing []string) error {
	return xerrors.New(xerrors.CodeMissingArgument,
		fmt.Sprintf("missing required arguments for %s: %s", kind, strings.Join(missing, ", ")),
		xerrors.WithMetadata("operation", kind.String()),
		xerrors.WithMetadata("missing", strings.Join(missing, ",")))
}
