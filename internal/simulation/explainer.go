// Package simulation turns a raw simulation result into a plain-language
// explanation by asking the classifier a second, independent question.
package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	xerrors "WalletPilot/internal/errors"
	"WalletPilot/internal/intent"
	"WalletPilot/internal/llm"
)

const defaultTemperature = 0.7

// Explainer asks the language model to describe a simulation result.
type Explainer struct {
	client      llm.Client
	parser      *intent.Parser
	temperature float64
	logger      *slog.Logger
}

// Option customises an Explainer.
type Option func(*Explainer)

// WithParser replaces the reply parser.
func WithParser(parser *intent.Parser) Option {
	return func(e *Explainer) {
		if parser != nil {
			e.parser = parser
		}
	}
}

// WithTemperature sets the sampling temperature sent with each request.
func WithTemperature(t float64) Option {
	return func(e *Explainer) {
		if t >= 0 {
			e.temperature = t
		}
	}
}

// WithLogger sets the explainer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Explainer) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExplainer builds an explainer over client.
func NewExplainer(client llm.Client, opts ...Option) *Explainer {
	e := &Explainer{
		client:      client,
		parser:      intent.NewParser(),
		temperature: defaultTemperature,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Explain returns the model's description of result. kind must be
// SimulateRawTransaction or SimulateMyOperation.
func (e *Explainer) Explain(ctx context.Context, result any, kind intent.Kind) (string, error) {
	system, ok := SystemPrompt(kind)
	if !ok {
		return "", xerrors.New(xerrors.CodeInvalidOperationKind, "Invalid operation type",
			xerrors.WithMetadata("operation", kind.String()))
	}
	if result == nil {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "simulation result is required")
	}
	if e.client == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "classifier is not configured")
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "simulation result is not serialisable")
	}

	resp, err := e.client.Generate(ctx, llm.Request{
		SystemPrompt: system,
		UserMessage:  string(payload),
		Temperature:  e.temperature,
		JSONOnly:     true,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", xerrors.Wrap(xerrors.CodeTimeout, err, "simulation explanation timed out")
		}
		return "", xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "simulation explanation failed")
	}

	parsed, err := e.parser.Parse(resp.Content)
	if err != nil {
		return "", err
	}
	if parsed.Operation != kind {
		e.logger.Warn("explanation carries a different operation type",
			"expected", kind.String(),
			"got", parsed.Operation.String())
	}
	return parsed.Message, nil
}
