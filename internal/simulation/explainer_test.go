package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	xerrors "WalletPilot/internal/errors"
	"WalletPilot/internal/intent"
	"WalletPilot/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func replying(content string, seen *llm.Request) llm.Client {
	return llm.ClientFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		if seen != nil {
			*seen = req
		}
		return &llm.Response{Content: content}, nil
	})
}

func TestExplainUsesPerKindPrompt(t *testing.T) {
	for _, kind := range []intent.Kind{intent.SimulateRawTransaction, intent.SimulateMyOperation} {
		t.Run(kind.String(), func(t *testing.T) {
			var seen llm.Request
			reply := fmt.Sprintf(`{"operationType": %d, "message": "This would send 1 ETH."}`, kind.Code())
			explainer := NewExplainer(replying(reply, &seen))

			result := map[string]any{"success": true, "gasUsed": "0x5208"}
			text, err := explainer.Explain(context.Background(), result, kind)
			require.NoError(t, err)
			assert.Equal(t, "This would send 1 ETH.", text)

			prompt, _ := SystemPrompt(kind)
			assert.Equal(t, prompt, seen.SystemPrompt)
			assert.Contains(t, seen.SystemPrompt, fmt.Sprintf(`"operationType" of %d`, kind.Code()))
			assert.True(t, seen.JSONOnly)

			var echoed map[string]any
			require.NoError(t, json.Unmarshal([]byte(seen.UserMessage), &echoed))
			assert.Equal(t, "0x5208", echoed["gasUsed"])
		})
	}
}

func TestExplainRejectsOtherKinds(t *testing.T) {
	called := false
	client := llm.ClientFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		called = true
		return nil, nil
	})
	explainer := NewExplainer(client)

	for _, kind := range []intent.Kind{intent.SimulateTransaction, intent.SendEth, intent.Unrecognized} {
		_, err := explainer.Explain(context.Background(), map[string]any{"x": 1}, kind)
		assert.Equal(t, xerrors.CodeInvalidOperationKind, xerrors.CodeOf(err), kind.String())
	}
	assert.False(t, called, "classifier must not be called for rejected kinds")
}

func TestExplainMapsClassifierErrors(t *testing.T) {
	failing := NewExplainer(llm.ClientFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, errors.New("503 from upstream")
	}))
	_, err := failing.Explain(context.Background(), "{}", intent.SimulateMyOperation)
	assert.Equal(t, xerrors.CodeUpstreamFailure, xerrors.CodeOf(err))

	slow := NewExplainer(llm.ClientFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, fmt.Errorf("request: %w", context.DeadlineExceeded)
	}))
	_, err = slow.Explain(context.Background(), "{}", intent.SimulateMyOperation)
	assert.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
}

func TestExplainUnparseableReply(t *testing.T) {
	explainer := NewExplainer(replying("The transaction looks fine.", nil))
	_, err := explainer.Explain(context.Background(), "{}", intent.SimulateRawTransaction)
	assert.Equal(t, xerrors.CodeParseFailure, xerrors.CodeOf(err))

	lenient := NewExplainer(replying("Sure! ```json\n{\"operationType\": 7, \"message\": \"ok\"}\n```", nil),
		WithParser(intent.NewParser(intent.WithEmbeddedJSONRecovery(true))))
	text, err := lenient.Explain(context.Background(), "{}", intent.SimulateRawTransaction)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestExplainToleratesMismatchedKind(t *testing.T) {
	explainer := NewExplainer(replying(`{"operationType": 6, "message": "Looks safe."}`, nil))
	text, err := explainer.Explain(context.Background(), "{}", intent.SimulateRawTransaction)
	require.NoError(t, err)
	assert.Equal(t, "Looks safe.", text)
}

func TestExplainRequiresResult(t *testing.T) {
	explainer := NewExplainer(replying(`{}`, nil))
	_, err := explainer.Explain(context.Background(), nil, intent.SimulateRawTransaction)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}
