package intent

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindCodesAreStable(t *testing.T) {
	want := map[Kind]int{
		GetBalance:             0,
		GetTokenBalance:        1,
		SimulateTransaction:    2,
		SendToken:              3,
		SendEth:                4,
		GetAddress:             5,
		NormalChat:             6,
		SimulateRawTransaction: 7,
		SimulateMyOperation:    8,
		Unrecognized:           -1,
	}
	for kind, code := range want {
		assert.Equal(t, code, kind.Code(), kind.String())
	}
	assert.Len(t, Kinds(), 9)
}

func TestKindLookups(t *testing.T) {
	for _, kind := range Kinds() {
		assert.True(t, kind.Known())
		assert.Equal(t, kind, KindFromCode(kind.Code()))

		parsed, ok := ParseKindName(strings.ToLower(kind.String()))
		require.True(t, ok)
		assert.Equal(t, kind, parsed)
	}
	assert.False(t, Unrecognized.Known())
	assert.Equal(t, Unrecognized, KindFromCode(99))

	_, ok := ParseKindName("Teleport")
	assert.False(t, ok)
}

func TestKindEffects(t *testing.T) {
	assert.True(t, SendEth.Irreversible())
	assert.True(t, SendToken.Irreversible())
	assert.False(t, SimulateMyOperation.Irreversible())
	assert.True(t, SimulateMyOperation.SideEffecting())
	assert.False(t, GetBalance.SideEffecting())
	assert.False(t, Unrecognized.SideEffecting())

	assert.Equal(t, []string{ArgTokenAddress, ArgTo, ArgAmount}, SendToken.RequiredArguments())
	assert.Nil(t, GetBalance.RequiredArguments())

	req := SendEth.RequiredArguments()
	req[0] = "mutated"
	assert.Equal(t, ArgTo, SendEth.RequiredArguments()[0])
}

func TestArgumentsHelpers(t *testing.T) {
	args := Arguments{
		"to":          "  0xabc ",
		"amount":      float64(1e18),
		"fraction":    0.25,
		"empty":       "",
		"flag":        true,
		"transaction": map[string]any{"to": "0x1"},
		"calldata":    []any{"0x1"},
	}

	to, ok := args.String("to")
	require.True(t, ok)
	assert.Equal(t, "0xabc", to)

	amount, ok := args.String("amount")
	require.True(t, ok)
	assert.Equal(t, "1000000000000000000", amount)

	fraction, _ := args.String("fraction")
	assert.Equal(t, "0.25", fraction)

	_, ok = args.String("flag")
	assert.False(t, ok)

	assert.True(t, args.Has("transaction"))
	assert.True(t, args.Has("calldata"))
	assert.Equal(t, []string{"empty", "missing"}, args.Missing("to", "empty", "missing"))

	var none Arguments
	assert.Equal(t, []string{"to"}, none.Missing("to"))
}

func TestSubstitute(t *testing.T) {
	got, ok := Substitute("Your balance is [$balance] ETH", PlaceholderBalance, "1.0")
	assert.True(t, ok)
	assert.Equal(t, "Your balance is 1.0 ETH", got)

	got, ok = Substitute("No placeholder", PlaceholderBalance, "1.0")
	assert.False(t, ok)
	assert.Equal(t, "No placeholder", got)
}

func TestSystemPromptEncodesContract(t *testing.T) {
	prompt := SystemPrompt("ETH")
	for _, kind := range Kinds() {
		assert.Contains(t, prompt, fmt.Sprintf("%d: %s", kind.Code(), kind.String()))
	}
	assert.Contains(t, prompt, PlaceholderBalance)
	assert.Contains(t, prompt, PlaceholderAddress)
	assert.Contains(t, prompt, `"operationType": -1`)
	assert.Contains(t, prompt, UnrecognizedMessage)
}

func TestKindTextRoundTrip(t *testing.T) {
	for _, kind := range append(Kinds(), Unrecognized) {
		text, err := kind.MarshalText()
		require.NoError(t, err)

		var decoded Kind
		require.NoError(t, decoded.UnmarshalText(text))
		assert.Equal(t, kind, decoded)
	}

	var k Kind
	assert.Error(t, k.UnmarshalText([]byte("Teleport")))
}
