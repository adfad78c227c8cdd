package simulation

import (
	"fmt"

	"WalletPilot/internal/intent"
)

const rawTransactionPrompt = `You are an AI assistant analyzing an EVM transaction simulation. The simulation result is provided to you as JSON. ` +
	`Explain the transaction details, its potential effects and any notable aspects in a clear, concise manner. ` +
	`Focus on the called contract, involved addresses, value moved, gas used and whether the call would revert. ` +
	`Respond with one JSON object with an "operationType" of %d and a detailed "message".`

const myOperationPrompt = `You are an AI assistant analyzing a simulated wallet operation. The simulation result of a transfer from the user's own wallet is provided to you as JSON. ` +
	`Explain the operation details, its effects and any notable aspects in a clear, concise manner. ` +
	`Focus on the amount transferred, the recipient address, the gas it would cost and whether it would succeed. ` +
	`Respond with one JSON object with an "operationType" of %d and a detailed "message".`

// SystemPrompt returns the explanation instructions for kind. Only the two
// simulation follow-up kinds have one.
func SystemPrompt(kind intent.Kind) (string, bool) {
	switch kind {
	case intent.SimulateRawTransaction:
		return fmt.Sprintf(rawTransactionPrompt, kind.Code()), true
	case intent.SimulateMyOperation:
		return fmt.Sprintf(myOperationPrompt, kind.Code()), true
	default:
		return "", false
	}
}
