package intent

import (
	"fmt"
	"strings"
)

// UnrecognizedMessage is the reply the classifier is told to use, and the one
// the executor always returns, for requests it cannot map.
const UnrecognizedMessage = "I'm sorry, I couldn't understand your request. Could you please rephrase it?"

// SystemPrompt renders the classifier instructions from the kind table so the
// numbering and placeholder vocabulary always match the executor.
func SystemPrompt(nativeSymbol string) string {
	if strings.TrimSpace(nativeSymbol) == "" {
		nativeSymbol = "ETH"
	}

	var b strings.Builder
	b.WriteString("You are the assistant of a crypto wallet application. ")
	b.WriteString("Interpret the user's request and answer with exactly one JSON object and nothing else:\n\n")
	b.WriteString("{\n  \"operationType\": <number>,\n  \"message\": \"<human readable message>\",\n  \"arguments\": <object or null>\n}\n\n")

	b.WriteString("Operation types:\n")
	for _, k := range Kinds() {
		info := kinds[k]
		fmt.Fprintf(&b, "%d: %s - %s", k.Code(), info.name, info.description)
		if len(info.required) > 0 {
			fmt.Fprintf(&b, " (arguments: %s)", strings.Join(info.required, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString("\nPlaceholders the wallet fills in after running the operation:\n")
	fmt.Fprintf(&b, "%s - the balance, for example \"Your balance is %s %s\"\n", PlaceholderBalance, PlaceholderBalance, nativeSymbol)
	fmt.Fprintf(&b, "%s - the wallet address, for example \"Your address is %s\"\n", PlaceholderAddress, PlaceholderAddress)
	b.WriteString("Never write a balance, address or transaction hash yourself.\n")

	b.WriteString("\nAmounts are strings in the token's smallest unit (wei for ")
	b.WriteString(nativeSymbol)
	b.WriteString("). Addresses are 0x-prefixed hex strings.\n")

	fmt.Fprintf(&b, "\nIf the request cannot be mapped to an operation, answer:\n{\"operationType\": %d, \"message\": %q, \"arguments\": null}\n",
		Unrecognized.Code(), UnrecognizedMessage)
	return b.String()
}
