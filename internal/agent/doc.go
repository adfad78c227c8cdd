// Package agent runs one chat turn end to end: classify the user's message,
// parse the intent, execute it against the wallet and record the outcome.
package agent
