// Package llm contains the classifier abstraction and its provider adapters.
// Providers only move text: prompt construction lives with the callers and
// response decoding lives in the intent parser.
package llm
