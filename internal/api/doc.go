// Package api exposes the chat and simulation-explanation endpoints over HTTP,
// together with turn history, health and metrics routes.
package api
