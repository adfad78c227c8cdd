package intent

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Placeholders recognised inside Intent.Message. The vocabulary is closed.
const (
	PlaceholderBalance = "[$balance]"
	PlaceholderAddress = "[$address]"
)

// Placeholders returns the full placeholder vocabulary.
func Placeholders() []string {
	return []string{PlaceholderBalance, PlaceholderAddress}
}

// Intent is one classified chat turn.
type Intent struct {
	Operation Kind
	Message   string
	Arguments Arguments
}

// Arguments carries the operation specific fields extracted by the classifier.
// A nil map means the classifier sent no arguments.
type Arguments map[string]any

// String returns the named argument as trimmed text. Numbers are rendered
// without exponent so base-unit amounts survive.
func (a Arguments) String(key string) (string, bool) {
	if a == nil {
		return "", false
	}
	raw, ok := a[key]
	if !ok || raw == nil {
		return "", false
	}
	var text string
	switch v := raw.(type) {
	case string:
		text = v
	case json.Number:
		text = v.String()
	case float64:
		f := new(big.Float).SetFloat64(v)
		if f.IsInt() {
			i, _ := f.Int(nil)
			text = i.String()
		} else {
			text = f.Text('f', -1)
		}
	case bool:
		return "", false
	case fmt.Stringer:
		text = v.String()
	default:
		return "", false
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}

// Object returns a nested object argument.
func (a Arguments) Object(key string) (map[string]any, bool) {
	if a == nil {
		return nil, false
	}
	obj, ok := a[key].(map[string]any)
	return obj, ok && obj != nil
}

// Has reports whether the argument is present and non-empty.
func (a Arguments) Has(key string) bool {
	if _, ok := a.String(key); ok {
		return true
	}
	if _, ok := a.Object(key); ok {
		return true
	}
	if list, ok := a[key].([]any); ok && len(list) > 0 {
		return true
	}
	return false
}

// Missing returns the subset of keys that are absent or empty, in order.
func (a Arguments) Missing(keys ...string) []string {
	var missing []string
	for _, key := range keys {
		if !a.Has(key) {
			missing = append(missing, key)
		}
	}
	return missing
}

// Substitute replaces every occurrence of placeholder in message. The boolean
// reports whether the placeholder was present.
func Substitute(message, placeholder, value string) (string, bool) {
	if !strings.Contains(message, placeholder) {
		return message, false
	}
	return strings.ReplaceAll(message, placeholder, value), true
}
