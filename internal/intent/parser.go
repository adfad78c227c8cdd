package intent

import (
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"

	xerrors "WalletPilot/internal/errors"
)

// Field names accepted for each schema member, canonical name first.
var (
	operationFields = []string{"operationType", "operation_type", "operation"}
	messageFields   = []string{"message"}
	argumentFields  = []string{"arguments", "args"}
)

// Parser turns raw classifier text into an Intent.
type Parser struct {
	recoverEmbedded bool
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithEmbeddedJSONRecovery lets the parser fall back to the first complete JSON
// object found inside prose or a Markdown code fence when the whole text is
// not valid JSON.
func WithEmbeddedJSONRecovery(enabled bool) ParserOption {
	return func(p *Parser) {
		p.recoverEmbedded = enabled
	}
}

// NewParser builds a parser. The zero configuration is strict.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

var strictParser = NewParser()

// Parse decodes raw strictly: the whole text must be one JSON object.
func Parse(raw string) (Intent, error) {
	return strictParser.Parse(raw)
}

// Parse decodes raw into an Intent. Text that is not a JSON object fails with
// CodeParseFailure. A well-formed object with an unknown or missing
// operationType yields an Unrecognized intent and no error.
func (p *Parser) Parse(raw string) (Intent, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Intent{}, xerrors.New(xerrors.CodeParseFailure, "classifier returned an empty response")
	}

	fields, ok := decodeObject(text)
	if !ok && p.recoverEmbedded {
		for _, candidate := range findObjectCandidates(text) {
			if fields, ok = decodeObject(candidate); ok {
				break
			}
		}
	}
	if !ok {
		return Intent{}, xerrors.New(xerrors.CodeParseFailure, "classifier response is not a JSON object",
			xerrors.WithMetadata("response", truncate(text, 200)))
	}

	return Intent{
		Operation: decodeKind(lookup(fields, operationFields)),
		Message:   decodeMessage(lookup(fields, messageFields)),
		Arguments: decodeArguments(lookup(fields, argumentFields)),
	}, nil
}

func decodeObject(text string) (map[string]json.RawMessage, bool) {
	dec := json.NewDecoder(strings.NewReader(text))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return fields, true
}

func lookup(fields map[string]json.RawMessage, names []string) json.RawMessage {
	for _, name := range names {
		if raw, ok := fields[name]; ok {
			return raw
		}
	}
	return nil
}

func decodeKind(raw json.RawMessage) Kind {
	if len(raw) == 0 {
		return Unrecognized
	}
	value, ok := decodeAny(raw)
	if !ok {
		return Unrecognized
	}
	switch v := value.(type) {
	case json.Number:
		return kindFromNumber(v)
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return Unrecognized
		}
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return kindFromNumber(json.Number(v))
		}
		if k, ok := ParseKindName(v); ok {
			return k
		}
	}
	return Unrecognized
}

func kindFromNumber(n json.Number) Kind {
	if i, err := n.Int64(); err == nil {
		if i < math.MinInt32 || i > math.MaxInt32 {
			return Unrecognized
		}
		return KindFromCode(int(i))
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return Unrecognized
	}
	return KindFromCode(int(f))
}

func decodeMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var message string
	if err := json.Unmarshal(raw, &message); err != nil {
		return ""
	}
	return message
}

func decodeArguments(raw json.RawMessage) Arguments {
	if len(raw) == 0 {
		return nil
	}
	value, ok := decodeAny(raw)
	if !ok {
		return nil
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	return Arguments(obj)
}

func decodeAny(raw json.RawMessage) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, false
	}
	return value, true
}

// findObjectCandidates returns the balanced top-level {...} spans of s in
// order of appearance. Quotes are only tracked inside an object, so prose
// apostrophes and quotes around it do not confuse the scan.
func findObjectCandidates(s string) []string {
	var (
		candidates []string
		depth      int
		start      = -1
		inString   bool
		escape     bool
	)
	for i := 0; i < len(s); i++ {
		b := s[i]
		if depth > 0 {
			if escape {
				escape = false
				continue
			}
			if inString {
				switch b {
				case '\\':
					escape = true
				case '"':
					inString = false
				}
				continue
			}
			if b == '"' {
				inString = true
				continue
			}
		}
		switch b {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return candidates
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
