package trajectory

import (
	"encoding/json"
	"regexp"
	"strings"
)

// parseInput tolerantly decodes the raw string a tool runtime hands the
// recorder. Model middlewares disagree on quoting conventions, so three
// strategies are tried in order: strict JSON, then a best-effort
// Python-literal-style mapping decode (single-quoted keys/values, True/
// False/None), then a raw wrap that never fails.
func parseInput(raw string) map[string]any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{"raw": raw}
	}

	var asJSON map[string]any
	if err := json.Unmarshal([]byte(trimmed), &asJSON); err == nil {
		return asJSON
	}

	if asLiteral, ok := parsePythonLiteralMapping(trimmed); ok {
		return asLiteral
	}

	return map[string]any{"raw": raw}
}

var (
	pyLiteralKeyword = regexp.MustCompile(`\bTrue\b|\bFalse\b|\bNone\b`)
)

// parsePythonLiteralMapping converts a Python-repr-style single-quoted
// mapping (e.g. {'command': 'ps', 'args': None}) into valid JSON and
// decodes it. This is a best-effort textual transform, not a full Python
// literal evaluator: it assumes the input is a flat or shallow mapping
// without embedded escaped quotes that would require real tokenization.
func parsePythonLiteralMapping(s string) (map[string]any, bool) {
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return nil, false
	}

	converted := convertPythonQuotes(s)
	converted = pyLiteralKeyword.ReplaceAllStringFunc(converted, func(tok string) string {
		switch tok {
		case "True":
			return "true"
		case "False":
			return "false"
		case "None":
			return "null"
		}
		return tok
	})

	var out map[string]any
	if err := json.Unmarshal([]byte(converted), &out); err != nil {
		return nil, false
	}
	return out, true
}

// convertPythonQuotes rewrites single-quoted string literals to
// double-quoted JSON string literals, escaping any double quotes already
// present in the original value. It walks the string once, tracking
// whether it is inside a single-quoted span.
func convertPythonQuotes(s string) string {
	var b strings.Builder
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'' && (i == 0 || s[i-1] != '\\'):
			inString = !inString
			b.WriteByte('"')
		case c == '"' && inString:
			b.WriteString(`\"`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
