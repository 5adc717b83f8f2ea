package trajectory

import "regexp"

// credentialPattern matches key[=:]value where key is either one of a
// small set of explicit, well-known secret-bearing env var names, or any
// identifier containing a sensitive substring, case-insensitively. The
// value must be at least 3 non-whitespace, non-delimiter characters —
// short enough values are usually placeholders, not real secrets.
var credentialPattern = regexp.MustCompile(
	`(?i)(POSTGRES_PASSWORD|MYSQL_ROOT_PASSWORD|REDIS_PASSWORD|SECRET_KEY|[\w]*(?:password|passwd|secret|token|api_key|apikey|auth|credential)[\w]*)([=:])\s*([^\s,;\n\[\]}{"']{3,})`,
)

// redactString replaces every credential-looking value in s with
// "<key><sep>[REDACTED]". Applying it twice is idempotent: the value
// class excludes both brackets, so the literal "[REDACTED]" placeholder
// can never match as a value on a later pass.
func redactString(s string) string {
	return credentialPattern.ReplaceAllString(s, "${1}${2}[REDACTED]")
}

// redactParsed walks a parsed input/output mapping and returns a copy with
// its string leaves redacted, recursing into nested maps and slices. The
// input is left unchanged.
func redactParsed(v any) any {
	switch val := v.(type) {
	case string:
		return redactString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = redactParsed(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = redactParsed(inner)
		}
		return out
	default:
		return v
	}
}

// redactToolCall applies redaction to every text-bearing field of a
// ToolCallRecord: input_raw, input_parsed (deep), output, error, and the
// args/full_command fields of docker_cli_args.
func redactToolCall(tc *ToolCallRecord) {
	tc.InputRaw = redactString(tc.InputRaw)
	if tc.InputParsed != nil {
		tc.InputParsed = redactParsed(tc.InputParsed).(map[string]any)
	}
	if tc.Output != nil {
		redacted := redactString(*tc.Output)
		tc.Output = &redacted
	}
	if tc.Error != nil {
		redacted := redactString(*tc.Error)
		tc.Error = &redacted
	}
	if tc.DockerCliArgs != nil {
		tc.DockerCliArgs.Args = redactString(tc.DockerCliArgs.Args)
		tc.DockerCliArgs.FullCommand = redactString(tc.DockerCliArgs.FullCommand)
	}
}
