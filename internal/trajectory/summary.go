package trajectory

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

const maxSummaryChars = 800

// Summarize renders the plain-text one-line summary handed to the
// external trajectory sink: task -> cmd1 -> cmd2 -> ... -> outcome
// [tokens=N] [LOOP_DETECTED], truncated to 800 characters. Each docker_cli
// call contributes its full_command; other tools contribute
// tool(k1=v1, k2=v2, ...) with up to three arguments truncated to 40
// characters each.
func Summarize(rec Record) string {
	parts := []string{rec.Task}

	for _, tc := range rec.ToolCalls {
		if tc.DockerCliArgs != nil {
			parts = append(parts, tc.DockerCliArgs.FullCommand)
			continue
		}
		parts = append(parts, toolCallPreview(tc))
	}

	parts = append(parts, outcome(rec))

	summary := strings.Join(parts, " -> ")
	if rec.Metrics.TotalTokens > 0 {
		summary += " [tokens=" + strconv.Itoa(rec.Metrics.TotalTokens) + "]"
	}
	if rec.Metrics.LoopDetected {
		summary += " [LOOP_DETECTED]"
	}
	if len(summary) > maxSummaryChars {
		summary = summary[:maxSummaryChars-3] + "..."
	}
	return summary
}

func toolCallPreview(tc ToolCallRecord) string {
	var args []string
	keys := sortedKeys(tc.InputParsed)
	for _, k := range keys {
		if len(args) >= 3 {
			break
		}
		val := previewValue(tc.InputParsed[k])
		if len(val) > 40 {
			val = val[:40]
		}
		args = append(args, k+"="+val)
	}
	return tc.Tool + "(" + strings.Join(args, ", ") + ")"
}

func outcome(rec Record) string {
	n := len(rec.ToolCalls)
	if n == 0 {
		return "no tools executed"
	}
	k := 0
	for _, tc := range rec.ToolCalls {
		if tc.Success {
			k++
		}
	}
	rate := float64(k) / float64(n)
	switch {
	case rate >= 1.0:
		return "success"
	case rate >= 0.5:
		return "partial (" + strconv.Itoa(k) + "/" + strconv.Itoa(n) + ")"
	default:
		return "failed (" + strconv.Itoa(k) + "/" + strconv.Itoa(n) + ")"
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func previewValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return marshalCompact(v)
}

func marshalCompact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
