// Package shaper truncates strings and JSON-shaped values to a fixed
// character budget while preserving enough structure for a model to keep
// reasoning about what it's looking at.
//
// Three budgets govern inner (structural) truncation — max string chars,
// max list items, max dict items — and a fourth governs the outer budget
// applied to the final serialized form. The two passes do different jobs:
// truncating the data shape first preserves structure, truncating the
// wire form after enforces a hard response budget.
package shaper

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
)

const (
	DefaultMaxStringChars   = 1200
	DefaultMaxListItems     = 120
	DefaultMaxDictItems     = 200
	DefaultMaxResponseChars = 4000
)

// Budgets holds the four truncation limits. A zero value for any field
// falls back to its Default constant when used through Shaper.
type Budgets struct {
	MaxStringChars   int
	MaxListItems     int
	MaxDictItems     int
	MaxResponseChars int
}

// Shaper applies Budgets to raw strings and arbitrary decoded JSON values.
type Shaper struct {
	budgets Budgets
}

// New returns a Shaper with budgets filled in from Defaults where unset.
func New(b Budgets) *Shaper {
	if b.MaxStringChars <= 0 {
		b.MaxStringChars = DefaultMaxStringChars
	}
	if b.MaxListItems <= 0 {
		b.MaxListItems = DefaultMaxListItems
	}
	if b.MaxDictItems <= 0 {
		b.MaxDictItems = DefaultMaxDictItems
	}
	if b.MaxResponseChars <= 0 {
		b.MaxResponseChars = DefaultMaxResponseChars
	}
	return &Shaper{budgets: b}
}

// TruncateString applies the string rule: unchanged if within budget,
// otherwise head+tail with an omitted-count marker in between. Both ends
// are kept because log diagnostics often live at both ends of a stream.
func (s *Shaper) TruncateString(value string) string {
	return truncateString(value, s.budgets.MaxStringChars)
}

// TruncateResponse applies the string rule using the overall response
// budget rather than the per-value string budget. The Command Gateway
// uses this for raw command stdout, which is a bare string response
// rather than a JSON envelope subject to the two-pass serialization
// rule, but still has to fit the global response budget.
func (s *Shaper) TruncateResponse(value string) string {
	return truncateString(value, s.budgets.MaxResponseChars)
}

// truncationMark matches the elision marker a previous pass spliced in.
var truncationMark = regexp.MustCompile(`\n\.\.\. \[TRUNCATED \d+ chars of logs\] \.\.\.\n`)

func truncateString(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	// The head+tail+marker result can itself exceed max (the marker is
	// longer than small budgets), so a bare length check is not enough to
	// make truncation idempotent: a value already carrying the marker is
	// returned as-is rather than re-split around a different omitted
	// count.
	if truncationMark.MatchString(value) {
		return value
	}
	half := max / 2
	omitted := len(runes) - 2*half
	head := string(runes[:half])
	tail := string(runes[len(runes)-half:])
	return head + "\n... [TRUNCATED " + strconv.Itoa(omitted) + " chars of logs] ...\n" + tail
}

// TruncateData recursively truncates lists and maps (as produced by
// json.Unmarshal into any) according to MaxListItems/MaxDictItems, and
// applies the string rule to every leaf string. Each pass appends its own
// sentinel entry, which counts toward the budget on a later pass, so
// re-truncating an already-truncated list or map is not a no-op.
func (s *Shaper) TruncateData(value any) any {
	return s.truncateData(value)
}

func (s *Shaper) truncateData(value any) any {
	switch v := value.(type) {
	case string:
		return s.TruncateString(v)
	case []any:
		return s.truncateList(v)
	case map[string]any:
		return s.truncateDict(v)
	default:
		return v
	}
}

func (s *Shaper) truncateList(items []any) []any {
	if len(items) <= s.budgets.MaxListItems {
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = s.truncateData(item)
		}
		return out
	}

	kept := items[:s.budgets.MaxListItems]
	out := make([]any, 0, len(kept)+1)
	for _, item := range kept {
		out = append(out, s.truncateData(item))
	}
	out = append(out, map[string]any{"_truncated_items": float64(len(items) - s.budgets.MaxListItems)})
	return out
}

func (s *Shaper) truncateDict(m map[string]any) map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// map iteration order is unspecified in Go; sort so "insertion order"
	// is at least deterministic across repeated truncation passes.
	sort.Strings(keys)

	out := make(map[string]any, len(m))
	if len(keys) <= s.budgets.MaxDictItems {
		for _, k := range keys {
			out[k] = s.truncateData(m[k])
		}
		return out
	}

	kept := keys[:s.budgets.MaxDictItems]
	for _, k := range kept {
		out[k] = s.truncateData(m[k])
	}
	out["_truncated_keys"] = float64(len(keys) - s.budgets.MaxDictItems)
	return out
}

// SerializeAndTruncate implements the serialization rule: truncate the
// data shape, marshal to indented JSON, then apply the string rule with
// MaxResponseChars to the whole serialization. Inner truncation preserves
// structure; outer truncation enforces a hard wire budget, so when a value
// is both a huge dict and a huge string, inner truncation fires first.
func (s *Shaper) SerializeAndTruncate(value any) (string, error) {
	truncated := s.truncateData(value)
	b, err := json.MarshalIndent(truncated, "", "  ")
	if err != nil {
		return "", err
	}
	return truncateString(string(b), s.budgets.MaxResponseChars), nil
}
