package shaper

import (
	"strings"
	"testing"
)

func TestTruncateStringUnderBudget(t *testing.T) {
	s := New(Budgets{MaxStringChars: 10})
	if got := s.TruncateString("short"); got != "short" {
		t.Fatalf("expected unchanged string, got %q", got)
	}
}

func TestTruncateStringOverBudget(t *testing.T) {
	s := New(Budgets{MaxStringChars: 10})
	in := strings.Repeat("a", 5) + strings.Repeat("b", 100) + strings.Repeat("c", 5)
	out := s.TruncateString(in)
	if !strings.HasPrefix(out, "aaaaa") {
		t.Fatalf("expected head preserved, got %q", out)
	}
	if !strings.HasSuffix(out, "ccccc") {
		t.Fatalf("expected tail preserved, got %q", out)
	}
	if !strings.Contains(out, "TRUNCATED") {
		t.Fatalf("expected truncation marker, got %q", out)
	}
}

func TestTruncateStringIdempotent(t *testing.T) {
	s := New(Budgets{MaxStringChars: 10})
	in := strings.Repeat("x", 1000)
	once := s.TruncateString(in)
	twice := s.TruncateString(once)
	if once != twice {
		t.Fatalf("truncating an already-truncated string should be a no-op:\nonce=%q\ntwice=%q", once, twice)
	}
}

func TestTruncateListSentinel(t *testing.T) {
	s := New(Budgets{MaxListItems: 2})
	items := []any{"a", "b", "c", "d"}
	out := s.truncateList(items)
	if len(out) != 3 {
		t.Fatalf("expected 3 elements (2 kept + sentinel), got %d", len(out))
	}
	sentinel, ok := out[2].(map[string]any)
	if !ok {
		t.Fatalf("expected sentinel map at tail, got %T", out[2])
	}
	if sentinel["_truncated_items"] != float64(2) {
		t.Fatalf("expected _truncated_items=2, got %v", sentinel["_truncated_items"])
	}
}

func TestTruncateDictSentinel(t *testing.T) {
	s := New(Budgets{MaxDictItems: 2})
	m := map[string]any{"a": 1, "b": 2, "c": 3, "d": 4}
	out := s.truncateDict(m)
	if _, ok := out["_truncated_keys"]; !ok {
		t.Fatalf("expected _truncated_keys sentinel, got %v", out)
	}
	if out["_truncated_keys"] != float64(2) {
		t.Fatalf("expected _truncated_keys=2, got %v", out["_truncated_keys"])
	}
}

func TestTruncateResponseUsesResponseBudgetNotStringBudget(t *testing.T) {
	s := New(Budgets{MaxStringChars: 5, MaxResponseChars: 20})
	in := strings.Repeat("x", 100)
	out := s.TruncateResponse(in)
	// Response budget 20 keeps 10 chars per end, omitting 80; the string
	// budget would have kept 2 per end and omitted 96.
	if !strings.Contains(out, "TRUNCATED 80 chars") {
		t.Fatalf("TruncateResponse should bound by MaxResponseChars, not MaxStringChars: %q", out)
	}
	if len(out) > 20+len("\n... [TRUNCATED 999 chars of logs] ...\n") {
		t.Fatalf("response not bounded by MaxResponseChars: %d chars", len(out))
	}
}

func TestSerializeAndTruncateTwoPass(t *testing.T) {
	s := New(Budgets{MaxListItems: 2, MaxResponseChars: 40})
	value := map[string]any{"items": []any{"a", "b", "c", "d", "e"}}
	out, err := s.SerializeAndTruncate(value)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) > 40+len("\n... [TRUNCATED 999 chars of logs] ...\n") {
		t.Fatalf("outer truncation did not bound output length: %d chars", len(out))
	}
}

func TestRecurseIntoNestedValues(t *testing.T) {
	s := New(Budgets{MaxStringChars: 5})
	value := map[string]any{
		"nested": []any{"abcdefghij"},
	}
	out := s.TruncateData(value).(map[string]any)
	list := out["nested"].([]any)
	if list[0].(string) == "abcdefghij" {
		t.Fatalf("expected nested string to be truncated")
	}
}
