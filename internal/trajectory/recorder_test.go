package trajectory

import (
	"strings"
	"testing"
)

func TestSafeReadScenario(t *testing.T) {
	r := New()
	r.SetTask("list containers")
	r.OnToolStart("run-1", "docker_cli", `{"command": "ps", "args": "-a"}`)
	r.OnToolEnd("run-1", "CONTAINER ID   IMAGE\nabc123  nginx\n")

	rec := r.Finalize(true, nil)

	if len(rec.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(rec.ToolCalls))
	}
	tc := rec.ToolCalls[0]
	if tc.DockerCliArgs == nil || tc.DockerCliArgs.FullCommand != "docker ps -a" {
		t.Fatalf("expected full_command 'docker ps -a', got %+v", tc.DockerCliArgs)
	}
	if !tc.Success {
		t.Fatalf("expected success=true")
	}
	if len(rec.Metrics.DockerCommandsUsed) != 1 || rec.Metrics.DockerCommandsUsed[0] != "ps" {
		t.Fatalf("expected docker_commands_used=[ps], got %v", rec.Metrics.DockerCommandsUsed)
	}
}

func TestBlockedCommandScenario(t *testing.T) {
	r := New()
	r.OnToolStart("run-1", "docker_cli", `{"command": "system prune", "args": "-af"}`)
	r.OnToolEnd("run-1", "Error: Command not allowed: system prune")

	rec := r.Finalize(false, nil)

	if len(rec.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call")
	}
	if rec.ToolCalls[0].Success {
		t.Fatalf("expected success=false for blocked command output")
	}
	if rec.Metrics.DockerCommandsUsed[0] != "system prune" {
		t.Fatalf("expected docker_commands_used=[system prune], got %v", rec.Metrics.DockerCommandsUsed)
	}
}

func TestLoopDetectionWithoutFailure(t *testing.T) {
	r := New(WithMaxRepeatedCalls(3))
	for i := 0; i < 4; i++ {
		runID := "run-" + string(rune('a'+i))
		r.OnToolStart(runID, "docker_cli", `{"command": "ps"}`)
		r.OnToolEnd(runID, "CONTAINER ID ...")
	}
	rec := r.Finalize(true, nil)

	for _, tc := range rec.ToolCalls {
		if !tc.Success {
			t.Fatalf("expected every call to succeed")
		}
	}
	if !rec.Metrics.LoopDetected {
		t.Fatalf("expected loop_detected=true")
	}
	if !rec.Success {
		t.Fatalf("expected record.success to remain true — loop detection must not force failure")
	}
}

func TestRedactionScenario(t *testing.T) {
	r := New()
	r.SetTask("Run postgres with POSTGRES_PASSWORD=s3cret123")
	r.OnToolStart("run-1", "docker_cli", `{"command": "run", "args": "-d -e POSTGRES_PASSWORD=s3cret123 postgres"}`)
	r.OnToolEnd("run-1", "started")

	rec := r.Finalize(true, nil)

	if strings.Contains(rec.Task, "s3cret123") {
		t.Fatalf("expected task to be redacted, got %q", rec.Task)
	}
	if !strings.Contains(rec.Task, "POSTGRES_PASSWORD=[REDACTED]") {
		t.Fatalf("expected redaction marker in task, got %q", rec.Task)
	}
	tc := rec.ToolCalls[0]
	if strings.Contains(tc.InputRaw, "s3cret123") {
		t.Fatalf("expected input_raw to be redacted, got %q", tc.InputRaw)
	}
	if strings.Contains(tc.InputParsed["args"].(string), "s3cret123") {
		t.Fatalf("expected input_parsed[args] to be redacted, got %q", tc.InputParsed["args"])
	}
	if strings.Contains(tc.DockerCliArgs.FullCommand, "s3cret123") {
		t.Fatalf("expected full_command to be redacted, got %q", tc.DockerCliArgs.FullCommand)
	}
}

func TestWithRedactionDisabled(t *testing.T) {
	r := New(WithRedaction(false))
	r.SetTask("Run postgres with POSTGRES_PASSWORD=s3cret123")
	r.OnToolStart("run-1", "docker_cli", `{"command": "run", "args": "-d -e POSTGRES_PASSWORD=s3cret123 postgres"}`)
	r.OnToolEnd("run-1", "started")

	rec := r.Finalize(true, nil)

	if !strings.Contains(rec.Task, "s3cret123") {
		t.Fatalf("expected secret to survive with redaction disabled, got %q", rec.Task)
	}
}

func TestRedactionIsIdempotent(t *testing.T) {
	once := redactString("SECRET_KEY=abc123def")
	twice := redactString(once)
	if once != twice {
		t.Fatalf("expected idempotent redaction:\nonce=%q\ntwice=%q", once, twice)
	}
}

func TestOrphanedEventsDiscarded(t *testing.T) {
	r := New()
	r.OnToolEnd("no-such-run", "whatever")
	r.OnToolError("no-such-run", "boom")
	rec := r.Finalize(true, nil)
	if len(rec.ToolCalls) != 0 {
		t.Fatalf("expected orphaned events to be discarded, got %d tool calls", len(rec.ToolCalls))
	}
}

func TestStartedAtSetOnFirstToolStart(t *testing.T) {
	r := New()
	if r.startedAt != nil {
		t.Fatalf("expected startedAt unset on construction")
	}
	r.OnToolStart("run-1", "docker_cli", `{"command":"ps"}`)
	if r.startedAt == nil {
		t.Fatalf("expected startedAt set after first tool_start")
	}
	r.OnToolEnd("run-1", "ok")
	rec := r.Finalize(true, nil)
	if rec.StartedAt.After(*rec.CompletedAt) {
		t.Fatalf("invariant violated: started_at must be <= completed_at")
	}
}

func TestSequenceNumbersAreDenseAndMonotonic(t *testing.T) {
	r := New()
	r.OnToolStart("a", "docker_cli", `{"command":"ps"}`)
	r.OnToolEnd("a", "ok")
	r.OnToolStart("b", "docker_cli", `{"command":"images"}`)
	r.OnToolEnd("b", "ok")

	rec := r.Finalize(true, nil)
	for i, tc := range rec.ToolCalls {
		if tc.Sequence != i {
			t.Fatalf("expected dense monotonic sequence, call %d has sequence %d", i, tc.Sequence)
		}
	}
}

func TestClearResetsState(t *testing.T) {
	r := New()
	r.SetTask("task one")
	r.OnToolStart("a", "docker_cli", `{"command":"ps"}`)
	r.OnToolEnd("a", "ok")
	r.Clear()

	rec := r.Finalize(true, nil)
	if rec.Task != "" || len(rec.ToolCalls) != 0 {
		t.Fatalf("expected clean state after Clear(), got task=%q toolCalls=%d", rec.Task, len(rec.ToolCalls))
	}
}

func TestParseInputFallsBackThroughStrategies(t *testing.T) {
	if p := parseInput(`{"command": "ps"}`); p["command"] != "ps" {
		t.Fatalf("expected JSON decode, got %v", p)
	}
	if p := parseInput(`{'command': 'ps'}`); p["command"] != "ps" {
		t.Fatalf("expected python-literal decode, got %v", p)
	}
	if p := parseInput(`not a mapping at all`); p["raw"] != "not a mapping at all" {
		t.Fatalf("expected raw wrap fallback, got %v", p)
	}
}

func TestSummarizeFormat(t *testing.T) {
	r := New()
	r.SetTask("check containers")
	r.OnToolStart("a", "docker_cli", `{"command":"ps","args":"-a"}`)
	r.OnToolEnd("a", "ok")
	rec := r.Finalize(true, nil)

	summary := Summarize(rec)
	if !strings.HasPrefix(summary, "check containers -> docker ps -a -> success") {
		t.Fatalf("unexpected summary: %q", summary)
	}
}

func TestSummarizeBracketedSuffixes(t *testing.T) {
	r := New(WithMaxRepeatedCalls(2))
	r.SetTask("poll status")
	for i := 0; i < 3; i++ {
		runID := "run-" + string(rune('a'+i))
		r.OnToolStart(runID, "docker_cli", `{"command":"ps"}`)
		r.OnToolEnd(runID, "CONTAINER ID ...")
	}
	r.OnLLMStart("llm-1", "test-model")
	r.OnLLMEnd("llm-1", map[string]int{"total_tokens": 321})
	rec := r.Finalize(true, nil)

	summary := Summarize(rec)
	if !strings.Contains(summary, "[tokens=321]") {
		t.Errorf("expected bracketed token count, got %q", summary)
	}
	if !strings.HasSuffix(summary, "[LOOP_DETECTED]") {
		t.Errorf("expected LOOP_DETECTED suffix, got %q", summary)
	}
}
