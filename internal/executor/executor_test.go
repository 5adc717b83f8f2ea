package executor

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesPrint(t *testing.T) {
	ex := New()
	result := ex.Run(context.Background(), `print("hello", "world")`)
	if result.HadError {
		t.Fatalf("unexpected error: %s", result.Output)
	}
	if !strings.Contains(result.Output, "hello world") {
		t.Errorf("expected captured print output, got %q", result.Output)
	}
}

func TestRunEmptyOutputMessage(t *testing.T) {
	ex := New()
	result := ex.Run(context.Background(), `var x = 1 + 1;`)
	if result.Output != noOutputMessage {
		t.Errorf("expected the no-output hint, got %q", result.Output)
	}
}

func TestDisallowedModuleRaises(t *testing.T) {
	ex := New()
	result := ex.Run(context.Background(), `var os = require("os"); print(os);`)
	if !result.HadError {
		t.Fatal("expected require(\"os\") to raise")
	}
	if !strings.Contains(result.Output, "[ERROR]") || !strings.Contains(result.Output, "not allowed") {
		t.Errorf("expected [ERROR] with 'not allowed', got %q", result.Output)
	}
}

func TestAllowedModuleRoundTrips(t *testing.T) {
	ex := New()
	result := ex.Run(context.Background(), `var json = require("json"); print(json.dumps({k: 1}));`)
	if result.HadError {
		t.Fatalf("unexpected error: %s", result.Output)
	}
	if !strings.Contains(result.Output, `{"k":1}`) {
		t.Errorf("expected JSON round trip in output, got %q", result.Output)
	}
}

func TestInjectedToolCallable(t *testing.T) {
	ex := New(WithTool("docker_cli", ToolFunc(func(args map[string]string) (string, error) {
		return "OK: " + args["command"] + " " + args["args"], nil
	})))

	result := ex.Run(context.Background(), `print(docker_cli({command: "ps", args: "-a"}));`)
	if result.HadError {
		t.Fatalf("unexpected error: %s", result.Output)
	}
	if !strings.Contains(result.Output, "OK: ps -a") {
		t.Errorf("expected injected tool output, got %q", result.Output)
	}
}

func TestToolErrorSurfacesAsScriptException(t *testing.T) {
	ex := New(WithTool("docker_cli", ToolFunc(func(args map[string]string) (string, error) {
		return "", context.DeadlineExceeded
	})))

	result := ex.Run(context.Background(), `print(docker_cli({command: "ps"}));`)
	if !result.HadError {
		t.Fatal("expected tool error to raise inside the script")
	}
	if !strings.Contains(result.Output, "[ERROR]") {
		t.Errorf("expected [ERROR] marker, got %q", result.Output)
	}
}

func TestTimeoutInterruptsTightLoop(t *testing.T) {
	ex := New(WithTimeout(200 * time.Millisecond))

	start := time.Now()
	result := ex.Run(context.Background(), `while (true) {}`)
	elapsed := time.Since(start)

	if !result.TimedOut {
		t.Fatal("expected TimedOut=true")
	}
	if !strings.Contains(result.Output, "[TIMEOUT]") {
		t.Errorf("expected [TIMEOUT] line, got %q", result.Output)
	}
	if elapsed > 5*time.Second {
		t.Errorf("interrupt took too long: %s", elapsed)
	}
}

func TestOutputPassesThroughCharBudget(t *testing.T) {
	ex := New(WithMaxOutputChars(100))

	result := ex.Run(context.Background(), `
for (var i = 0; i < 200; i++) { print("line " + i); }
`)
	if result.HadError {
		t.Fatalf("unexpected error: %s", result.Output)
	}
	if !strings.Contains(result.Output, "TRUNCATED") {
		t.Errorf("expected budget truncation marker, got %d chars", len(result.Output))
	}
}

func TestScriptExceptionFoldedNotReturned(t *testing.T) {
	ex := New()
	result := ex.Run(context.Background(), `throw new Error("model bug");`)
	if !result.HadError {
		t.Fatal("expected HadError=true")
	}
	if !strings.Contains(result.Output, "[ERROR]") || !strings.Contains(result.Output, "model bug") {
		t.Errorf("expected the script's own error text in output, got %q", result.Output)
	}
}

func TestEvalRemoved(t *testing.T) {
	ex := New()
	result := ex.Run(context.Background(), `print(eval("1+1"));`)
	if !result.HadError {
		t.Errorf("expected eval to be absent, got output %q", result.Output)
	}
}
