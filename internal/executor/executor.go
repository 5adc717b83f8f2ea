// Package executor implements the Programmatic Executor (C4): it runs
// model-authored code in an isolated interpreter frame with three
// guarantees — only a fixed set of built-ins is visible, only a fixed
// allow-list of modules can be required, and execution terminates within
// a wall-clock timeout.
//
// The sandbox embeds github.com/dop251/goja, a pure-Go ECMAScript engine
// with no ambient filesystem, network, or process access unless a binding
// explicitly grants it. Everything a script can reach is installed
// explicitly in installSandbox; everything else simply does not exist in
// the interpreter frame.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"dockeragent-core/internal/shaper"
)

const noOutputMessage = "[No output — use print() to see results]"

// Tool is the capability handed to sandboxed scripts: a single method
// taking keyword arguments and returning a string. The Command Gateway's
// DockerCliTool is the primary implementation; fakes for tests implement
// the same interface.
type Tool interface {
	Invoke(args map[string]string) (string, error)
}

// ToolFunc adapts a plain function to the Tool interface.
type ToolFunc func(args map[string]string) (string, error)

// Invoke calls f.
func (f ToolFunc) Invoke(args map[string]string) (string, error) { return f(args) }

// allowedModules is the fixed set of names the sandboxed require() will
// resolve. Anything else raises inside the script.
var allowedModules = map[string]bool{
	"json": true, "re": true, "time": true, "textwrap": true,
	"itertools": true, "functools": true, "collections": true,
}

// Executor runs model-authored scripts against an injected tool namespace.
type Executor struct {
	timeout       time.Duration
	maxOutputChar int
	shaper        *shaper.Shaper
	tools         map[string]Tool
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithTimeout overrides the default 120s wall-clock execution budget.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithMaxOutputChars overrides the default 8000-char output budget.
func WithMaxOutputChars(n int) Option {
	return func(e *Executor) { e.maxOutputChar = n }
}

// WithTool registers a named callable in the interpreter's tool namespace,
// making calls like docker_cli({command: "ps", args: "-a"}) resolve inside
// the script.
func WithTool(name string, tool Tool) Option {
	return func(e *Executor) { e.tools[name] = tool }
}

// New creates an Executor with the given options applied over defaults.
func New(opts ...Option) *Executor {
	e := &Executor{
		timeout:       120 * time.Second,
		maxOutputChar: 8000,
		tools:         make(map[string]Tool),
	}
	for _, opt := range opts {
		opt(e)
	}
	// The output budget is a single string-truncation pass, so it's the
	// shaper's MaxStringChars rather than a separate knob; built here,
	// after the options, so WithMaxOutputChars takes effect regardless of
	// option order.
	e.shaper = shaper.New(shaper.Budgets{MaxStringChars: e.maxOutputChar})
	return e
}

// Result is the outcome of running one script.
type Result struct {
	Output   string
	TimedOut bool
	HadError bool
	Duration time.Duration
}

// Run executes code in a fresh, restricted interpreter frame and returns
// its captured, budget-truncated output. Run never returns a Go error for
// script failures — runtime exceptions and timeouts are folded into the
// Output string, where the model that authored the code can read them.
func (e *Executor) Run(ctx context.Context, code string) Result {
	start := time.Now()
	var buf strings.Builder
	var bufMu sync.Mutex

	vm := goja.New()
	e.installSandbox(vm, &buf, &bufMu)

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		_, err := vm.RunString(code)
		done <- err
	}()

	var runErr error
	timedOut := false

	select {
	case runErr = <-done:
	case <-time.After(e.timeout):
		timedOut = true
		// goja checks its interrupt flag at every loop/call boundary, so
		// Interrupt() preempts even a tight `while(true){}` body. It does
		// not preempt a native binding that is still running, such as an
		// injected tool waiting on its docker process; Run then returns
		// only once that call comes back.
		vm.Interrupt("timeout")
		<-done
	case <-ctx.Done():
		vm.Interrupt("cancelled")
		<-done
		runErr = ctx.Err()
	}

	bufMu.Lock()
	output := buf.String()
	bufMu.Unlock()

	hadError := false
	if timedOut {
		output += fmt.Sprintf("\n[TIMEOUT] Code execution exceeded %ds limit\n", int(e.timeout.Seconds()))
		hadError = true
	} else if runErr != nil {
		output += fmt.Sprintf("\n[ERROR]\n%s\n", formatScriptError(runErr))
		hadError = true
	}

	output = e.shaper.TruncateString(output)
	if output == "" {
		output = noOutputMessage
	}

	return Result{
		Output:   output,
		TimedOut: timedOut,
		HadError: hadError,
		Duration: time.Since(start),
	}
}

func formatScriptError(err error) string {
	if exc, ok := err.(*goja.Exception); ok {
		return exc.String()
	}
	return err.Error()
}
