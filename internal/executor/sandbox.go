package executor

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// installSandbox binds the fixed set of globals a script is allowed to
// see: a capturing print, a require() gated by the module allow-list, the
// injected tool namespace, and nothing else. ECMAScript's own built-in
// object/array/string/math surface (G1's "primitive constructors,
// iteration helpers, reflection primitives") is left in place; eval and
// the Function constructor are removed since both amount to a second,
// ungoverned code-execution path back into the host.
func (e *Executor) installSandbox(vm *goja.Runtime, buf io.StringWriter, mu *sync.Mutex) {
	vm.Set("print", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		mu.Lock()
		buf.WriteString(strings.Join(parts, " ") + "\n")
		mu.Unlock()
		return goja.Undefined()
	})

	vm.Set("require", e.sandboxedRequire(vm))

	for name, tool := range e.tools {
		vm.Set(name, bindTool(vm, tool))
	}

	vm.GlobalObject().Delete("eval")
	vm.GlobalObject().Delete("Function")
}

// sandboxedRequire raises for any module name outside the fixed
// allow-list, so a script asking for fs/net/child_process gets a clear
// in-script exception rather than a silent undefined.
func (e *Executor) sandboxedRequire(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.ToValue("require() needs a module name"))
		}
		name := call.Arguments[0].String()
		if !allowedModules[name] {
			panic(vm.ToValue(fmt.Sprintf("import of %q is not allowed", name)))
		}
		return vm.ToValue(moduleFor(vm, name))
	}
}

// moduleFor returns the bound object for one of the allow-listed modules.
// These are minimal, dependency-free helpers — not attempts at full
// library parity, just enough surface for typical model-authored glue
// code.
func moduleFor(vm *goja.Runtime, name string) map[string]any {
	switch name {
	case "json":
		return map[string]any{
			"dumps": func(v goja.Value) string {
				exported := v.Export()
				b, err := json.Marshal(exported)
				if err != nil {
					return ""
				}
				return string(b)
			},
			"loads": func(s string) any {
				var v any
				_ = json.Unmarshal([]byte(s), &v)
				return v
			},
		}
	case "re":
		return map[string]any{
			"test": func(pattern, s string) bool {
				re, err := regexp.Compile(pattern)
				if err != nil {
					return false
				}
				return re.MatchString(s)
			},
			"findall": func(pattern, s string) []string {
				re, err := regexp.Compile(pattern)
				if err != nil {
					return nil
				}
				return re.FindAllString(s, -1)
			},
		}
	case "time":
		return map[string]any{
			"now": func() float64 {
				return float64(time.Now().UnixNano()) / 1e9
			},
		}
	case "textwrap":
		return map[string]any{
			"shorten": func(s string, width int) string {
				if len(s) <= width {
					return s
				}
				if width <= 3 {
					return s[:width]
				}
				return s[:width-3] + "..."
			},
		}
	case "itertools":
		return map[string]any{
			"chain": func(lists ...[]any) []any {
				var out []any
				for _, l := range lists {
					out = append(out, l...)
				}
				return out
			},
		}
	case "functools":
		return map[string]any{
			"reduce": func(fn func(any, any) any, items []any, initial any) any {
				acc := initial
				for _, item := range items {
					acc = fn(acc, item)
				}
				return acc
			},
		}
	case "collections":
		return map[string]any{
			"Counter": func(items []any) map[string]int {
				counts := make(map[string]int)
				for _, item := range items {
					key := fmt.Sprintf("%v", item)
					counts[key]++
				}
				return counts
			},
		}
	default:
		return nil
	}
}

// bindTool adapts a Tool into a JS function that accepts a single object
// argument of keyword args and returns a string, so scripts call
// docker_cli({command: "ps", args: "-a"}).
func bindTool(vm *goja.Runtime, tool Tool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make(map[string]string)
		if len(call.Arguments) > 0 {
			obj := call.Arguments[0].ToObject(vm)
			for _, key := range obj.Keys() {
				args[key] = obj.Get(key).String()
			}
		}
		out, err := tool.Invoke(args)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(out)
	}
}
