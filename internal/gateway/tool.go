package gateway

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// DockerCliTool presents the string-first surface for the agent: a single
// wrapper that returns raw stdout on success and a one-line diagnostic on
// failure. This is what the Trajectory Recorder observes and what the
// Programmatic Executor injects as a callable tool.
func (g *Gateway) DockerCliTool(ctx context.Context, command string, args string, cwd string, timeoutSeconds int) string {
	req := Request{
		Subcommand:     command,
		Args:           splitArgs(args),
		Cwd:            cwd,
		TimeoutSeconds: timeoutSeconds,
	}

	result, err := g.Execute(ctx, req)
	if err != nil {
		return err.Error()
	}
	if result.ExitCode != 0 {
		return fmt.Sprintf("Error (exit %d): %s", result.ExitCode, trimOrDefault(result.Stderr, "Command failed"))
	}
	return result.Stdout
}

func trimOrDefault(s, fallback string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

// splitArgs tokenizes a whitespace-separated argument string the way the
// model supplies it (e.g. "-a" or "-d -e FOO=bar image"). It performs
// simple whitespace splitting with support for double-quoted spans, since
// docker arguments occasionally need to carry a quoted value.
func splitArgs(args string) []string {
	if args == "" {
		return nil
	}

	var tokens []string
	var current []byte
	inQuotes := false
	flush := func() {
		if len(current) > 0 {
			tokens = append(tokens, string(current))
			current = current[:0]
		}
	}

	for i := 0; i < len(args); i++ {
		c := args[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case unicode.IsSpace(rune(c)) && !inQuotes:
			flush()
		default:
			current = append(current, c)
		}
	}
	flush()
	return tokens
}
