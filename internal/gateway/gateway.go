// Package gateway implements the Command Gateway: the sole path by which
// an agent's Docker subcommands reach the docker binary. Every request is
// checked for shell-control-character smuggling, reduced to a canonical
// subcommand key, checked against a fixed allow-list, resolved against a
// workspace root, and finally dispatched via os/exec — never a shell.
//
// Destructive subcommands (rm, rmi, prune, system prune, network rm,
// volume rm) are deliberately absent from the allow-list: they belong to
// the human-approval flow, not the autonomous tool-call path, and that
// flow lives outside this process.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"dockeragent-core/internal/shaper"
)

// shellControlChars are the characters that would give argv tokens shell
// semantics if ever passed through a shell. Since args reach the docker
// binary via argv directly, their presence can only mean an attempt to
// smuggle shell behavior, so requests containing them are rejected before
// any process is spawned.
var shellControlChars = []string{";", "&", "|", "`", "$("}

// readOnly is the safe read-set of the allow-list.
var readOnly = map[string]bool{
	"ps": true, "images": true, "logs": true, "stats": true, "inspect": true,
	"info": true, "version": true,
	"network ls": true, "network inspect": true,
	"volume ls": true, "volume inspect": true,
	"compose ps": true, "compose logs": true,
}

// mutating is the safe mutate-set of the allow-list.
var mutating = map[string]bool{
	"start": true, "stop": true, "restart": true, "run": true, "pull": true,
	"build": true, "tag": true, "exec": true,
	"network create": true, "network connect": true, "network disconnect": true,
	"volume create": true,
	"compose up":    true, "compose down": true,
}

// containerSpawning is the subset of the mutating set that launches a new
// container via a `docker run` invocation, and therefore the subset worth
// hardening with an extra seccomp profile on top of allow-list
// authorization. `--security-opt` is a flag of `run` only — `exec` joins
// an existing container under whatever profile it started with, and
// `compose up` has no equivalent top-level flag, so both are excluded.
var containerSpawning = map[string]bool{
	"run": true,
}

// truncatedOutputCommands is the set of read-style subcommands whose
// output can grow without bound (a busy daemon's logs or inspect dump
// runs to megabytes) and is therefore piped through the Output Shaper
// before being returned.
var truncatedOutputCommands = map[string]bool{
	"logs": true, "inspect": true, "stats": true, "ps": true, "images": true,
	"compose logs": true, "compose ps": true,
}

// composeSkipFlagPairs are two-token flags that appear before the compose
// subcommand token and must be skipped (along with their value) when
// extracting the canonical key.
var composeSkipFlagPairs = map[string]bool{
	"-f": true, "--file": true, "-p": true, "--project-name": true, "--profile": true,
}

// Request is a single Docker command request. Subcommand is the
// subcommand token(s) as typed by the model (e.g. "ps", "compose", or
// "network create"); Args holds the remaining already-split argv tokens
// (flags and positionals). The two are concatenated into one argv before
// key extraction and execution, mirroring the string-first
// docker_cli(command, args, ...) tool surface.
type Request struct {
	Subcommand     string
	Args           []string
	Cwd            string
	TimeoutSeconds int
}

func (r Request) fullArgs() []string {
	return append(strings.Fields(r.Subcommand), r.Args...)
}

// Result is the outcome of a gateway dispatch. ExitCode 124 is reserved
// for timeout.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Gateway validates and dispatches Docker subcommands.
type Gateway struct {
	workspaceRoot  string
	dockerBinary   string
	defaultTimeout time.Duration
	shaper         *shaper.Shaper
	seccompPath    string // empty disables the seccomp hardening pass
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

// WithDockerBinary overrides the docker executable name/path (default "docker").
func WithDockerBinary(path string) Option {
	return func(g *Gateway) { g.dockerBinary = path }
}

// WithDefaultTimeout overrides the timeout used when a request specifies none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.defaultTimeout = d }
}

// WithShaper overrides the Output Shaper used to bound large command output.
func WithShaper(s *shaper.Shaper) Option {
	return func(g *Gateway) { g.shaper = s }
}

// WithSeccompProfile enables the defense-in-depth seccomp pass for
// container-spawning subcommands, passing the profile file at path via
// --security-opt. The gateway does not write the file; cmd/server renders
// it to that path at startup.
func WithSeccompProfile(path string) Option {
	return func(g *Gateway) { g.seccompPath = path }
}

// New creates a Gateway rooted at workspaceRoot, which must already exist
// or be creatable; the workspace root is process-wide, immutable state.
func New(workspaceRoot string, opts ...Option) (*Gateway, error) {
	abs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}

	g := &Gateway{
		workspaceRoot:  abs,
		dockerBinary:   "docker",
		defaultTimeout: 30 * time.Second,
		shaper:         shaper.New(shaper.Budgets{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Execute validates and runs a single Docker subcommand. Every rejection
// is surfaced synchronously as an error; nothing is retried inside the
// gateway.
func (g *Gateway) Execute(ctx context.Context, req Request) (Result, error) {
	argv := req.fullArgs()

	if err := validateShape(argv); err != nil {
		return Result{}, err
	}

	key := extractCommandKey(argv)

	if !readOnly[key] && !mutating[key] {
		return Result{}, &CommandNotAllowedError{Key: key}
	}

	workdir := g.workspaceRoot
	if req.Cwd != "" {
		resolved, err := g.resolveWorkspacePath(req.Cwd)
		if err != nil {
			return Result{}, err
		}
		workdir = resolved
	}

	timeout := g.defaultTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	result, err := g.run(ctx, key, argv, workdir, timeout)
	if err != nil {
		return result, err
	}

	if truncatedOutputCommands[key] {
		result.Stdout = g.shaper.TruncateResponse(result.Stdout)
	}

	return result, nil
}

// run dispatches the subcommand's argv directly to the docker binary via
// os/exec — never a shell — under a wall-clock timeout.
func (g *Gateway) run(ctx context.Context, key string, args []string, workdir string, timeout time.Duration) (Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := g.hardenedArgs(key, args)

	cmd := exec.CommandContext(execCtx, g.dockerBinary, argv...)
	cmd.Dir = workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	startErr := cmd.Start()
	if startErr != nil {
		return Result{}, fmt.Errorf("starting docker command: %w", startErr)
	}

	waitErr := cmd.Wait()

	if execCtx.Err() == context.DeadlineExceeded {
		log.Warn().Str("subcommand", key).Dur("timeout", timeout).Msg("docker command timed out")
		return Result{
			ExitCode: 124,
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("Docker command timed out after %ds", int(timeout.Seconds())),
		}, nil
	}

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, fmt.Errorf("running docker command: %w", waitErr)
		}
	}

	return Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// hardenedArgs inserts the seccomp profile flag right after the
// subcommand token for container-spawning invocations: `docker run
// --security-opt seccomp=<path> <rest>`. All other subcommands pass
// through untouched.
func (g *Gateway) hardenedArgs(key string, args []string) []string {
	if g.seccompPath == "" || !containerSpawning[key] || len(args) == 0 {
		return args
	}
	hardened := make([]string, 0, len(args)+2)
	hardened = append(hardened, args[0], "--security-opt", "seccomp="+g.seccompPath)
	hardened = append(hardened, args[1:]...)
	return hardened
}

// resolveWorkspacePath resolves a path against the workspace root (an
// absolute path is taken as it is) and enforces that it stays inside the
// workspace root.
func (g *Gateway) resolveWorkspacePath(relative string) (string, error) {
	joined := relative
	if !filepath.IsAbs(relative) {
		joined = filepath.Join(g.workspaceRoot, relative)
	}
	resolved, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	rootWithSep := g.workspaceRoot + string(filepath.Separator)
	if resolved != g.workspaceRoot && !strings.HasPrefix(resolved, rootWithSep) {
		return "", &PathEscapeError{Root: g.workspaceRoot}
	}
	return resolved, nil
}

// validateShape rejects empty args or any token carrying a shell control
// character, before any process is spawned.
func validateShape(args []string) error {
	if len(args) == 0 {
		return &UnsafeTokensError{Reason: "no arguments provided"}
	}
	for _, tok := range args {
		for _, bad := range shellControlChars {
			if strings.Contains(tok, bad) {
				return &UnsafeTokensError{Reason: "shell control operators are not allowed"}
			}
		}
	}
	return nil
}

// extractCommandKey computes the canonical subcommand key by walking the
// full argv: for compose, skip known flag pairs/singletons then take the
// first positional as "compose <sub>"; for network/volume/system, require
// a second token; otherwise the key is the first token.
func extractCommandKey(args []string) string {
	if len(args) == 0 {
		return ""
	}
	first := args[0]

	switch first {
	case "compose":
		for i := 1; i < len(args); i++ {
			tok := args[i]
			if composeSkipFlagPairs[tok] {
				i++ // skip the flag's value
				continue
			}
			if strings.HasPrefix(tok, "-") {
				continue // single-token flag
			}
			return "compose " + tok
		}
		return "compose"
	case "network", "volume", "system":
		if len(args) > 1 {
			return first + " " + args[1]
		}
		return first
	default:
		return first
	}
}
