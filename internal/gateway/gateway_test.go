package gateway

import (
	"context"
	"strings"
	"testing"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestExtractCommandKeySimple(t *testing.T) {
	if k := extractCommandKey([]string{"ps", "-a"}); k != "ps" {
		t.Fatalf("expected 'ps', got %q", k)
	}
}

func TestExtractCommandKeyNetworkRequiresSecondToken(t *testing.T) {
	if k := extractCommandKey([]string{"network", "create"}); k != "network create" {
		t.Fatalf("expected 'network create', got %q", k)
	}
	if k := extractCommandKey([]string{"network"}); k != "network" {
		t.Fatalf("expected bare 'network' when no second token, got %q", k)
	}
}

func TestExtractCommandKeySystemIsTwoTokens(t *testing.T) {
	if k := extractCommandKey([]string{"system", "prune", "-af"}); k != "system prune" {
		t.Fatalf("expected 'system prune', got %q", k)
	}
}

func TestExtractCommandKeyComposeSkipsGlobalFlags(t *testing.T) {
	if k := extractCommandKey([]string{"compose", "-f", "docker-compose.yml", "up", "-d"}); k != "compose up" {
		t.Fatalf("expected 'compose up', got %q", k)
	}
	if k := extractCommandKey([]string{"compose", "--project-name", "demo", "down"}); k != "compose down" {
		t.Fatalf("expected 'compose down', got %q", k)
	}
}

func TestValidateShapeRejectsEmpty(t *testing.T) {
	if err := validateShape(nil); err == nil {
		t.Fatalf("expected error for empty args")
	}
}

func TestValidateShapeRejectsShellControlChars(t *testing.T) {
	for _, bad := range []string{"-a ; rm -rf /", "-a && echo", "-a | cat", "-a `whoami`", "-a $(whoami)"} {
		if err := validateShape([]string{"ps", bad}); err == nil {
			t.Fatalf("expected rejection for token %q", bad)
		}
	}
}

func TestCommandNotAllowedForDestructive(t *testing.T) {
	g := newTestGateway(t)
	_, err := g.Execute(context.Background(), Request{Subcommand: "system prune", Args: []string{"-af"}})
	if err == nil {
		t.Fatalf("expected rejection for destructive command")
	}
	if _, ok := err.(*CommandNotAllowedError); !ok {
		t.Fatalf("expected CommandNotAllowedError, got %T: %v", err, err)
	}
}

func TestShellInjectionRejectedBeforeSpawn(t *testing.T) {
	g := newTestGateway(t)
	out := g.DockerCliTool(context.Background(), "ps", "-a ; rm -rf /", "", 5)
	if out != "Error: Shell control operators are not allowed" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestPathEscapeRejected(t *testing.T) {
	g := newTestGateway(t)
	_, err := g.Execute(context.Background(), Request{Subcommand: "ps", Cwd: "../../etc"})
	if err == nil {
		t.Fatalf("expected path-escape rejection")
	}
	if _, ok := err.(*PathEscapeError); !ok {
		t.Fatalf("expected PathEscapeError, got %T", err)
	}
}

func TestPathAtWorkspaceRootBoundaryAccepted(t *testing.T) {
	g := newTestGateway(t)
	resolved, err := g.resolveWorkspacePath(".")
	if err != nil {
		t.Fatalf("unexpected error at root boundary: %v", err)
	}
	if resolved != g.workspaceRoot {
		t.Fatalf("expected resolved path to equal workspace root")
	}
}

func TestHardenedArgsOnlyForRun(t *testing.T) {
	g, err := New(t.TempDir(), WithSeccompProfile("/etc/docker/agent-seccomp.json"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	run := g.hardenedArgs("run", []string{"run", "-d", "nginx"})
	if len(run) != 5 || run[1] != "--security-opt" || run[2] != "seccomp=/etc/docker/agent-seccomp.json" {
		t.Fatalf("expected --security-opt inserted after 'run', got %v", run)
	}

	// exec joins an existing container under its original profile;
	// --security-opt is not a valid `docker exec` flag.
	execArgs := g.hardenedArgs("exec", []string{"exec", "web", "ls"})
	if len(execArgs) != 3 {
		t.Fatalf("expected exec argv untouched, got %v", execArgs)
	}

	ps := g.hardenedArgs("ps", []string{"ps", "-a"})
	if len(ps) != 2 {
		t.Fatalf("expected ps argv untouched, got %v", ps)
	}
}

func TestAllowListedKeyAccepted(t *testing.T) {
	for _, set := range []map[string]bool{readOnly, mutating} {
		for key := range set {
			k := extractCommandKey(strings.Fields(key))
			if !readOnly[k] && !mutating[k] {
				t.Fatalf("allow-listed key %q extracts to %q, which is not accepted", key, k)
			}
		}
	}
}
