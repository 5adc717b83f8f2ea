package tests

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"dockeragent-core/internal/gateway"
)

// requireDocker skips the test if Docker is not installed or not running.
// Most of this suite runs without it (the gateway's validation/allow-list
// path never touches the daemon), but a handful of scenarios dispatch a
// real `docker` binary to confirm the full round trip.
func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("Docker not installed, skipping")
	}
	if err := exec.Command("docker", "info").Run(); err != nil {
		t.Skip("Docker daemon not running, skipping")
	}
}

// TestE2EAllowListScenarios runs the gateway's rejection paths end to
// end: blocked commands never reach the daemon, and shell injection is
// rejected before any process is spawned.
func TestE2EAllowListScenarios(t *testing.T) {
	gw, err := gateway.New(t.TempDir(), gateway.WithDockerBinary("docker"))
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}

	tests := []struct {
		name       string
		req        gateway.Request
		wantErrStr string // substring expected in the rejection error
	}{
		{
			name:       "blocked_system_prune",
			req:        gateway.Request{Subcommand: "system prune", Args: []string{"-af"}},
			wantErrStr: "Command not allowed: system prune",
		},
		{
			name:       "blocked_rm",
			req:        gateway.Request{Subcommand: "rm", Args: []string{"mycontainer"}},
			wantErrStr: "Command not allowed: rm",
		},
		{
			name:       "blocked_volume_rm",
			req:        gateway.Request{Subcommand: "volume", Args: []string{"rm", "myvolume"}},
			wantErrStr: "Command not allowed: volume rm",
		},
		{
			name:       "injection_semicolon",
			req:        gateway.Request{Subcommand: "ps", Args: []string{"-a ; rm -rf /"}},
			wantErrStr: "Shell control operators are not allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, err := gw.Execute(ctx, tt.req)
			if err == nil {
				t.Fatalf("expected rejection, got none")
			}
			if !strings.Contains(err.Error(), tt.wantErrStr) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.wantErrStr)
			}
		})
	}
}

// TestE2ESafeReadAgainstRealDaemon dispatches `docker version` (read-only,
// always available, never mutates anything) through the real Gateway and
// confirms stdout round-trips untouched for small output.
func TestE2ESafeReadAgainstRealDaemon(t *testing.T) {
	requireDocker(t)

	gw, err := gateway.New(t.TempDir(), gateway.WithDockerBinary("docker"))
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := gw.Execute(ctx, gateway.Request{Subcommand: "version", Args: []string{"--format", "{{.Server.Version}}"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr: %s)", result.ExitCode, result.Stderr)
	}
	if strings.TrimSpace(result.Stdout) == "" {
		t.Error("expected non-empty docker version output")
	}
}

// TestE2ETimeoutEnforced confirms a command that runs past its timeout is
// killed and reported with exit code 124.
func TestE2ETimeoutEnforced(t *testing.T) {
	requireDocker(t)

	gw, err := gateway.New(t.TempDir(), gateway.WithDockerBinary("docker"))
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}

	ctx := context.Background()
	result, err := gw.Execute(ctx, gateway.Request{
		Subcommand:     "run",
		Args:           []string{"--rm", "busybox", "sleep", "30"},
		TimeoutSeconds: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 124 {
		t.Errorf("expected exit code 124, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Stderr, "timed out") {
		t.Errorf("expected timeout message in stderr, got %q", result.Stderr)
	}
}
