package monitor

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// EscapeDetector scans executor code and docker_cli arguments for
// patterns associated with container-escape or host-compromise attempts.
// It is advisory-only telemetry: the allow-list remains the sole
// authorization check, so a detection here is logged and counted, never
// used to block dispatch.
type EscapeDetector struct {
	patterns []DetectionPattern
}

// DetectionPattern defines a suspicious pattern to match.
type DetectionPattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
	Severity    Severity
}

// Severity levels for detected threats.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Detection represents a detected suspicious pattern.
type Detection struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
	Line     int    `json:"line,omitempty"`
}

// NewEscapeDetector creates a detector with default patterns.
func NewEscapeDetector() *EscapeDetector {
	return &EscapeDetector{
		patterns: defaultPatterns(),
	}
}

// AnalyzeExecutorCode checks model-authored executor code for suspicious
// patterns before it runs inside the goja sandbox.
func (d *EscapeDetector) AnalyzeExecutorCode(code string) []Detection {
	var detections []Detection

	lines := strings.Split(code, "\n")
	for i, line := range lines {
		for _, p := range d.patterns {
			if p.Regex.MatchString(line) {
				det := Detection{
					Pattern:  p.Name,
					Severity: p.Severity.String(),
					Detail:   p.Description,
					Line:     i + 1,
				}
				detections = append(detections, det)

				log.Warn().
					Str("pattern", p.Name).
					Str("severity", p.Severity.String()).
					Int("line", i+1).
					Msg("suspicious pattern detected in executor code")
			}
		}
	}

	return detections
}

// AnalyzeDockerArgs checks the arguments of a docker_cli call for flags
// that escalate privilege or reach for host/daemon state, regardless of
// whether the subcommand itself is allow-listed.
func (d *EscapeDetector) AnalyzeDockerArgs(args []string) []Detection {
	return d.AnalyzeExecutorCode(strings.Join(args, "\n"))
}

// AnalyzeOutput checks command or executor output for signs that a
// detection-worthy pattern actually reached something sensitive.
func (d *EscapeDetector) AnalyzeOutput(output string) []Detection {
	var detections []Detection

	outputPatterns := []struct {
		name   string
		substr string
		sev    Severity
	}{
		{"host_info_leak", "host:", SeverityMedium},
		{"kernel_leak", "Linux version", SeverityHigh},
		{"root_access", "root:x:0:0", SeverityCritical},
		{"docker_socket_leak", "docker.sock", SeverityCritical},
	}

	for _, p := range outputPatterns {
		if strings.Contains(output, p.substr) {
			detections = append(detections, Detection{
				Pattern:  p.name,
				Severity: p.sev.String(),
				Detail:   "suspicious content in output: " + p.name,
			})
		}
	}

	return detections
}

func defaultPatterns() []DetectionPattern {
	return []DetectionPattern{
		{
			Name:        "privileged_flag",
			Description: "--privileged grants the container all host capabilities",
			Regex:       regexp.MustCompile(`--privileged`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "docker_socket_mount",
			Description: "mounting the Docker socket hands the container daemon control",
			Regex:       regexp.MustCompile(`/var/run/docker\.sock|/run/docker\.sock`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "host_pid_or_net",
			Description: "--pid=host or --network=host escapes container namespace isolation",
			Regex:       regexp.MustCompile(`--pid[= ]host|--network[= ]host|--ipc[= ]host`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "host_root_mount",
			Description: "bind-mounting the host root filesystem into the container",
			Regex:       regexp.MustCompile(`-v["',\s]+/:(/|:)|--mount.*source=/,`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "capability_abuse",
			Description: "adding dangerous Linux capabilities",
			Regex:       regexp.MustCompile(`(?i)--cap-add[= ](sys_admin|sys_ptrace|sys_module|all)`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "metadata_service",
			Description: "reaching the cloud metadata service from inside the sandbox",
			Regex:       regexp.MustCompile(`169\.254\.169\.254|metadata\.google|metadata\.aws`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "reverse_shell",
			Description: "potential reverse shell invocation",
			Regex:       regexp.MustCompile(`(?i)(nc|ncat|netcat|socat)\s+.*-[elp]|/dev/tcp/|bash\s+-i\s+>&`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "ptrace_attempt",
			Description: "attempting to use ptrace for debugging/injection",
			Regex:       regexp.MustCompile(`(?i)(ptrace|process_vm_readv|process_vm_writev|PTRACE_ATTACH)`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "crypto_miner",
			Description: "potential cryptocurrency mining payload",
			Regex:       regexp.MustCompile(`(?i)(stratum\+tcp|xmrig|minerd|cryptonight|hashrate)`),
			Severity:    SeverityMedium,
		},
	}
}
