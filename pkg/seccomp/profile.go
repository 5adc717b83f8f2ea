// Package seccomp builds the syscall filter the Command Gateway attaches
// to agent-launched containers. The gateway passes the rendered profile to
// `docker run --security-opt seccomp=<path>`, so the package produces two
// shapes of the same filter: the OCI LinuxSeccomp struct (the type Docker's
// JSON format is defined in terms of) and the daemon's JSON encoding of it.
package seccomp

import (
	"encoding/json"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Profile is a deny-by-default seccomp filter under construction. Rules
// are appended in order; the kernel takes the first matching rule.
type Profile struct {
	spec specs.LinuxSeccomp
}

// NewProfile returns an empty deny-by-default profile for the two
// architectures agent workloads actually run on.
func NewProfile() *Profile {
	return &Profile{
		spec: specs.LinuxSeccomp{
			DefaultAction: specs.ActErrno,
			Architectures: []specs.Arch{specs.ArchX86_64, specs.ArchAARCH64},
		},
	}
}

// Allow appends a rule permitting the named syscalls.
func (p *Profile) Allow(names ...string) *Profile {
	return p.rule(specs.ActAllow, names, nil)
}

// Deny appends a rule failing the named syscalls with errno.
func (p *Profile) Deny(names ...string) *Profile {
	return p.rule(specs.ActErrno, names, nil)
}

// Trap appends a rule delivering SIGSYS for the named syscalls, which
// shows up loudly in container logs instead of a quiet errno.
func (p *Profile) Trap(names ...string) *Profile {
	return p.rule(specs.ActTrap, names, nil)
}

// AllowWhenArg permits a syscall only when the argument at index equals
// value. Used to carve out individual prctl operations without opening
// the whole syscall.
func (p *Profile) AllowWhenArg(name string, index uint, value uint64) *Profile {
	args := []specs.LinuxSeccompArg{{Index: index, Value: value, Op: specs.OpEqualTo}}
	return p.rule(specs.ActAllow, []string{name}, args)
}

func (p *Profile) rule(action specs.LinuxSeccompAction, names []string, args []specs.LinuxSeccompArg) *Profile {
	p.spec.Syscalls = append(p.spec.Syscalls, specs.LinuxSyscall{
		Names:  names,
		Action: action,
		Args:   args,
	})
	return p
}

// Spec exposes the underlying OCI struct.
func (p *Profile) Spec() *specs.LinuxSeccomp {
	return &p.spec
}

// Allows reports whether name appears in any Allow rule.
func (p *Profile) Allows(name string) bool {
	return p.hasRule(specs.ActAllow, name)
}

// Traps reports whether name appears in any Trap rule.
func (p *Profile) Traps(name string) bool {
	return p.hasRule(specs.ActTrap, name)
}

func (p *Profile) hasRule(action specs.LinuxSeccompAction, name string) bool {
	for _, sc := range p.spec.Syscalls {
		if sc.Action != action {
			continue
		}
		for _, n := range sc.Names {
			if n == name {
				return true
			}
		}
	}
	return false
}

// dockerProfile is the daemon's own seccomp JSON schema: the same data as
// the OCI struct with SCMP_-prefixed string enums instead of typed
// constants.
type dockerProfile struct {
	DefaultAction string       `json:"defaultAction"`
	Architectures []string     `json:"architectures"`
	Syscalls      []dockerRule `json:"syscalls"`
}

type dockerRule struct {
	Names  []string    `json:"names"`
	Action string      `json:"action"`
	Args   []dockerArg `json:"args,omitempty"`
}

type dockerArg struct {
	Index uint   `json:"index"`
	Value uint64 `json:"value"`
	Op    string `json:"op"`
}

var (
	actionNames = map[specs.LinuxSeccompAction]string{
		specs.ActAllow: "SCMP_ACT_ALLOW",
		specs.ActErrno: "SCMP_ACT_ERRNO",
		specs.ActTrap:  "SCMP_ACT_TRAP",
		specs.ActLog:   "SCMP_ACT_LOG",
		specs.ActKill:  "SCMP_ACT_KILL",
	}
	archNames = map[specs.Arch]string{
		specs.ArchX86_64:  "SCMP_ARCH_X86_64",
		specs.ArchAARCH64: "SCMP_ARCH_AARCH64",
		specs.ArchX86:     "SCMP_ARCH_X86",
		specs.ArchARM:     "SCMP_ARCH_ARM",
	}
	opNames = map[specs.LinuxSeccompOperator]string{
		specs.OpEqualTo:      "SCMP_CMP_EQ",
		specs.OpNotEqual:     "SCMP_CMP_NE",
		specs.OpGreaterThan:  "SCMP_CMP_GT",
		specs.OpGreaterEqual: "SCMP_CMP_GE",
		specs.OpLessThan:     "SCMP_CMP_LT",
		specs.OpLessEqual:    "SCMP_CMP_LE",
		specs.OpMaskedEqual:  "SCMP_CMP_MASKED_EQ",
	}
)

// DockerJSON renders the profile in the format `docker run --security-opt
// seccomp=<path>` expects.
func (p *Profile) DockerJSON() ([]byte, error) {
	out := dockerProfile{
		DefaultAction: actionNames[p.spec.DefaultAction],
	}
	for _, a := range p.spec.Architectures {
		if name, ok := archNames[a]; ok {
			out.Architectures = append(out.Architectures, name)
		}
	}
	for _, sc := range p.spec.Syscalls {
		rule := dockerRule{Names: sc.Names, Action: actionNames[sc.Action]}
		for _, arg := range sc.Args {
			rule.Args = append(rule.Args, dockerArg{Index: arg.Index, Value: arg.Value, Op: opNames[arg.Op]})
		}
		out.Syscalls = append(out.Syscalls, rule)
	}
	return json.Marshal(out)
}
