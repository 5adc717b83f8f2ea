package seccomp

// Syscall groupings for containers the agent launches. The gateway only
// ever attaches these profiles to `docker run` — the model picks the
// image and command, so the filter has to accommodate an arbitrary
// service workload (a database, a web server, a build step) while still
// closing off the host-facing syscalls none of those legitimately need.

var fileSyscalls = []string{
	"read", "write", "readv", "writev", "pread64", "pwrite64",
	"open", "openat", "close", "lseek",
	"stat", "fstat", "lstat", "newfstatat", "statx",
	"access", "faccessat", "faccessat2",
	"dup", "dup2", "dup3", "fcntl",
	"pipe", "pipe2",
	"readlink", "readlinkat",
	"getdents64", "getcwd",
	"chdir", "fchdir",
	"mkdir", "mkdirat", "rmdir",
	"rename", "renameat", "renameat2",
	"unlink", "unlinkat",
	"link", "linkat", "symlink", "symlinkat",
	"chmod", "fchmod", "fchmodat", "umask",
	"chown", "fchown", "fchownat", "lchown",
	"truncate", "ftruncate", "fallocate",
	"fsync", "fdatasync", "sync", "syncfs",
	"flock", "statfs", "fstatfs",
	"copy_file_range", "sendfile",
	"utimensat",
}

var memorySyscalls = []string{
	"brk", "mmap", "munmap", "mprotect", "mremap", "madvise",
	"mlock", "munlock", "msync",
}

var processSyscalls = []string{
	"execve", "execveat",
	"exit", "exit_group",
	"wait4", "waitid",
	"clone", "clone3", "vfork",
	"kill", "tgkill", "tkill",
	"set_tid_address",
	"set_robust_list", "get_robust_list",
	"setpgid", "getpgid", "getpgrp", "setsid", "getsid",
	"sched_yield", "sched_getaffinity", "sched_setaffinity",
	"getpriority", "setpriority",
}

var signalSyscalls = []string{
	"rt_sigaction", "rt_sigprocmask", "rt_sigreturn", "rt_sigsuspend",
	"rt_sigpending", "rt_sigtimedwait", "rt_sigqueueinfo",
	"sigaltstack", "pause",
	"signalfd4",
}

var timeSyscalls = []string{
	"clock_gettime", "clock_getres", "gettimeofday",
	"nanosleep", "clock_nanosleep",
	"timer_create", "timer_settime", "timer_gettime", "timer_delete",
	"timerfd_create", "timerfd_settime", "timerfd_gettime",
	"alarm", "setitimer", "getitimer",
}

var identitySyscalls = []string{
	"getpid", "getppid", "gettid",
	"getuid", "geteuid", "getgid", "getegid",
	"getgroups", "getresuid", "getresgid",
	"setuid", "setgid", "setgroups", "setresuid", "setresgid",
	"capget", "capset",
	"uname", "sysinfo",
	"getrlimit", "setrlimit", "prlimit64", "getrusage",
}

var pollSyscalls = []string{
	"poll", "ppoll", "select", "pselect6",
	"epoll_create1", "epoll_ctl", "epoll_wait", "epoll_pwait",
	"eventfd2",
	"inotify_init1", "inotify_add_watch", "inotify_rm_watch",
	"futex", "futex_waitv",
	"io_uring_setup", "io_uring_enter", "io_uring_register",
}

var networkSyscalls = []string{
	"socket", "socketpair",
	"connect", "bind", "listen", "accept", "accept4",
	"sendto", "recvfrom", "sendmsg", "recvmsg", "sendmmsg", "recvmmsg",
	"getsockopt", "setsockopt",
	"getsockname", "getpeername",
	"shutdown",
}

var miscSyscalls = []string{
	"getrandom", "arch_prctl", "ioctl",
	"memfd_secret",
	"splice", "tee", "vmsplice",
	"setxattr", "getxattr", "listxattr", "removexattr",
	"fgetxattr", "fsetxattr", "flistxattr",
}

// hostFacingSyscalls are trapped rather than denied: a SIGSYS in the
// container's logs is a clear signal the workload tried to reach host
// state, where a quiet errno would be shrugged off as a permissions
// hiccup. Covers debugger/injection primitives, kernel module and BPF
// loading, and the fileless-execution path through memfd_create.
var hostFacingSyscalls = []string{
	"ptrace", "process_vm_readv", "process_vm_writev",
	"keyctl", "add_key", "request_key",
	"bpf", "perf_event_open", "userfaultfd",
	"memfd_create",
	"kexec_load", "kexec_file_load",
	"init_module", "finit_module", "delete_module",
	"open_by_handle_at",
}

// namespaceSyscalls get a plain errno: container runtimes probe some of
// these during startup and must see a clean failure, not a SIGSYS.
var namespaceSyscalls = []string{
	"mount", "umount2", "pivot_root", "chroot",
	"setns", "unshare",
	"reboot", "swapon", "swapoff",
	"sethostname", "setdomainname",
	"settimeofday", "adjtimex", "clock_adjtime",
	"acct", "personality", "nfsservctl",
	"ioperm", "iopl",
	"lookup_dcookie",
}

const (
	prSetName = 15 // PR_SET_NAME
	prGetName = 16 // PR_GET_NAME
)

func workloadBase() *Profile {
	p := NewProfile().
		Allow(fileSyscalls...).
		Allow(memorySyscalls...).
		Allow(processSyscalls...).
		Allow(signalSyscalls...).
		Allow(timeSyscalls...).
		Allow(identitySyscalls...).
		Allow(pollSyscalls...).
		Allow(miscSyscalls...)
	// prctl is how runtimes name their threads; everything else it can do
	// (no_new_privs games, seccomp manipulation) stays closed.
	p.AllowWhenArg("prctl", 0, prSetName)
	p.AllowWhenArg("prctl", 0, prGetName)
	return p
}

func hardened(p *Profile) *Profile {
	return p.
		Trap(hostFacingSyscalls...).
		Deny(namespaceSyscalls...)
}

// ServiceProfile is the filter the gateway attaches to `docker run` by
// default. The allow-listed run subcommand exists so the model can start
// service containers — databases, web servers, brokers — and those need
// the socket family, so network syscalls are in.
func ServiceProfile() *Profile {
	return hardened(workloadBase().Allow(networkSyscalls...))
}

// RestrictedProfile drops the network group for one-shot batch workloads
// that compute and exit. The server always renders ServiceProfile; no
// configuration option selects this profile.
func RestrictedProfile() *Profile {
	return hardened(workloadBase())
}
