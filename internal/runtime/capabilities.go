// Package runtime inspects the privileges of the profiler process so that a
// failed attach can be explained to the user.
package runtime

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

const ptraceScopePath = "/proc/sys/kernel/yama/ptrace_scope"

// Yama ptrace_scope levels.
const (
	PtraceScopeClassic  = 0
	PtraceScopeChildren = 1
	PtraceScopeAdmin    = 2
	PtraceScopeNone     = 3
)

// AttachPermissions describes what the current process is allowed to read
// from other processes.
type AttachPermissions struct {
	Root         bool
	CapSysPtrace bool
	// PtraceScope is -1 when Yama is not enabled.
	PtraceScope int
}

// DetectAttachPermissions reads the effective capability set and the Yama
// ptrace scope of the running kernel.
func DetectAttachPermissions() (AttachPermissions, error) {
	return detect(hasPtraceCapability, func() ([]byte, error) {
		return os.ReadFile(ptraceScopePath)
	})
}

func detect(ptraceCap func() (bool, error), readScope func() ([]byte, error)) (AttachPermissions, error) {
	perms := AttachPermissions{
		Root:        os.Geteuid() == 0,
		PtraceScope: -1,
	}

	var err error
	if perms.CapSysPtrace, err = ptraceCap(); err != nil {
		return perms, fmt.Errorf("failed to read capabilities: %w", err)
	}

	raw, err := readScope()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return perms, nil
	case err != nil:
		return perms, fmt.Errorf("failed to read ptrace scope: %w", err)
	}
	scope, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return perms, fmt.Errorf("bad ptrace scope %q: %w", raw, err)
	}
	perms.PtraceScope = scope
	return perms, nil
}

// CanRead reports whether reading the memory of a process is expected to
// succeed. Spawned targets are children of the profiler, which Yama scope 1
// still allows.
func (p AttachPermissions) CanRead(spawned bool) bool {
	switch p.PtraceScope {
	case PtraceScopeNone:
		return false
	case PtraceScopeAdmin:
		return p.CapSysPtrace
	case PtraceScopeChildren:
		return spawned || p.CapSysPtrace
	default:
		return true
	}
}

// Hint returns a one-line suggestion for a permission failure, or an empty
// string if the permissions look sufficient.
func (p AttachPermissions) Hint(spawned bool) string {
	if p.CanRead(spawned) {
		return ""
	}
	switch p.PtraceScope {
	case PtraceScopeNone:
		return "ptrace is disabled (kernel.yama.ptrace_scope=3); reboot with a lower scope to profile"
	case PtraceScopeAdmin:
		return "kernel.yama.ptrace_scope=2 requires CAP_SYS_PTRACE; run with sudo"
	default:
		return fmt.Sprintf("kernel.yama.ptrace_scope=%d only allows reading child processes; run with sudo or grant CAP_SYS_PTRACE", p.PtraceScope)
	}
}
