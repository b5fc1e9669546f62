//go:build linux

package runtime

import "golang.org/x/sys/unix"

// hasPtraceCapability asks the kernel for the effective capability set of
// the calling thread.
func hasPtraceCapability() (bool, error) {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return false, err
	}
	return data[unix.CAP_SYS_PTRACE/32].Effective&(1<<(unix.CAP_SYS_PTRACE%32)) != 0, nil
}
