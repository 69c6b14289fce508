//go:build !windows

package procexec

import (
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// setDetached puts the child in its own process group so a single signal can
// reach the whole subtree it spawns (tool subprocesses, language servers),
// mirroring the teacher's daemon detachment pattern.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// rssForPID returns the resident set size, in KB, for pid via `ps`.
func rssForPID(pid int) (int64, bool) {
	out, err := exec.Command("ps", "-o", "rss=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return 0, false
	}
	rss, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, false
	}
	return rss, true
}

// killPID delivers sig to pid directly; syscall.Kill has no Windows
// implementation, hence the platform split.
func killPID(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

// processAliveOS reports whether pid still exists, via the signal-0 idiom.
func processAliveOS(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
