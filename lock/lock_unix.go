//go:build !windows

package lock

import (
	"fmt"
	"os"
	"strings"
	"syscall"
)

// flock takes an exclusive, non-blocking advisory lock on f's file
// descriptor so a concurrent process attempting the same lock fails
// immediately instead of blocking.
func flock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
}

// processLooksLive checks that m's pid is a running process whose
// command line and working directory match what was recorded, per the
// stale-lock reclaim rule of §4.2: a pid that is alive but belongs to an
// unrelated process (pid reuse) must not block acquisition.
func processLooksLive(m *metadata) bool {
	if m.PID <= 0 {
		return false
	}
	if err := syscall.Kill(m.PID, 0); err != nil {
		return false
	}
	cmdline, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", m.PID))
	if err != nil {
		// /proc not available (e.g. non-Linux unix); trust the liveness
		// check alone rather than refusing to ever reclaim.
		return true
	}
	joined := strings.ReplaceAll(string(cmdline), "\x00", " ")
	if m.Cmdline != "" && !strings.Contains(joined, strings.Fields(m.Cmdline)[0]) {
		return false
	}
	cwd, err := os.Readlink(fmt.Sprintf("/proc/%d/cwd", m.PID))
	if err == nil && m.Cwd != "" && cwd != m.Cwd {
		return false
	}
	return true
}
