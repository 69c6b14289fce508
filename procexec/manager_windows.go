//go:build windows

package procexec

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// setDetached starts the child in a new process group so that a later
// signal (via taskkill semantics on Windows) reaches its whole subtree.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
}

// rssForPID is not implemented on Windows; the memory cap is disabled there.
func rssForPID(pid int) (int64, bool) {
	return 0, false
}

// killPID terminates pid; Windows has no graceful-vs-hard signal distinction
// at this level, so both signal tiers resolve to the same forceful kill.
func killPID(pid int, _ syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// processAliveOS reports whether pid still exists.
func processAliveOS(pid int) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)
	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == uint32(windows.STILL_ACTIVE)
}
