// Package procexec provides an abstraction layer for executing external
// commands and supervising long-running child processes with deadlines.
//
// It defines the Executor interface which wraps os/exec functionality,
// enabling easier testing and mocking of command execution throughout the
// orchestration core, and implements the Process Manager (C4): spawn with a
// wall-clock deadline, graceful-then-hard kill, zombie classification via a
// companion terminal session, and a status callback invoked on every
// terminal transition.
package procexec

import "os/exec"

// Executor wraps os/exec so callers can be tested against a fake.
type Executor interface {
	Run(cmd *exec.Cmd) error
	Output(cmd *exec.Cmd) ([]byte, error)
	Start(cmd *exec.Cmd) error
}

type realExecutor struct{}

// MakeExecutor returns an Executor backed by the real os/exec package.
func MakeExecutor() Executor { return realExecutor{} }

func (realExecutor) Run(cmd *exec.Cmd) error             { return cmd.Run() }
func (realExecutor) Output(cmd *exec.Cmd) ([]byte, error) { return cmd.Output() }
func (realExecutor) Start(cmd *exec.Cmd) error            { return cmd.Start() }
