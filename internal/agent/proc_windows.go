//go:build windows

package agent

import "os/exec"

func setupProcessGroup(cmd *exec.Cmd) {}

// interruptProcess kills the agent; Windows has no SIGINT for child processes.
func interruptProcess(cmd *exec.Cmd) error {
	return killProcess(cmd)
}

func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
