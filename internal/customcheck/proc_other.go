//go:build !unix

package customcheck

import "os/exec"

// killProcessGroup is a no-op; cancellation kills the direct child only.
func killProcessGroup(cmd *exec.Cmd) {}
