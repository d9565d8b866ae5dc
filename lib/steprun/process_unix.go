// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package steprun

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr puts the child in its own process group so signals reach
// the shell and everything it started.
func sysProcAttr(Spec) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func (p *execProcess) Interrupt() error { return p.signalGroup(unix.SIGINT) }
func (p *execProcess) Terminate() error { return p.signalGroup(unix.SIGTERM) }
func (p *execProcess) Kill() error      { return p.signalGroup(unix.SIGKILL) }

// signalGroup signals every process in the child's group. A group that
// no longer exists has nothing left to stop.
func (p *execProcess) signalGroup(signal unix.Signal) error {
	err := unix.Kill(-p.cmd.Process.Pid, signal)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
