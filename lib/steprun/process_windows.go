// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package steprun

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
)

func sysProcAttr(spec Spec) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CmdLine:       spec.CommandLine,
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// Windows console processes have no deliverable SIGINT or SIGTERM from
// an unrelated process. Both report unsupported so the controller
// moves on to the tree kill.
func (p *execProcess) Interrupt() error { return errors.ErrUnsupported }
func (p *execProcess) Terminate() error { return errors.ErrUnsupported }

func (p *execProcess) Kill() error {
	output, err := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(p.cmd.Process.Pid)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("taskkill: %w: %s", err, output)
	}
	return nil
}
