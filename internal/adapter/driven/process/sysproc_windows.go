//go:build windows

package process

import (
	"errors"
	"io"
	"os"
	"os/exec"
)

func shell() string     { return "cmd" }
func shellFlag() string { return "/C" }

func setProcessGroup(*exec.Cmd, io.Reader) func() error {
	return func() error { return nil }
}

func killProcessGroup(p *os.Process) error {
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func interruptedBySignal(*exec.ExitError) bool { return false }
