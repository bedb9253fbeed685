//go:build !windows

package process

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

func shell() string     { return "sh" }
func shellFlag() string { return "-c" }

// setProcessGroup starts the command in a new process group so that a kill
// reaches every process it spawned. When stdin is the controlling terminal
// and this process holds its foreground, the new group takes the foreground
// so commands that read the terminal or change its modes are not stopped by
// SIGTTIN or SIGTTOU. The returned func hands the terminal back and must be
// called once the command has exited.
func setProcessGroup(cmd *exec.Cmd, stdin io.Reader) func() error {
	attr := &syscall.SysProcAttr{Setpgid: true}
	cmd.SysProcAttr = attr

	f, ok := stdin.(*os.File)
	if !ok {
		return func() error { return nil }
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return func() error { return nil }
	}
	fg, err := unix.IoctlGetInt(fd, unix.TIOCGPGRP)
	if err != nil || fg != unix.Getpgrp() {
		return func() error { return nil }
	}

	attr.Foreground = true
	attr.Ctty = fd
	return func() error { return reclaimTerminal(fd, fg) }
}

// reclaimTerminal makes pgrp the terminal's foreground group again. The
// caller is in a background group at this point, where tcsetpgrp raises
// SIGTTOU unless it is ignored.
func reclaimTerminal(fd, pgrp int) error {
	signal.Ignore(syscall.SIGTTOU)
	defer signal.Reset(syscall.SIGTTOU)
	return unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, pgrp)
}

func killProcessGroup(p *os.Process) error {
	err := syscall.Kill(-p.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func interruptedBySignal(exitErr *exec.ExitError) bool {
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	return ok && status.Signaled() && status.Signal() == syscall.SIGINT
}
