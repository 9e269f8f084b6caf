//go:build linux || darwin

package backend

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// attachTTY makes slave the controlling terminal and standard streams of
// cmd, in a new session so the whole process group can be signalled.
func attachTTY(cmd *exec.Cmd, slave *os.File) {
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setctty = true
}

// startAttached starts cmd on the slave side of master and closes the
// parent's copy of the slave.
func startAttached(cmd *exec.Cmd, master, slave *os.File, cols, rows uint16) (*os.File, error) {
	if err := setWinSize(master, cols, rows); err != nil {
		master.Close()
		slave.Close()
		return nil, err
	}

	attachTTY(cmd, slave)
	if err := cmd.Start(); err != nil {
		master.Close()
		slave.Close()
		return nil, err
	}
	slave.Close()
	return master, nil
}

// setWinSize sets the terminal window size of f.
func setWinSize(f *os.File, cols, rows uint16) error {
	return withFd(f, func(fd int) error {
		return unix.IoctlSetWinsize(fd, unix.TIOCSWINSZ, &unix.Winsize{Row: rows, Col: cols})
	})
}

// withFd runs fn with the raw descriptor of f. Unlike f.Fd it leaves the
// file in non-blocking mode, so Close still interrupts a pending Read.
func withFd(f *os.File, fn func(fd int) error) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	if err := rc.Control(func(fd uintptr) {
		opErr = fn(int(fd))
	}); err != nil {
		return err
	}
	return opErr
}

// killProcess kills the process group led by p.
func killProcess(p *os.Process) error {
	if p == nil {
		return nil
	}
	err := unix.Kill(-p.Pid, unix.SIGKILL)
	switch {
	case err == nil, errors.Is(err, unix.ESRCH):
		return nil
	default:
		if kerr := p.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			return kerr
		}
		return nil
	}
}

// signalled reports the signal that ended the process, if any.
func signalled(state *os.ProcessState) (int, bool) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0, false
	}
	return int(ws.Signal()), true
}
