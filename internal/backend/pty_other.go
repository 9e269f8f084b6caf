//go:build !linux && !darwin

package backend

import (
	"errors"
	"os"
	"os/exec"
)

func startPTY(cmd *exec.Cmd, cols, rows uint16) (*os.File, error) {
	return nil, ErrPTYNotSupported
}

func setWinSize(f *os.File, cols, rows uint16) error {
	return ErrPTYNotSupported
}

func killProcess(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func signalled(state *os.ProcessState) (int, bool) {
	return 0, false
}
