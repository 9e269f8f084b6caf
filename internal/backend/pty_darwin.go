//go:build darwin

package backend

import (
	"bytes"
	"os"
	"os/exec"
	"unsafe"

	"golang.org/x/sys/unix"
)

// startPTY starts cmd attached to a new pseudo-terminal and returns the
// master side.
func startPTY(cmd *exec.Cmd, cols, rows uint16) (*os.File, error) {
	master, err := os.OpenFile("/dev/ptmx", os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, err
	}

	var slavePath string
	err = withFd(master, func(fd int) error {
		if err := unix.IoctlSetInt(fd, unix.TIOCPTYGRANT, 0); err != nil {
			return err
		}
		if err := unix.IoctlSetInt(fd, unix.TIOCPTYUNLK, 0); err != nil {
			return err
		}
		var name [128]byte
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.TIOCPTYGNAME), uintptr(unsafe.Pointer(&name[0])))
		if errno != 0 {
			return errno
		}
		if i := bytes.IndexByte(name[:], 0); i >= 0 {
			slavePath = string(name[:i])
		}
		return nil
	})
	if err != nil {
		master.Close()
		return nil, err
	}

	slave, err := os.OpenFile(slavePath, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		master.Close()
		return nil, err
	}
	return startAttached(cmd, master, slave, cols, rows)
}
