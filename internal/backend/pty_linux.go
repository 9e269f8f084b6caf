//go:build linux

package backend

import (
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/sys/unix"
)

// startPTY starts cmd attached to a new pseudo-terminal and returns the
// master side.
func startPTY(cmd *exec.Cmd, cols, rows uint16) (*os.File, error) {
	master, slave, err := openPTY()
	if err != nil {
		return nil, err
	}
	return startAttached(cmd, master, slave, cols, rows)
}

// openPTY opens a master/slave pair through /dev/ptmx.
func openPTY() (*os.File, *os.File, error) {
	master, err := os.OpenFile("/dev/ptmx", os.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, nil, err
	}

	var ptyno uint32
	err = withFd(master, func(fd int) error {
		if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
			return err
		}
		n, err := unix.IoctlGetUint32(fd, unix.TIOCGPTN)
		ptyno = n
		return err
	})
	if err != nil {
		master.Close()
		return nil, nil, err
	}

	slave, err := os.OpenFile("/dev/pts/"+strconv.FormatUint(uint64(ptyno), 10), os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		master.Close()
		return nil, nil, err
	}
	return master, slave, nil
}
