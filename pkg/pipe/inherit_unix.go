//go:build !windows

package pipe

import (
	"os"

	"golang.org/x/sys/unix"
)

// setInherit clears close-on-exec on the descriptor so a child process can
// inherit it. os.Pipe hands out CLOEXEC descriptors, so the default needs
// no work.
func setInherit(f *os.File, inherit bool) error {
	if !inherit {
		return nil
	}
	_, err := unix.FcntlInt(f.Fd(), unix.F_SETFD, 0)
	return err
}
