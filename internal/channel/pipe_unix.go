//go:build unix && !linux

package channel

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// pipeCloexec holds ForkLock so no fork can observe the descriptors before
// close-on-exec is set.
func pipeCloexec(fds []int) error {
	syscall.ForkLock.RLock()
	defer syscall.ForkLock.RUnlock()

	if err := unix.Pipe(fds); err != nil {
		return err
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	return nil
}
