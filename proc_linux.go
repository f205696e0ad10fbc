package venvpipe

import (
	"errors"

	"golang.org/x/sys/unix"
)

// waitExit blocks until the process exits without reaping it, so its pid
// and process group id stay reserved until cmd.Wait runs.
func waitExit(pid int) error {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}
