//go:build !linux

package venvpipe

import "errors"

// waitExit is only implemented on Linux. Elsewhere escaped descendants are
// killed when the stream finishes or is closed.
func waitExit(pid int) error {
	return errors.ErrUnsupported
}
