package system

import "errors"

var (
	// ErrCommandFailed is returned when an external tool exits non-zero or cannot start
	ErrCommandFailed = errors.New("command failed")

	// ErrMountFailed is returned when a mount or unmount syscall fails
	ErrMountFailed = errors.New("mount failed")

	// ErrUnsupported is returned on platforms without mount/reboot support
	ErrUnsupported = errors.New("unsupported on this platform")
)
