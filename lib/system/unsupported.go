//go:build !linux

package system

import (
	"context"
	"time"
)

func (m *HostMounter) MountTmpfs(ctx context.Context, target string) error {
	return ErrUnsupported
}

func (m *HostMounter) MountOverlay(ctx context.Context, opts OverlayOptions, target string) error {
	return ErrUnsupported
}

func (m *HostMounter) Unmount(ctx context.Context, target string) error {
	return ErrUnsupported
}

// SyscallRebooter is only functional on Linux
type SyscallRebooter struct{}

func (SyscallRebooter) Reboot(ctx context.Context) error {
	return ErrUnsupported
}

// Uptime is only functional on Linux
func Uptime() (time.Duration, error) {
	return 0, ErrUnsupported
}
