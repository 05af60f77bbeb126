//go:build linux

package system

import (
	"context"
	"fmt"
	"time"

	"github.com/onkernel/iconograph/lib/logger"
	"golang.org/x/sys/unix"
)

// SyscallRebooter restarts the machine with reboot(2) after flushing filesystems
type SyscallRebooter struct{}

func (SyscallRebooter) Reboot(ctx context.Context) error {
	logger.FromContext(ctx).WarnContext(ctx, "rebooting host")
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}

// Uptime returns the time since boot
func Uptime() (time.Duration, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("sysinfo: %w", err)
	}
	return time.Duration(info.Uptime) * time.Second, nil
}
