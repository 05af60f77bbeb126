//go:build linux

package system

import (
	"context"
	"fmt"

	"github.com/onkernel/iconograph/lib/logger"
	"golang.org/x/sys/unix"
)

func (m *HostMounter) MountTmpfs(ctx context.Context, target string) error {
	logger.FromContext(ctx).InfoContext(ctx, "mount tmpfs", "target", target)
	if err := unix.Mount("none", target, "tmpfs", 0, ""); err != nil {
		return fmt.Errorf("%w: tmpfs on %s: %w", ErrMountFailed, target, err)
	}
	return nil
}

func (m *HostMounter) MountOverlay(ctx context.Context, opts OverlayOptions, target string) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	logger.FromContext(ctx).InfoContext(ctx, "mount overlay", "target", target, "data", opts.Data())
	if err := unix.Mount("overlay", target, "overlay", 0, opts.Data()); err != nil {
		return fmt.Errorf("%w: overlay on %s: %w", ErrMountFailed, target, err)
	}
	return nil
}

func (m *HostMounter) Unmount(ctx context.Context, target string) error {
	logger.FromContext(ctx).InfoContext(ctx, "unmount", "target", target)
	if err := unix.Unmount(target, 0); err != nil {
		return fmt.Errorf("%w: unmount %s: %w", ErrMountFailed, target, err)
	}
	return nil
}
