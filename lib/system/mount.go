package system

import (
	"context"
	"fmt"
	"strings"
)

// Mounter performs the mounts used to compose a layered build tree
type Mounter interface {
	MountLoop(ctx context.Context, source, target string) error
	MountTmpfs(ctx context.Context, target string) error
	MountOverlay(ctx context.Context, opts OverlayOptions, target string) error
	Unmount(ctx context.Context, target string) error
}

// OverlayOptions describes the layers of an overlay mount
type OverlayOptions struct {
	LowerDir string
	UpperDir string
	WorkDir  string
}

// Data renders the overlay mount data string
func (o OverlayOptions) Data() string {
	return fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", o.LowerDir, o.UpperDir, o.WorkDir)
}

// Validate rejects paths that would corrupt the comma-separated mount data
func (o OverlayOptions) Validate() error {
	for _, p := range []string{o.LowerDir, o.UpperDir, o.WorkDir} {
		if p == "" || strings.ContainsAny(p, ",:") {
			return fmt.Errorf("%w: invalid overlay layer path %q", ErrMountFailed, p)
		}
	}
	return nil
}

// HostMounter mounts on the host. Loop mounts go through mount(8) so that
// the loop device is allocated and auto-cleared; tmpfs, overlay and unmount
// use the mount syscalls directly.
type HostMounter struct {
	runner Runner
}

// NewHostMounter creates a host mounter using runner for loop mounts
func NewHostMounter(runner Runner) *HostMounter {
	if runner == nil {
		runner = NewExecRunner()
	}
	return &HostMounter{runner: runner}
}

func (m *HostMounter) MountLoop(ctx context.Context, source, target string) error {
	if _, err := m.runner.Run(ctx, "mount", "--options", "loop,ro", source, target); err != nil {
		return fmt.Errorf("%w: loop %s on %s: %w", ErrMountFailed, source, target, err)
	}
	return nil
}
