package system

import "context"

// Rebooter restarts the host
type Rebooter interface {
	Reboot(ctx context.Context) error
}
