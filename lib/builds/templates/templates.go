// Package templates holds static files stamped into built images.
package templates

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed loopback.cfg
var loopbackCfg []byte

// LoopbackPath is where GRUB looks for the loopback config inside an image
const LoopbackPath = "boot/grub/loopback.cfg"

// Loopback returns the loopback.cfg contents
func Loopback() []byte {
	out := make([]byte, len(loopbackCfg))
	copy(out, loopbackCfg)
	return out
}

// InstallLoopback writes loopback.cfg under root
func InstallLoopback(root string) (string, error) {
	dest := filepath.Join(root, LoopbackPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("create grub dir: %w", err)
	}
	if err := os.WriteFile(dest, loopbackCfg, 0644); err != nil {
		return "", fmt.Errorf("write loopback.cfg: %w", err)
	}
	return dest, nil
}
