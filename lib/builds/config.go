package builds

import (
	"fmt"

	"github.com/onkernel/iconograph/lib/system"
)

const (
	DefaultMirror        = "http://archive.ubuntu.com/ubuntu"
	DefaultCompanionRepo = "https://github.com/robot-tools/iconograph.git"
)

// DefaultPackages are installed into every image
var DefaultPackages = []string{
	"debconf",
	"devscripts",
	"dialog",
	"git",
	"gnupg",
	"isc-dhcp-client",
	"locales",
	"nano",
	"net-tools",
	"iputils-ping",
	"openssh-server",
	"python3-openssl",
	"sudo",
	"user-setup",
	"wget",
}

// Config holds the inputs of one image build
type Config struct {
	// SourceISO is the base image providing the boot tree
	SourceISO string
	// DestISO is where the new image is written
	DestISO string
	// Arch is the Debian architecture to bootstrap
	Arch string
	// Release is the distribution codename, e.g. "focal"
	Release string
	// Mirror is the package archive URL
	Mirror string
	// Packages are installed into the bootstrapped root
	Packages []string
	// CompanionRepo is cloned into the bootstrapped root
	CompanionRepo string
	// Shell drops into an interactive shell in the chroot before squashing
	Shell bool
	// WorkDir is the parent of the temporary build tree; empty means os.TempDir()
	WorkDir string
}

// ApplyDefaults fills unset optional fields
func (c *Config) ApplyDefaults() {
	if c.Arch == "" {
		c.Arch = system.GetArch()
	}
	if c.Mirror == "" {
		c.Mirror = DefaultMirror
	}
	if c.Packages == nil {
		c.Packages = append([]string{}, DefaultPackages...)
	}
	if c.CompanionRepo == "" {
		c.CompanionRepo = DefaultCompanionRepo
	}
}

// Validate checks required fields
func (c *Config) Validate() error {
	switch {
	case c.SourceISO == "":
		return fmt.Errorf("%w: source iso is required", ErrInvalidConfig)
	case c.DestISO == "":
		return fmt.Errorf("%w: dest iso is required", ErrInvalidConfig)
	case c.Release == "":
		return fmt.Errorf("%w: release is required", ErrInvalidConfig)
	case len(c.Packages) == 0:
		return fmt.Errorf("%w: package set is empty", ErrInvalidConfig)
	}
	return nil
}
