package system

import "runtime"

// debianArches maps Go architectures to Debian architecture names
var debianArches = map[string]string{
	"amd64":   "amd64",
	"arm64":   "arm64",
	"arm":     "armhf",
	"386":     "i386",
	"ppc64le": "ppc64el",
	"s390x":   "s390x",
	"riscv64": "riscv64",
}

// GetArch returns the Debian architecture name for the current platform
func GetArch() string {
	return DebianArch(runtime.GOARCH)
}

// DebianArch returns the Debian architecture name for a Go GOARCH value.
// Unknown values are returned unchanged.
func DebianArch(goarch string) string {
	if arch, ok := debianArches[goarch]; ok {
		return arch
	}
	return goarch
}
