package bootconfig

import (
	"fmt"
	"path"
	"strings"
)

// Hotkeys is the quick-select alphabet, assigned in order to menu entries
const Hotkeys = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// DefaultTimeout is the menu timeout in seconds
const DefaultTimeout = 5

// LoopbackConfig is the path of the boot configuration inside every image
const LoopbackConfig = "/boot/grub/loopback.cfg"

// Menu is a GRUB menu document
type Menu struct {
	Timeout int
	Default string
	Entries []Entry
}

// Entry boots one ISO through GRUB's loopback device
type Entry struct {
	Label string
	// Hotkey is a single character from Hotkeys
	Hotkey byte
	// ISOPath is the image path relative to the boot partition root
	ISOPath string
}

// HotkeyFor returns the hotkey for the i-th entry
func HotkeyFor(i int) (byte, error) {
	if i < 0 || i >= len(Hotkeys) {
		return 0, fmt.Errorf("%w: entry %d, only %d hotkeys", ErrTooManyImages, i, len(Hotkeys))
	}
	return Hotkeys[i], nil
}

// ISOPath joins the boot-relative image directory and a file name
func ISOPath(imagePath, filename string) string {
	return path.Join("/", imagePath, filename)
}

// quote renders s as a GRUB double-quoted word
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`)
	return `"` + r.Replace(s) + `"`
}

// Render formats the menu as grub.cfg contents. It is a pure function of m.
func Render(m Menu) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "\nset timeout=%d\n", m.Timeout)
	fmt.Fprintf(&b, "set default=%s\n", quote(m.Default))

	for _, e := range m.Entries {
		fmt.Fprintf(&b, "\nmenuentry %s --hotkey=%c {\n", quote(e.Label), e.Hotkey)
		fmt.Fprintf(&b, "  search --no-floppy --file --set=root %s\n", e.ISOPath)
		fmt.Fprintf(&b, "  iso_path=%s\n", quote(e.ISOPath))
		b.WriteString("  export iso_path\n")
		fmt.Fprintf(&b, "  loopback loop %s\n", quote(e.ISOPath))
		b.WriteString("  set root=(loop)\n")
		fmt.Fprintf(&b, "  configfile %s\n", LoopbackConfig)
		b.WriteString("}\n")
	}

	return []byte(b.String())
}
