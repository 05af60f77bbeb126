package bootconfig

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/onkernel/iconograph/lib/images"
	"github.com/onkernel/iconograph/lib/logger"
)

// ImageSource is the view of the image store the generator needs
type ImageSource interface {
	Enumerate(ctx context.Context) ([]images.Image, error)
	Current(ctx context.Context) (*images.Image, error)
}

// Config configures the generator
type Config struct {
	// ImageDir holds the images; must be inside BootDir
	ImageDir string
	// BootDir is the mount point of the boot partition
	BootDir string
	// Timeout is the menu timeout in seconds; zero means DefaultTimeout
	Timeout int
}

// Generator regenerates <BootDir>/grub/grub.cfg from the installed images
type Generator struct {
	cfg    Config
	store  ImageSource
	logger *slog.Logger
	rename renameFunc
}

// NewGenerator creates a boot config generator
func NewGenerator(cfg Config, store ImageSource, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Generator{
		cfg:    cfg,
		store:  store,
		logger: log,
		rename: os.Rename,
	}
}

// MenuPath returns the path of the generated grub.cfg
func (g *Generator) MenuPath() string {
	return filepath.Join(g.cfg.BootDir, "grub", "grub.cfg")
}

// ImagePath returns imageDir relative to bootDir as an absolute boot-partition
// path, e.g. "/iconograph"
func ImagePath(imageDir, bootDir string) (string, error) {
	absImage, err := filepath.Abs(imageDir)
	if err != nil {
		return "", fmt.Errorf("resolve image dir: %w", err)
	}
	absBoot, err := filepath.Abs(bootDir)
	if err != nil {
		return "", fmt.Errorf("resolve boot dir: %w", err)
	}
	rel, err := filepath.Rel(absBoot, absImage)
	if err != nil {
		return "", fmt.Errorf("%w: %s not in %s", ErrImageDirNotNested, imageDir, bootDir)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s not in %s", ErrImageDirNotNested, imageDir, bootDir)
	}
	if rel == "." {
		return "/", nil
	}
	return "/" + filepath.ToSlash(rel), nil
}

// Build assembles the menu document from the store contents
func (g *Generator) Build(ctx context.Context) (Menu, error) {
	imagePath, err := ImagePath(g.cfg.ImageDir, g.cfg.BootDir)
	if err != nil {
		return Menu{}, err
	}

	current, err := g.store.Current(ctx)
	if err != nil {
		return Menu{}, fmt.Errorf("get current image: %w", err)
	}

	imgs, err := g.store.Enumerate(ctx)
	if err != nil {
		return Menu{}, fmt.Errorf("enumerate images: %w", err)
	}
	if len(imgs) == 0 {
		return Menu{}, ErrNoImages
	}
	if len(imgs) > len(Hotkeys) {
		return Menu{}, fmt.Errorf("%w: %d images, %d hotkeys", ErrTooManyImages, len(imgs), len(Hotkeys))
	}

	// Newest first, by file name
	sort.Slice(imgs, func(i, j int) bool { return imgs[i].Filename() > imgs[j].Filename() })

	menu := Menu{
		Timeout: g.cfg.Timeout,
		Default: current.Label(),
		Entries: make([]Entry, 0, len(imgs)),
	}
	for i, img := range imgs {
		key, err := HotkeyFor(i)
		if err != nil {
			return Menu{}, err
		}
		menu.Entries = append(menu.Entries, Entry{
			Label:   img.Label(),
			Hotkey:  key,
			ISOPath: ISOPath(imagePath, img.Filename()),
		})
	}
	return menu, nil
}

// Generate rebuilds and atomically replaces grub.cfg
func (g *Generator) Generate(ctx context.Context) error {
	log := logger.FromContext(ctx)

	menu, err := g.Build(ctx)
	if err != nil {
		return err
	}

	dest := g.MenuPath()
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create grub dir: %w", err)
	}
	if err := writeAtomic(dest, Render(menu), g.rename); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}

	log.InfoContext(ctx, "boot config generated", "path", dest, "default", menu.Default, "entries", len(menu.Entries))
	return nil
}
