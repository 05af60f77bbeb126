package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/c2h5oh/datasize"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/onkernel/iconograph/lib/logger"
	"github.com/samber/lo"
)

// currentLink is the persisted next-boot pointer inside the image directory
const currentLink = "current"

// StoreConfig configures an image store
type StoreConfig struct {
	// Dir holds the <timestamp>.iso files
	Dir string

	// ImageType is the node role whose images live in Dir
	ImageType string

	// Labeler resolves the volume label of the booted medium. Nil means the
	// booted image can never be matched.
	Labeler VolumeLabeler
}

// Store is the directory of installed images on a node
type Store struct {
	dir          string
	imageType    string
	labeler      VolumeLabeler
	readVolumeID func(path string) (string, error)
	logger       *slog.Logger
}

// NewStore opens (creating if needed) the image directory
func NewStore(cfg StoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("image dir is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &Store{
		dir:          filepath.Clean(cfg.Dir),
		imageType:    cfg.ImageType,
		labeler:      cfg.Labeler,
		readVolumeID: ReadVolumeID,
		logger:       log,
	}, nil
}

// Dir returns the image directory
func (s *Store) Dir() string {
	return s.dir
}

// ImageType returns the node role of the store
func (s *Store) ImageType() string {
	return s.imageType
}

// path resolves name inside the store directory without escaping it
func (s *Store) path(name string) (string, error) {
	p, err := securejoin.SecureJoin(s.dir, name)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	return p, nil
}

func (s *Store) load(name string, ts int64) (Image, error) {
	p, err := s.path(name)
	if err != nil {
		return Image{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Image{}, fmt.Errorf("%w: %d", ErrNotFound, ts)
		}
		return Image{}, fmt.Errorf("stat image: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Image{}, fmt.Errorf("%w: %s is not a regular file", ErrInvalidName, name)
	}

	volumeID, err := s.readVolumeID(p)
	if err != nil {
		// Still bootable by path; only the label is missing
		s.logger.Warn("failed to read volume id", "path", p, "error", err)
	}

	return Image{
		Timestamp: ts,
		ImageType: s.imageType,
		VolumeID:  volumeID,
		Path:      p,
		SizeBytes: info.Size(),
	}, nil
}

// Enumerate lists installed images, newest first
func (s *Store) Enumerate(ctx context.Context) ([]Image, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read image dir: %w", err)
	}

	candidates := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		if !e.Type().IsRegular() {
			return false
		}
		_, err := ParseFilename(e.Name())
		return err == nil
	})

	imgs := make([]Image, 0, len(candidates))
	for _, e := range candidates {
		ts, _ := ParseFilename(e.Name())
		img, err := s.load(e.Name(), ts)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Removed between ReadDir and Stat
				continue
			}
			return nil, err
		}
		imgs = append(imgs, img)
	}

	sort.Slice(imgs, func(i, j int) bool { return imgs[i].Timestamp > imgs[j].Timestamp })
	return imgs, nil
}

// Get returns the installed image with the given timestamp
func (s *Store) Get(ctx context.Context, ts int64) (*Image, error) {
	img, err := s.load(FilenameFor(ts), ts)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// Booted returns the image the host is running from, matched by volume label
func (s *Store) Booted(ctx context.Context) (*Image, error) {
	if s.labeler == nil {
		return nil, fmt.Errorf("%w: no volume labeler configured", ErrCurrentNotFound)
	}
	label, err := s.labeler.CurrentVolumeLabel()
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrNoVolumeID) {
		// Not running from a live medium
		return nil, fmt.Errorf("%w: %w", ErrCurrentNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read booted volume label: %w", err)
	}

	imgs, err := s.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	img, ok := lo.Find(imgs, func(i Image) bool { return i.VolumeID != "" && i.VolumeID == label })
	if !ok {
		return nil, fmt.Errorf("%w: no image with volume id %q", ErrCurrentNotFound, label)
	}
	return &img, nil
}

// readPointer returns the timestamp named by the current pointer.
// ok is false when no pointer exists.
func (s *Store) readPointer() (ts int64, ok bool, err error) {
	target, err := os.Readlink(filepath.Join(s.dir, currentLink))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read current pointer: %w", err)
	}
	ts, err = ParseFilename(filepath.Base(target))
	if err != nil {
		return 0, false, fmt.Errorf("%w: pointer names %q", ErrCurrentNotFound, target)
	}
	return ts, true, nil
}

// Current returns the next-boot image. The persisted pointer wins; without
// one, the booted image is current.
func (s *Store) Current(ctx context.Context) (*Image, error) {
	ts, ok, err := s.readPointer()
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.Booted(ctx)
	}
	img, err := s.Get(ctx, ts)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: pointer names missing image %d", ErrCurrentNotFound, ts)
		}
		return nil, err
	}
	return img, nil
}

// SetCurrent atomically moves the next-boot pointer to ts
func (s *Store) SetCurrent(ctx context.Context, ts int64) error {
	if _, err := s.Get(ctx, ts); err != nil {
		return err
	}

	tmp := filepath.Join(s.dir, fmt.Sprintf(".%s.%d.tmp", currentLink, os.Getpid()))
	_ = os.Remove(tmp)
	if err := os.Symlink(FilenameFor(ts), tmp); err != nil {
		return fmt.Errorf("create pointer: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, currentLink)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename pointer: %w", err)
	}

	logger.FromContext(ctx).InfoContext(ctx, "current image updated", "timestamp", ts)
	return nil
}

// Install writes a fetched image into the store. An existing image with the
// same timestamp is never overwritten; ErrAlreadyExists is returned instead.
func (s *Store) Install(ctx context.Context, ts int64, r io.Reader) (*Image, error) {
	log := logger.FromContext(ctx)
	name := FilenameFor(ts)
	final, err := s.path(name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Lstat(final); err == nil {
		return nil, fmt.Errorf("%w: %d", ErrAlreadyExists, ts)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp image: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("sync image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close image: %w", err)
	}

	// link(2) fails if the name exists, so a concurrent install cannot be clobbered
	if err := os.Link(tmp.Name(), final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %d", ErrAlreadyExists, ts)
		}
		return nil, fmt.Errorf("link image: %w", err)
	}

	log.InfoContext(ctx, "image installed", "timestamp", ts, "size", datasize.ByteSize(written).HR())
	return s.Get(ctx, ts)
}

// Active returns the booted and next-boot timestamps that a prune
// must never remove
func (s *Store) Active(ctx context.Context) ([]int64, error) {
	var active []int64

	booted, err := s.Booted(ctx)
	switch {
	case err == nil:
		active = append(active, booted.Timestamp)
	case errors.Is(err, ErrCurrentNotFound):
		// Booted from a medium outside this store; nothing to protect
	default:
		return nil, err
	}

	ts, ok, err := s.readPointer()
	if err != nil {
		return nil, err
	}
	if ok {
		active = append(active, ts)
	}
	return lo.Uniq(active), nil
}

// Prune deletes every image not in retain and returns the removed images.
// A retain set that omits the booted or next-boot image is a caller bug:
// ErrActiveNotRetained is returned and nothing is deleted.
func (s *Store) Prune(ctx context.Context, retain RetainSet) ([]Image, error) {
	log := logger.FromContext(ctx)

	active, err := s.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve active images: %w", err)
	}
	missing := lo.Filter(active, func(ts int64, _ int) bool { return !retain.Has(ts) })
	if len(missing) > 0 {
		log.ErrorContext(ctx, "refusing to prune active image", "missing", missing, "retain", retain.Sorted())
		return nil, fmt.Errorf("%w: %v", ErrActiveNotRetained, missing)
	}

	imgs, err := s.Enumerate(ctx)
	if err != nil {
		return nil, err
	}

	var removed []Image
	var errs []error
	for _, img := range imgs {
		if retain.Has(img.Timestamp) {
			continue
		}
		if err := os.Remove(img.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", img.Filename(), err))
			continue
		}
		log.InfoContext(ctx, "image pruned", "timestamp", img.Timestamp, "size", datasize.ByteSize(img.SizeBytes).HR())
		removed = append(removed, img)
	}
	return removed, errors.Join(errs...)
}

// Remove deletes one installed image. The booted and next-boot images are
// refused with ErrActiveNotRetained.
func (s *Store) Remove(ctx context.Context, ts int64) error {
	active, err := s.Active(ctx)
	if err != nil {
		return fmt.Errorf("resolve active images: %w", err)
	}
	if lo.Contains(active, ts) {
		return fmt.Errorf("%w: %d", ErrActiveNotRetained, ts)
	}

	img, err := s.Get(ctx, ts)
	if err != nil {
		return err
	}
	if err := os.Remove(img.Path); err != nil {
		return fmt.Errorf("remove %s: %w", img.Filename(), err)
	}
	logger.FromContext(ctx).InfoContext(ctx, "image removed", "timestamp", ts)
	return nil
}
