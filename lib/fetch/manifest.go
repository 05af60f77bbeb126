package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/samber/lo"
)

// Manifest is the published index of images for one image type
type Manifest struct {
	Timestamp int64        `json:"timestamp"`
	Images    []ImageEntry `json:"images"`
}

// ImageEntry describes one published image
type ImageEntry struct {
	Timestamp int64  `json:"timestamp"`
	VolumeID  string `json:"volume_id,omitempty"`
	SHA256    string `json:"sha256"`
	Size      int64  `json:"size,omitempty"`
}

// Latest returns the entry named by the manifest timestamp, or the newest
// entry when the manifest does not name one.
func (m *Manifest) Latest() (ImageEntry, error) {
	if len(m.Images) == 0 {
		return ImageEntry{}, ErrEmptyManifest
	}
	if m.Timestamp != 0 {
		return m.Find(m.Timestamp)
	}
	return lo.MaxBy(m.Images, func(a, b ImageEntry) bool { return a.Timestamp > b.Timestamp }), nil
}

// Digest decodes the sha256 of the entry
func (e ImageEntry) Digest() ([]byte, error) {
	sum, err := hex.DecodeString(e.SHA256)
	if err != nil || len(sum) != sha256.Size {
		return nil, fmt.Errorf("%w: image %d: %q", ErrMissingChecksum, e.Timestamp, e.SHA256)
	}
	return sum, nil
}

// Find returns the entry for ts
func (m *Manifest) Find(ts int64) (ImageEntry, error) {
	entry, ok := lo.Find(m.Images, func(e ImageEntry) bool { return e.Timestamp == ts })
	if !ok {
		return ImageEntry{}, fmt.Errorf("%w: %d", ErrNotInManifest, ts)
	}
	return entry, nil
}
