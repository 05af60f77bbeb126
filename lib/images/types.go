package images

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Extension is the file suffix of installed images
const Extension = ".iso"

// Image is one bootable ISO installed in a store
type Image struct {
	Timestamp int64  // Version key and filename stem
	ImageType string // Node role the image belongs to
	VolumeID  string // ISO9660 volume identifier
	Path      string
	SizeBytes int64
}

// Filename returns the on-disk name of the image
func (i Image) Filename() string {
	return FilenameFor(i.Timestamp)
}

// Label returns the display label used in boot menus, e.g. "1700000000.iso (ICO 1700000000)"
func (i Image) Label() string {
	return fmt.Sprintf("%s (%s)", i.Filename(), i.VolumeID)
}

// FilenameFor returns the file name for an image timestamp
func FilenameFor(timestamp int64) string {
	return strconv.FormatInt(timestamp, 10) + Extension
}

// ParseFilename extracts the timestamp from "<timestamp>.iso"
func ParseFilename(name string) (int64, error) {
	stem, ok := strings.CutSuffix(name, Extension)
	if !ok || stem == "" {
		return 0, fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	for _, c := range stem {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %s", ErrInvalidName, name)
		}
	}
	ts, err := strconv.ParseInt(stem, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	// Canonical spelling only, so FilenameFor(ts) round-trips to this file
	if FilenameFor(ts) != name {
		return 0, fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	return ts, nil
}

// RetainSet is the set of timestamps that must survive a prune
type RetainSet map[int64]struct{}

// NewRetainSet creates a retain set from timestamps
func NewRetainSet(timestamps ...int64) RetainSet {
	r := make(RetainSet, len(timestamps))
	for _, ts := range timestamps {
		r.Add(ts)
	}
	return r
}

// Add inserts a timestamp
func (r RetainSet) Add(ts int64) {
	r[ts] = struct{}{}
}

// Has reports whether ts is retained
func (r RetainSet) Has(ts int64) bool {
	_, ok := r[ts]
	return ok
}

// Sorted returns the retained timestamps in ascending order
func (r RetainSet) Sorted() []int64 {
	out := make([]int64, 0, len(r))
	for ts := range r {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
