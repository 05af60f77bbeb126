package images

import "errors"

var (
	ErrNotFound      = errors.New("image not found")
	ErrAlreadyExists = errors.New("image already exists")
	ErrInvalidName   = errors.New("invalid image name")

	// ErrCurrentNotFound is returned when no installed image matches the
	// current pointer or the booted volume label
	ErrCurrentNotFound = errors.New("current image not found")

	// ErrActiveNotRetained is returned when a prune would delete the booted
	// or next-boot image
	ErrActiveNotRetained = errors.New("retain set omits active image")

	// ErrNoVolumeID is returned when a file has no ISO9660 primary volume descriptor
	ErrNoVolumeID = errors.New("no iso9660 volume id")
)
