package fetch

import "errors"

var (
	// ErrNotInManifest is returned when a requested timestamp is not published
	ErrNotInManifest = errors.New("image not in manifest")

	// ErrEmptyManifest is returned when the manifest lists no images
	ErrEmptyManifest = errors.New("manifest lists no images")

	// ErrChecksumMismatch is returned when downloaded bytes do not match the manifest digest
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrMissingChecksum is returned when a manifest entry carries no usable sha256 digest
	ErrMissingChecksum = errors.New("manifest entry has no valid sha256")

	// ErrVolumeIDMismatch is returned when a downloaded image does not carry the
	// volume id the manifest announced, or carries none at all
	ErrVolumeIDMismatch = errors.New("volume id mismatch")

	// ErrUnexpectedStatus is returned for non-200 responses
	ErrUnexpectedStatus = errors.New("unexpected http status")
)
