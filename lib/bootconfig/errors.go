package bootconfig

import "errors"

var (
	// ErrImageDirNotNested is returned when the image directory is not inside the boot directory
	ErrImageDirNotNested = errors.New("image dir is not under boot dir")

	// ErrTooManyImages is returned when there are more images than hotkeys
	ErrTooManyImages = errors.New("more images than hotkeys")

	// ErrNoImages is returned when the image directory holds no images
	ErrNoImages = errors.New("no images to boot")
)
