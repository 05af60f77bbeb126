package images

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

const (
	isoSectorSize = 2048
	// The primary volume descriptor lives in sector 16
	pvdOffset = 16 * isoSectorSize
	// Volume identifier: bytes 40-71 of the descriptor, space padded
	volumeIDOffset = 40
	volumeIDLength = 32
)

var isoStandardID = []byte("CD001")

// ReadVolumeID reads the ISO9660 primary volume identifier of the file at path
func ReadVolumeID(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	return readVolumeID(f)
}

func readVolumeID(r io.ReaderAt) (string, error) {
	desc := make([]byte, volumeIDOffset+volumeIDLength)
	if _, err := r.ReadAt(desc, pvdOffset); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return "", ErrNoVolumeID
		}
		return "", fmt.Errorf("read volume descriptor: %w", err)
	}

	// Type 1 = primary volume descriptor
	if desc[0] != 1 || !bytes.Equal(desc[1:6], isoStandardID) {
		return "", ErrNoVolumeID
	}

	id := bytes.TrimRight(desc[volumeIDOffset:volumeIDOffset+volumeIDLength], " \x00")
	return string(id), nil
}

// VolumeLabeler reports the volume label of the medium the host booted from
type VolumeLabeler interface {
	CurrentVolumeLabel() (string, error)
}

// DeviceLabeler reads the volume label from a device or image file path,
// e.g. the loop-mounted ISO backing the running system
type DeviceLabeler struct {
	Path string
}

func (d DeviceLabeler) CurrentVolumeLabel() (string, error) {
	return ReadVolumeID(d.Path)
}

// StaticLabeler returns a fixed label
type StaticLabeler string

func (s StaticLabeler) CurrentVolumeLabel() (string, error) {
	return string(s), nil
}
