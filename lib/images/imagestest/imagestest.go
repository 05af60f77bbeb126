// Package imagestest writes minimal ISO9660-shaped files for tests.
package imagestest

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// ISOBytes returns the bytes of a file carrying only a primary volume
// descriptor with the given volume id
func ISOBytes(volumeID string) []byte {
	data := make([]byte, 17*2048)
	pvd := data[16*2048:]
	pvd[0] = 1
	copy(pvd[1:6], "CD001")
	pvd[6] = 1
	id := pvd[40:72]
	for i := range id {
		id[i] = ' '
	}
	copy(id, volumeID)
	return data
}

// WriteISO writes <dir>/<timestamp>.iso with the given volume id and returns its path
func WriteISO(t testing.TB, dir string, timestamp int64, volumeID string) string {
	t.Helper()
	path := filepath.Join(dir, strconv.FormatInt(timestamp, 10)+".iso")
	require.NoError(t, os.WriteFile(path, ISOBytes(volumeID), 0644))
	return path
}
