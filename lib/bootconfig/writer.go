package bootconfig

import (
	"fmt"
	"os"
	"path/filepath"
)

type renameFunc func(oldpath, newpath string) error

// WriteAtomic replaces dest with data. The temp file is created next to dest
// so the final rename stays on one filesystem; dest is either the old file
// or the complete new one, never a partial write.
func WriteAtomic(dest string, data []byte) error {
	return writeAtomic(dest, data, os.Rename)
}

func writeAtomic(dest string, data []byte, rename renameFunc) (err error) {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Chmod(0644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
