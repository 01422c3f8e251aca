package disk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrBusy means another process holds a conflicting lock on the volume.
var ErrBusy = errors.New("volume is busy")

const folderLockName = ".qrfs.lock"

// LockPath is the lock file guarding the volume at path: a hidden file inside
// a folder volume, or a sibling of an image file.
func LockPath(path string) string {
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		return filepath.Join(path, folderLockName)
	}
	return path + ".lock"
}

// Lock takes an advisory lock on the volume at path without blocking.
// Formatting takes it exclusive; mounts and inspection share it.
func Lock(path string, exclusive bool) (*flock.Flock, error) {
	fl := flock.New(LockPath(path))
	var ok bool
	var err error
	if exclusive {
		ok, err = fl.TryLock()
	} else {
		ok, err = fl.TryRLock()
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), ErrBusy)
	}
	return fl, nil
}
