//go:build windows

package store

import (
	"fmt"
	"os"
)

// dirLock on Windows relies on the exclusive create of the lock file;
// flock semantics are not available. The file is removed on release.
type dirLock struct {
	f    *os.File
	path string
}

func acquireDirLock(path string) (*dirLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, fileMode)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("store: failed to open lock file: %w", err)
	}
	return &dirLock{f: f, path: path}, nil
}

func (l *dirLock) release() {
	if l == nil || l.f == nil {
		return
	}
	_ = l.f.Close()
	_ = os.Remove(l.path)
	l.f = nil
}
