//go:build windows

package repos

import (
	"os"
)

// Manifest writes go through a temp file and rename, so the lock is
// advisory only and a no-op here.
func lockFile(f *os.File) error {
	return nil
}

func unlockFile(f *os.File) error {
	return nil
}
