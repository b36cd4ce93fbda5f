package utils

import (
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// GetAvailableSpace returns the number of bytes available to unprivileged
// users on the filesystem holding the given path
func GetAvailableSpace(path string) (int64, error) {
	var stat unix.Statfs_t
	err := unix.Statfs(path, &stat)
	if err != nil {
		return 0, xerrors.Errorf("failed to stat filesystem for %s: %w", path, err)
	}

	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
