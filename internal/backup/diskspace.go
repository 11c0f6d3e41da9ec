package backup

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FreeSpaceFunc reports the bytes available to unprivileged users at path.
type FreeSpaceFunc func(path string) (uint64, error)

// StatfsFreeSpace queries the filesystem holding path.
func StatfsFreeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem of %s: %w", path, err)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
