//go:build unix

package util

import "golang.org/x/sys/unix"

// GetAvailableSpace returns free bytes on the filesystem holding path, or 0
// if it cannot be determined.
func GetAvailableSpace(path string) uint64 {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0
	}
	return stat.Bavail * uint64(stat.Bsize)
}
