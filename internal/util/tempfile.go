package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempDir is a scratch directory removed by Cleanup.
type TempDir struct {
	path string
}

// Path returns the directory path.
func (d *TempDir) Path() string {
	return d.path
}

// Cleanup removes the directory and everything in it.
func (d *TempDir) Cleanup() error {
	if d == nil || d.path == "" {
		return nil
	}
	return os.RemoveAll(d.path)
}

// EnsureDirectoryWritable verifies that path is an existing directory we can
// create files in.
func EnsureDirectoryWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	probe := filepath.Join(path, ".splice_write_test_"+uuid.NewString())
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", path, err)
	}
	_ = f.Close()
	return os.Remove(probe)
}

// CreateTempDir creates <baseDir>/<prefix>_<uuid>.
func CreateTempDir(baseDir, prefix string) (*TempDir, error) {
	path := filepath.Join(baseDir, prefix+"_"+uuid.NewString())
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &TempDir{path: path}, nil
}

// CreateTempFilePath returns a unique path <baseDir>/<prefix>_<uuid>.<ext>
// without creating the file.
func CreateTempFilePath(baseDir, prefix, ext string) (string, error) {
	if !DirectoryExists(baseDir) {
		return "", fmt.Errorf("temp base %s is not a directory", baseDir)
	}
	name := fmt.Sprintf("%s_%s.%s", prefix, uuid.NewString(), strings.TrimPrefix(ext, "."))
	return filepath.Join(baseDir, name), nil
}

// CleanupStaleTempFiles removes entries in dir whose name starts with
// prefix+"_" and whose modification time is older than maxAge.
// A missing directory is not an error.
func CleanupStaleTempFiles(dir, prefix string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix+"_") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// MinFreeSpace is the free-space level below which CheckDiskSpace warns.
const MinFreeSpace = 1 * GiB

// CheckDiskSpace reports whether at least MinFreeSpace is free at path.
// When it is not, a warning is passed to logf if non-nil.
func CheckDiskSpace(path string, logf func(format string, args ...any)) bool {
	free := GetAvailableSpace(path)
	if free == 0 || free >= MinFreeSpace {
		return true
	}
	if logf != nil {
		logf("low disk space at %s: %s free", path, FormatBytes(free))
	}
	return false
}
