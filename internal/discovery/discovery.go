// Package discovery expands a directory into an ordered list of video inputs.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/five82/splice/internal/errors"
	"github.com/five82/splice/internal/logging"
	"github.com/five82/splice/internal/util"
)

// Result contains the discovered inputs in concatenation order.
type Result struct {
	Files        []string
	SkippedCount int
}

// FindVideoFiles returns the video files directly inside inputDir, sorted
// case-insensitively by filename. That order becomes the output order.
// Hidden files and subdirectories are ignored.
func FindVideoFiles(inputDir string) (*Result, error) {
	info, err := os.Stat(inputDir)
	if err != nil {
		return nil, errors.NewPathError(fmt.Sprintf("directory does not exist: %s", inputDir))
	}
	if !info.IsDir() {
		return nil, errors.NewPathError(fmt.Sprintf("%s is not a directory", inputDir))
	}

	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, errors.NewIOError(fmt.Sprintf("cannot read directory %s", inputDir), err)
	}

	result := &Result{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		fullPath := filepath.Join(inputDir, name)
		if util.IsVideoFile(fullPath) {
			result.Files = append(result.Files, fullPath)
		} else {
			result.SkippedCount++
		}
	}

	if len(result.Files) == 0 {
		return nil, errors.NewNoFilesFoundError(inputDir)
	}

	sort.SliceStable(result.Files, func(i, j int) bool {
		return strings.ToLower(filepath.Base(result.Files[i])) < strings.ToLower(filepath.Base(result.Files[j]))
	})

	logDiscoveredFiles(result)
	return result, nil
}

// logDiscoveredFiles logs the first 5 discovered files plus a count.
func logDiscoveredFiles(result *Result) {
	log := logging.Global().WithPrefix("discovery")
	log.Info("found video files", "count", len(result.Files), "skipped", result.SkippedCount)

	maxToLog := min(5, len(result.Files))
	for i := range maxToLog {
		log.Debug("input", "index", i+1, "file", filepath.Base(result.Files[i]))
	}
	if len(result.Files) > 5 {
		log.Debug("more inputs not listed", "count", len(result.Files)-5)
	}
}
