// Package logwatch locates and follows the log files written by model runs.
package logwatch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// logfilePattern matches InVEST-<model>-log-<YYYY-MM-DD--HH_MM_SS>.txt.
// The model name may contain dots, underscores and hyphens.
var logfilePattern = regexp.MustCompile(`^InVEST-([\w.\-]+?)-log-(\d{4}-\d{2}-\d{2}--\d{2}_\d{2}_\d{2})\.txt$`)

// Logfile is a parsed run-log file name.
type Logfile struct {
	Name      string
	Model     string
	Timestamp string
}

// ParseLogfileName reports whether name is a run-log file name.
func ParseLogfileName(name string) (Logfile, bool) {
	m := logfilePattern.FindStringSubmatch(name)
	if m == nil {
		return Logfile{}, false
	}
	return Logfile{Name: name, Model: m[1], Timestamp: m[2]}, true
}

// FindMostRecentLogfile returns the run-log file in dir with the latest
// modification time. found is false when dir is missing or holds no
// matching file.
func FindMostRecentLogfile(dir string) (path string, found bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", dir, err)
	}

	var (
		bestName string
		bestTime time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := ParseLogfileName(entry.Name()); !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		mod := info.ModTime()
		if bestName == "" || mod.After(bestTime) || (mod.Equal(bestTime) && entry.Name() > bestName) {
			bestName = entry.Name()
			bestTime = mod
		}
	}

	if bestName == "" {
		return "", false, nil
	}
	return filepath.Join(dir, bestName), true, nil
}
