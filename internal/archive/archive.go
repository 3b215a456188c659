// Package archive extracts downloaded zip archives.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tOgg1/workbench/internal/logging"
)

// ErrIllegalPath is returned for entries that would land outside the target.
var ErrIllegalPath = errors.New("illegal file path in archive")

// ExtractInPlace extracts zipPath into the directory that contains it and
// returns the number of files written. Entries may appear in any order;
// parent directories are created as needed.
func ExtractInPlace(zipPath string) (int, error) {
	return Extract(zipPath, filepath.Dir(zipPath))
}

// Extract extracts zipPath into dest.
func Extract(zipPath, dest string) (int, error) {
	logger := logging.Component("archive")

	r, err := zip.OpenReader(zipPath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return 0, fmt.Errorf("open %s: %w", zipPath, err)
	}
	defer r.Close()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", dest, err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}

	files := 0
	for _, f := range r.File {
		target, err := entryPath(dest, f.Name)
		if err != nil {
			return files, err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, fmt.Errorf("create %s: %w", target, err)
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return files, err
		}
		files++
	}

	logger.Info().Str("zip", zipPath).Str("dest", dest).Int("files", files).Msg("extracted archive")
	return files, nil
}

func entryPath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrIllegalPath, name)
	}
	return target, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(target), err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return out.Close()
}
