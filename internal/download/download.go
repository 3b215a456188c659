// Package download fetches remote datasets into a local directory.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/tOgg1/workbench/internal/logging"
)

// ErrNoFilename is returned when a URL has no usable file name.
var ErrNoFilename = errors.New("cannot determine file name from url")

// Progress reports bytes received for one file. Total is -1 when unknown.
type Progress struct {
	URL     string
	Path    string
	Written int64
	Total   int64
}

// Downloader streams URLs to disk.
type Downloader struct {
	Client *http.Client
	// OnProgress is called after each chunk is written.
	OnProgress func(Progress)
}

// New returns a Downloader with a client that has no overall timeout, so
// large datasets are bounded only by ctx.
func New() *Downloader {
	return &Downloader{Client: &http.Client{Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: 30 * time.Second,
	}}}
}

// FileName returns the base name a URL is saved under.
func FileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("%w: %s", ErrNoFilename, logging.Redact(rawURL))
	}
	return name, nil
}

// Fetch downloads rawURL into dir and returns the written file path. The
// file is written under a temporary name and renamed once complete.
func (d *Downloader) Fetch(ctx context.Context, rawURL, dir string) (string, error) {
	logger := logging.Component("download")
	safeURL := logging.Redact(rawURL)

	name, err := FileName(rawURL)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	target := filepath.Join(dir, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("request %s: %w", safeURL, err)
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", safeURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get %s: status %d", safeURL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".part-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	pw := &progressWriter{
		progress: Progress{URL: safeURL, Path: target, Total: resp.ContentLength},
		fn:       d.OnProgress,
	}
	if _, err := io.Copy(io.MultiWriter(tmp, pw), resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("download %s: %w", safeURL, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return "", fmt.Errorf("rename %s: %w", target, err)
	}

	logger.Info().Str("url", safeURL).Str("path", target).Int64("bytes", pw.progress.Written).Msg("download complete")
	return target, nil
}

type progressWriter struct {
	progress Progress
	fn       func(Progress)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.progress.Written += int64(len(p))
	if w.fn != nil {
		w.fn(w.progress)
	}
	return len(p), nil
}
