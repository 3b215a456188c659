package logwatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/tOgg1/workbench/internal/logging"
)

// DefaultInterval is the re-scan period when Follower.Interval is zero.
const DefaultInterval = 500 * time.Millisecond

// Update is delivered by Follower.Run.
type Update struct {
	// Path is the file currently followed.
	Path string
	// Switched is true on the first update for a new file.
	Switched bool
	// Lines are complete lines appended since the last update.
	Lines []string
}

// Follower tails the most recent run-log file in a directory, switching to
// a newer file when one appears.
type Follower struct {
	Dir      string
	Interval time.Duration
	// Since skips files last modified before it, so a workspace holding
	// logs of earlier runs is not mistaken for the current one.
	Since time.Time

	logger  zerolog.Logger
	path    string
	offset  int64
	partial []byte
}

// NewFollower returns a Follower for dir.
func NewFollower(dir string, interval time.Duration) *Follower {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Follower{Dir: dir, Interval: interval}
}

// Run polls until ctx is cancelled, calling fn for each change. Directory
// events wake it before the next tick. A final scan runs after cancellation
// so lines written just before the run ended are delivered.
func (f *Follower) Run(ctx context.Context, fn func(Update)) error {
	f.logger = logging.Component("logwatch").With().Str("dir", f.Dir).Logger()
	if f.Interval <= 0 {
		f.Interval = DefaultInterval
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.logger.Debug().Err(err).Msg("fsnotify unavailable, polling only")
		watcher = nil
	}
	watching := false
	if watcher != nil {
		defer watcher.Close()
	}
	addWatch := func() {
		if watcher == nil || watching {
			return
		}
		if err := watcher.Add(f.Dir); err == nil {
			watching = true
		}
	}

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()

	addWatch()
	f.scan(fn)
	for {
		select {
		case <-ctx.Done():
			f.scan(fn)
			return nil
		case <-ticker.C:
			addWatch()
			f.scan(fn)
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			f.scan(fn)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			f.logger.Debug().Err(err).Msg("watch error")
		}
	}
}

func (f *Follower) scan(fn func(Update)) {
	path, found, err := FindMostRecentLogfile(f.Dir)
	if err != nil {
		f.logger.Debug().Err(err).Msg("scan failed")
		return
	}
	if !found {
		return
	}
	if path != f.path && !f.Since.IsZero() {
		info, err := os.Stat(path)
		if err != nil || info.ModTime().Before(f.Since) {
			return
		}
	}

	switched := false
	if path != f.path {
		f.path = path
		f.offset = 0
		f.partial = nil
		switched = true
		f.logger.Debug().Str("path", path).Msg("following log file")
	}

	lines, err := f.readNew()
	if err != nil {
		f.logger.Debug().Err(err).Str("path", f.path).Msg("read failed")
	}
	if switched || len(lines) > 0 {
		fn(Update{Path: f.path, Switched: switched, Lines: lines})
	}
}

func (f *Follower) readNew() ([]string, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < f.offset {
		// Truncated; start over.
		f.offset = 0
		f.partial = nil
	}
	if info.Size() == f.offset {
		return nil, nil
	}

	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek: %w", err)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	f.offset += int64(len(data))

	data = append(f.partial, data...)
	var lines []string
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(data[:idx], "\r")))
		data = data[idx+1:]
	}
	f.partial = append([]byte(nil), data...)
	return lines, nil
}
