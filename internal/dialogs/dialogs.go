// Package dialogs shows native file pickers and menus for the renderer.
package dialogs

import (
	"context"
	"errors"
	"os"
	"runtime"
	"strings"

	"github.com/ncruces/zenity"
)

// ErrCanceled is returned when the user dismisses a dialog.
var ErrCanceled = zenity.ErrCanceled

// Filter restricts an open dialog to some file extensions.
type Filter struct {
	Name       string   `json:"name"`
	Extensions []string `json:"extensions"`
}

// OpenOptions configures an open dialog.
type OpenOptions struct {
	Title       string
	DefaultPath string
	Directory   bool
	Multiple    bool
	Filters     []Filter
}

// SaveOptions configures a save dialog.
type SaveOptions struct {
	Title       string
	DefaultPath string
}

// Dialogs is the native dialog surface.
type Dialogs interface {
	Open(ctx context.Context, opts OpenOptions) ([]string, error)
	Save(ctx context.Context, opts SaveOptions) (string, error)
	Menu(ctx context.Context, title string, items []string) (string, error)
}

// Native shows dialogs through the platform toolkit.
type Native struct{}

// Open implements Dialogs.
func (Native) Open(ctx context.Context, opts OpenOptions) ([]string, error) {
	options := []zenity.Option{zenity.Context(ctx)}
	if opts.Title != "" {
		options = append(options, zenity.Title(opts.Title))
	}
	if opts.DefaultPath != "" {
		options = append(options, zenity.Filename(opts.DefaultPath))
	}
	if opts.Directory {
		options = append(options, zenity.Directory())
	}
	if filters := fileFilters(opts.Filters); len(filters) > 0 {
		options = append(options, filters)
	}

	if opts.Multiple {
		return zenity.SelectFileMultiple(options...)
	}
	path, err := zenity.SelectFile(options...)
	if err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// Save implements Dialogs.
func (Native) Save(ctx context.Context, opts SaveOptions) (string, error) {
	options := []zenity.Option{zenity.Context(ctx), zenity.ConfirmOverwrite()}
	if opts.Title != "" {
		options = append(options, zenity.Title(opts.Title))
	}
	if opts.DefaultPath != "" {
		options = append(options, zenity.Filename(opts.DefaultPath))
	}
	return zenity.SelectFileSave(options...)
}

// Menu implements Dialogs with a single-choice list.
func (Native) Menu(ctx context.Context, title string, items []string) (string, error) {
	return zenity.List(title, items, zenity.Context(ctx), zenity.Title(title), zenity.DisallowEmpty())
}

func fileFilters(filters []Filter) zenity.FileFilters {
	out := make(zenity.FileFilters, 0, len(filters))
	for _, f := range filters {
		patterns := make([]string, 0, len(f.Extensions))
		for _, ext := range f.Extensions {
			ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
			if ext == "" {
				continue
			}
			if ext == "*" {
				patterns = append(patterns, "*")
				continue
			}
			patterns = append(patterns, "*."+ext)
		}
		if len(patterns) == 0 {
			continue
		}
		out = append(out, zenity.FileFilter{Name: f.Name, Patterns: patterns, CaseFold: true})
	}
	return out
}

// Canceling answers every dialog as if the user dismissed it. It is used
// when no display is available.
type Canceling struct{}

// Open implements Dialogs.
func (Canceling) Open(context.Context, OpenOptions) ([]string, error) { return nil, ErrCanceled }

// Save implements Dialogs.
func (Canceling) Save(context.Context, SaveOptions) (string, error) { return "", ErrCanceled }

// Menu implements Dialogs.
func (Canceling) Menu(context.Context, string, []string) (string, error) { return "", ErrCanceled }

// Default returns Native when a display looks available and Canceling
// otherwise.
func Default() Dialogs {
	if HasDisplay() {
		return Native{}
	}
	return Canceling{}
}

// HasDisplay reports whether native dialogs can be shown.
func HasDisplay() bool {
	switch runtime.GOOS {
	case "windows", "darwin":
		return true
	default:
		return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
	}
}

// IsCanceled reports whether err means the user dismissed the dialog.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}
