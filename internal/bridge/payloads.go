package bridge

import (
	"encoding/json"
	"fmt"
)

// OpenDialogRequest is the show-open-dialog payload.
type OpenDialogRequest struct {
	Title       string         `json:"title,omitempty"`
	DefaultPath string         `json:"default_path,omitempty"`
	Directory   bool           `json:"directory,omitempty"`
	Multiple    bool           `json:"multiple,omitempty"`
	Filters     []DialogFilter `json:"filters,omitempty"`
}

// DialogFilter restricts selectable files by extension.
type DialogFilter struct {
	Name       string   `json:"name"`
	Extensions []string `json:"extensions"`
}

// OpenDialogReply answers show-open-dialog.
type OpenDialogReply struct {
	Canceled  bool     `json:"canceled"`
	FilePaths []string `json:"file_paths"`
}

// SaveDialogRequest is the show-save-dialog payload.
type SaveDialogRequest struct {
	Title       string `json:"title,omitempty"`
	DefaultPath string `json:"default_path,omitempty"`
}

// SaveDialogReply answers show-save-dialog.
type SaveDialogReply struct {
	Canceled bool   `json:"canceled"`
	FilePath string `json:"file_path,omitempty"`
}

// FirstRunReply answers is-first-run.
type FirstRunReply struct {
	FirstRun bool `json:"first_run"`
}

// RunRequest is the invest-run payload.
type RunRequest struct {
	RunID        string         `json:"run_id,omitempty"`
	ModelRunName string         `json:"model_run_name"`
	Args         map[string]any `json:"args"`
	WorkspaceDir string         `json:"workspace_dir,omitempty"`
}

// KillRequest is the invest-kill payload. An empty RunID kills the active
// run.
type KillRequest struct {
	RunID string `json:"run_id,omitempty"`
}

// DownloadRequest is the download-url payload.
type DownloadRequest struct {
	URLs []string `json:"urls"`
	Dir  string   `json:"dir"`
}

// ContextMenuRequest is the show-context-menu payload.
type ContextMenuRequest struct {
	Items []string `json:"items"`
	X     int      `json:"x"`
	Y     int      `json:"y"`
}

// Decode unmarshals a channel payload. An empty payload leaves v at its
// zero value.
func Decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
