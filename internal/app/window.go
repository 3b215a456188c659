package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tOgg1/workbench/internal/appstate"
	"github.com/tOgg1/workbench/internal/archive"
	"github.com/tOgg1/workbench/internal/bridge"
	"github.com/tOgg1/workbench/internal/dialogs"
	"github.com/tOgg1/workbench/internal/events"
	"github.com/tOgg1/workbench/internal/logging"
	"github.com/tOgg1/workbench/internal/models"
	"github.com/tOgg1/workbench/internal/runs"
)

// registration is the channel table of a window.
func (a *App) registration() bridge.Registration {
	return bridge.Registration{
		Handlers: map[string]bridge.HandlerFunc{
			bridge.ChannelShowOpenDialog: a.handleOpenDialog,
			bridge.ChannelShowSaveDialog: a.handleSaveDialog,
			bridge.ChannelIsFirstRun:     a.handleIsFirstRun,
		},
		Listeners: map[string]bridge.ListenerFunc{
			bridge.ChannelDownloadURL:     a.onDownloadURL,
			bridge.ChannelInvestRun:       a.onInvestRun,
			bridge.ChannelInvestKill:      a.onInvestKill,
			bridge.ChannelShowContextMenu: a.onContextMenu,
		},
	}
}

func (a *App) handleOpenDialog(ctx context.Context, payload json.RawMessage) (any, error) {
	var req bridge.OpenDialogRequest
	if err := bridge.Decode(payload, &req); err != nil {
		return nil, err
	}
	filters := make([]dialogs.Filter, 0, len(req.Filters))
	for _, f := range req.Filters {
		filters = append(filters, dialogs.Filter{Name: f.Name, Extensions: f.Extensions})
	}

	paths, err := a.opts.Dialogs.Open(ctx, dialogs.OpenOptions{
		Title:       req.Title,
		DefaultPath: req.DefaultPath,
		Directory:   req.Directory,
		Multiple:    req.Multiple,
		Filters:     filters,
	})
	if dialogs.IsCanceled(err) {
		return bridge.OpenDialogReply{Canceled: true, FilePaths: []string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open dialog: %w", err)
	}
	return bridge.OpenDialogReply{FilePaths: paths}, nil
}

func (a *App) handleSaveDialog(ctx context.Context, payload json.RawMessage) (any, error) {
	var req bridge.SaveDialogRequest
	if err := bridge.Decode(payload, &req); err != nil {
		return nil, err
	}
	path, err := a.opts.Dialogs.Save(ctx, dialogs.SaveOptions{Title: req.Title, DefaultPath: req.DefaultPath})
	if dialogs.IsCanceled(err) {
		return bridge.SaveDialogReply{Canceled: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("save dialog: %w", err)
	}
	return bridge.SaveDialogReply{FilePath: path}, nil
}

func (a *App) handleIsFirstRun(ctx context.Context, _ json.RawMessage) (any, error) {
	first, err := appstate.CheckFirstRun(ctx, a.store)
	if err != nil {
		return nil, err
	}
	return bridge.FirstRunReply{FirstRun: first}, nil
}

func (a *App) onDownloadURL(ctx context.Context, payload json.RawMessage) {
	var req bridge.DownloadRequest
	if err := bridge.Decode(payload, &req); err != nil {
		a.publishError(ctx, "", "download-url", err)
		return
	}
	if len(req.URLs) == 0 || strings.TrimSpace(req.Dir) == "" {
		a.publishError(ctx, "", "download-url", fmt.Errorf("urls and dir are required"))
		return
	}

	total := len(req.URLs)
	for i, rawURL := range req.URLs {
		a.publisher.Publish(ctx, events.New(models.EventTypeDownloadProgress, "", map[string]any{
			"message": fmt.Sprintf("Downloading %d of %d", i+1, total),
			"index":   i + 1,
			"total":   total,
		}))

		path, err := a.opts.Downloader.Fetch(ctx, rawURL, req.Dir)
		if err != nil {
			a.publishError(ctx, "", "download-url", err)
			return
		}
		if strings.EqualFold(filepath.Ext(path), ".zip") {
			if _, err := archive.ExtractInPlace(path); err != nil {
				a.publishError(ctx, "", "download-url", err)
				return
			}
		}
	}

	if err := a.store.Set(ctx, appstate.KeySampleDataDir, req.Dir); err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).Msg("failed to record sample data dir")
	}
	a.publisher.Publish(ctx, events.New(models.EventTypeDownloadDone, "", map[string]any{
		"dir":   req.Dir,
		"total": total,
	}))
}

func (a *App) onInvestRun(ctx context.Context, payload json.RawMessage) {
	var req bridge.RunRequest
	if err := bridge.Decode(payload, &req); err != nil {
		a.publishError(ctx, req.RunID, "invest-run", err)
		return
	}
	manager := a.Runs()
	if manager == nil {
		a.publishError(ctx, req.RunID, "invest-run", ErrNotStarted)
		return
	}
	if _, err := manager.Start(ctx, runs.Request{
		RunID:     req.RunID,
		Model:     req.ModelRunName,
		Args:      req.Args,
		Workspace: req.WorkspaceDir,
	}); err != nil {
		a.publishError(ctx, req.RunID, "invest-run", err)
	}
}

func (a *App) onInvestKill(ctx context.Context, payload json.RawMessage) {
	var req bridge.KillRequest
	if err := bridge.Decode(payload, &req); err != nil {
		a.publishError(ctx, "", "invest-kill", err)
		return
	}
	manager := a.Runs()
	if manager == nil {
		return
	}
	if err := manager.Kill(req.RunID); err != nil {
		logger := logging.FromContext(ctx)
		logger.Debug().Err(err).Str("run_id", req.RunID).Msg("kill request ignored")
	}
}

func (a *App) onContextMenu(ctx context.Context, payload json.RawMessage) {
	var req bridge.ContextMenuRequest
	if err := bridge.Decode(payload, &req); err != nil {
		a.publishError(ctx, "", "show-context-menu", err)
		return
	}
	if len(req.Items) == 0 {
		return
	}

	choice, err := a.opts.Dialogs.Menu(ctx, "Actions", req.Items)
	result := map[string]any{"x": req.X, "y": req.Y}
	switch {
	case dialogs.IsCanceled(err):
		result["canceled"] = true
	case err != nil:
		a.publishError(ctx, "", "show-context-menu", err)
		return
	default:
		result["choice"] = choice
	}
	a.publisher.Publish(ctx, events.New(models.EventTypeContextMenu, "", result))
}

func (a *App) publishError(ctx context.Context, runID, channel string, err error) {
	logger := logging.FromContext(ctx)
	logger.Warn().Err(err).Str("run_id", runID).Msg("request failed")
	a.publisher.Publish(context.Background(), events.New(models.EventTypeError, runID, map[string]any{
		"error":   err.Error(),
		"context": channel,
	}))
}
