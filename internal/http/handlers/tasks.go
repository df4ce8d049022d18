package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"mediagen/internal/domain"
	"mediagen/pkg/zip"
)

const defaultListLimit = 50

type taskResponse struct {
	TaskID          string             `json:"task_id"`
	MediaType       domain.MediaType   `json:"media_type"`
	Provider        string             `json:"provider"`
	Model           string             `json:"model"`
	Status          domain.TaskStatus  `json:"status"`
	Prompt          string             `json:"prompt"`
	OptimizedPrompt string             `json:"optimized_prompt,omitempty"`
	CostCredits     int                `json:"cost_credits"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	ParentTaskID    *string            `json:"parent_task_id,omitempty"`
	IsFreeRetry     bool               `json:"is_free_retry,omitempty"`
	CreatedAt       string             `json:"created_at"`
	CompletedAt     string             `json:"completed_at,omitempty"`
	Media           []mediaFileSummary `json:"media,omitempty"`
}

type mediaFileSummary struct {
	ID            string           `json:"id"`
	MediaType     domain.MediaType `json:"media_type"`
	URL           string           `json:"url"`
	ThumbnailURL  string           `json:"thumbnail_url,omitempty"`
	ResultIndex   int              `json:"result_index"`
	Width         int              `json:"width,omitempty"`
	Height        int              `json:"height,omitempty"`
	Duration      int              `json:"duration,omitempty"`
	Format        string           `json:"format,omitempty"`
	StorageStatus string           `json:"storage_status"`
}

// ListTasks returns the caller's recent tasks, newest first.
func (a *App) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	limit := queryInt(r, "limit", defaultListLimit)
	tasks, err := a.Tasks.ListByUser(r.Context(), userID, limit)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("handlers: list tasks failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list tasks")
		return
	}
	out := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		out = append(out, toTaskResponse(&tasks[i], nil))
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "tasks": out})
}

// TaskStatus returns one task. Non-terminal tasks are synced against the
// provider first, so a missed callback still shows up on the next read.
func (a *App) TaskStatus(w http.ResponseWriter, r *http.Request) {
	task, ok := a.loadOwnedTask(w, r)
	if !ok {
		return
	}
	if !task.Status.Terminal() {
		synced, err := a.Reconciler.SyncWithProvider(r.Context(), task)
		if err != nil {
			// Stored state is still the answer; the poll loop covers us.
			a.Logger.Warn().Err(err).Str("task_id", task.ID).Msg("handlers: provider sync failed")
		}
		if synced != nil {
			task = synced
		}
	}
	var media []domain.MediaFile
	if task.Status == domain.TaskStatusCompleted {
		files, err := a.Media.ListByTask(r.Context(), task.ID)
		if err != nil {
			a.Logger.Error().Err(err).Str("task_id", task.ID).Msg("handlers: media lookup failed")
		} else {
			media = files
		}
	}
	resp := toTaskResponse(task, media)
	a.json(w, http.StatusOK, map[string]any{"success": true, "task": resp})
}

// TaskMedia lists the persisted media rows for a completed task.
func (a *App) TaskMedia(w http.ResponseWriter, r *http.Request) {
	task, ok := a.loadOwnedTask(w, r)
	if !ok {
		return
	}
	files, err := a.Media.ListByTask(r.Context(), task.ID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load media")
		return
	}
	out := make([]mediaFileSummary, 0, len(files))
	for i := range files {
		out = append(out, toMediaSummary(&files[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "media": out})
}

// DownloadTaskMedia streams every artifact of a completed task as one zip.
func (a *App) DownloadTaskMedia(w http.ResponseWriter, r *http.Request) {
	task, ok := a.loadOwnedTask(w, r)
	if !ok {
		return
	}
	if task.Status != domain.TaskStatusCompleted {
		a.error(w, http.StatusConflict, "not_completed", "task has no downloadable results")
		return
	}
	files, err := a.Media.ListByTask(r.Context(), task.ID)
	if err != nil || len(files) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no media for task")
		return
	}

	client := a.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	assets := make([]zip.Asset, 0, len(files))
	for _, f := range files {
		data, err := fetchAsset(r, client, f.URL)
		if err != nil {
			a.Logger.Warn().Err(err).
				Str("task_id", task.ID).
				Str("url", f.URL).
				Msg("handlers: asset fetch failed")
			continue
		}
		assets = append(assets, zip.Asset{
			Filename: assetFilename(&f),
			MIME:     f.Format,
			Data:     data,
		})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusBadGateway, "fetch_failed", "could not fetch any media assets")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", sanitizeFilename(task.ID)+".zip"))
	if err := zip.Archive(w, assets); err != nil {
		a.Logger.Error().Err(err).Str("task_id", task.ID).Msg("handlers: zip stream failed")
	}
}

func (a *App) loadOwnedTask(w http.ResponseWriter, r *http.Request) (*domain.GenerationTask, bool) {
	userID := a.currentUserID(r)
	taskID := chi.URLParam(r, "taskID")
	task, err := a.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			a.Logger.Error().Err(err).Str("task_id", taskID).Msg("handlers: task lookup failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to load task")
		}
		return nil, false
	}
	if task.UserID != userID {
		// Do not leak existence of other users' tasks.
		a.error(w, http.StatusNotFound, "not_found", "task not found")
		return nil, false
	}
	return task, true
}

func toTaskResponse(task *domain.GenerationTask, media []domain.MediaFile) taskResponse {
	resp := taskResponse{
		TaskID:          task.ID,
		MediaType:       task.MediaType,
		Provider:        task.Provider,
		Model:           task.Model,
		Status:          task.Status,
		Prompt:          task.Prompt,
		OptimizedPrompt: task.OptimizedPrompt,
		CostCredits:     task.CostCredits,
		ErrorMessage:    task.ErrorMessage,
		ParentTaskID:    task.ParentTaskID,
		IsFreeRetry:     task.IsFreeRetry,
		CreatedAt:       task.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if task.CompletedAt != nil {
		resp.CompletedAt = task.CompletedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	for i := range media {
		resp.Media = append(resp.Media, toMediaSummary(&media[i]))
	}
	return resp
}

func toMediaSummary(f *domain.MediaFile) mediaFileSummary {
	return mediaFileSummary{
		ID:            f.ID,
		MediaType:     f.MediaType,
		URL:           f.URL,
		ThumbnailURL:  f.ThumbnailURL,
		ResultIndex:   f.ResultIndex,
		Width:         f.Width,
		Height:        f.Height,
		Duration:      f.Duration,
		Format:        f.Format,
		StorageStatus: string(f.StorageStatus),
	}
}

func fetchAsset(r *http.Request, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 256<<20))
}

func assetFilename(f *domain.MediaFile) string {
	base := path.Base(f.URL)
	if base == "" || base == "." || base == "/" {
		ext := ".png"
		if f.MediaType == domain.MediaTypeVideo {
			ext = ".mp4"
		}
		base = fmt.Sprintf("result_%d%s", f.ResultIndex, ext)
	}
	return fmt.Sprintf("%02d_%s", f.ResultIndex, sanitizeFilename(base))
}

func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '"', '?', '*', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
