// Package handlers exposes the culling engine over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/quickcull/cullingbackend/culling"
	"github.com/quickcull/cullingbackend/models"
	"github.com/quickcull/cullingbackend/realtime"
)

// CullingHandler serves the image, folder and validation endpoints.
type CullingHandler struct {
	Service *culling.Service
	Hub     *realtime.Hub

	analyzeMu sync.Mutex // one batch analysis at a time
}

type loadFolderRequest struct {
	Path string `json:"path"`
}

// LoadFolder opens a folder session.
func (h *CullingHandler) LoadFolder(w http.ResponseWriter, r *http.Request) {
	var req loadFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		WriteAPIError(w, http.StatusBadRequest, "invalid_request", "body must be {\"path\": \"...\"}")
		return
	}
	if err := h.Service.LoadFolder(r.Context(), req.Path, nil); err != nil {
		WriteAPIError(w, http.StatusUnprocessableEntity, "load_failed", err.Error())
		return
	}
	stats, err := h.Service.Statistics()
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, "stats_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetFolder returns statistics for the loaded folder.
func (h *CullingHandler) GetFolder(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.Statistics()
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// RefreshFolder rescans the folder and rebuilds the cache.
func (h *CullingHandler) RefreshFolder(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.RefreshCache(r.Context(), nil); err != nil {
		h.writeServiceError(w, err)
		return
	}
	stats, err := h.Service.Statistics()
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, "stats_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListImages returns cached images, optionally filtered via query parameters.
func (h *CullingHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	var recs []models.ImageRecord
	if filter == nil {
		recs, err = h.Service.GetImages()
	} else {
		recs, err = h.Service.QueryImages(*filter)
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if recs == nil {
		recs = []models.ImageRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// GetImage returns one cached image.
func (h *CullingHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.GetImage(chi.URLParam(r, "filename"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// AnalyzeImage runs the analysis pipeline on one image synchronously.
func (h *CullingHandler) AnalyzeImage(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.AnalyzeImage(r.Context(), chi.URLParam(r, "filename"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// AnalyzeAll starts a batch analysis in the background: every unanalyzed
// image, or the whole folder with ?force=true. Progress is published on the
// event stream.
func (h *CullingHandler) AnalyzeAll(w http.ResponseWriter, r *http.Request) {
	if !h.Service.Loaded() {
		WriteAPIError(w, http.StatusConflict, "no_folder", "no folder loaded")
		return
	}
	if !h.analyzeMu.TryLock() {
		WriteAPIError(w, http.StatusConflict, "analysis_running", "a batch analysis is already running")
		return
	}
	force := r.URL.Query().Get("force") == "true"

	// detached from the request context; the batch outlives this request
	go func() {
		defer h.analyzeMu.Unlock()
		processed, err := h.Service.AnalyzeAll(context.Background(), force, func(p models.Progress) {
			h.Hub.Publish(realtime.Event{
				Type:     "analysis_progress",
				Filename: p.CurrentImage,
				Extra: map[string]interface{}{
					"processed":    p.Processed,
					"total":        p.Total,
					"remaining_ms": p.Remaining.Milliseconds(),
				},
			})
		})
		if err != nil {
			log.Printf("Batch analysis stopped after %d images: %v", processed, err)
			return
		}
		log.Printf("Batch analysis finished: %d images", processed)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type pickRequest struct {
	Pick *bool `json:"pick"` // null clears the flag
}

// SetPick writes the tri-state pick flag for one image.
func (h *CullingHandler) SetPick(w http.ResponseWriter, r *http.Request) {
	var req pickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_request", "body must be {\"pick\": true|false|null}")
		return
	}
	filename := chi.URLParam(r, "filename")
	if err := h.Service.SetPickStatus(r.Context(), filename, req.Pick); err != nil {
		h.writeServiceError(w, err)
		return
	}
	rec, err := h.Service.GetImage(filename)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// RefreshImage re-derives one cache row from disk.
func (h *CullingHandler) RefreshImage(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if err := h.Service.RefreshImage(filename); err != nil {
		h.writeServiceError(w, err)
		return
	}
	rec, err := h.Service.GetImage(filename)
	if err != nil {
		// the refresh may have removed a row whose file vanished
		if errors.Is(err, culling.ErrImageNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Keepers returns the recommended keeper set, best first.
func (h *CullingHandler) Keepers(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Service.RecommendedKeepers()
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if recs == nil {
		recs = []models.ImageRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// ValidateImage compares one cache row against its sidecar.
func (h *CullingHandler) ValidateImage(w http.ResponseWriter, r *http.Request) {
	diffs, err := h.Service.ValidateImage(chi.URLParam(r, "filename"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if diffs == nil {
		diffs = []culling.Inconsistency{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"consistent":      len(diffs) == 0,
		"inconsistencies": diffs,
	})
}

// ValidateAll validates the whole cache against sidecar state.
func (h *CullingHandler) ValidateAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Service.ValidateAll(nil)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type repairRequest struct {
	Filenames []string `json:"filenames"`
}

// RepairAll re-derives inconsistent cache rows from sidecar state. An
// optional body names specific files; without one every inconsistent row is
// repaired.
func (h *CullingHandler) RepairAll(w http.ResponseWriter, r *http.Request) {
	var req repairRequest
	if r.Body != nil {
		// an empty or absent body means "repair everything"
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if len(req.Filenames) > 0 {
		fixed, err := h.Service.RepairImages(req.Filenames, nil)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"repaired": fixed})
		return
	}

	summary, err := h.Service.RepairAll(nil)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *CullingHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, culling.ErrNoFolderLoaded):
		WriteAPIError(w, http.StatusConflict, "no_folder", err.Error())
	case errors.Is(err, culling.ErrImageNotFound):
		WriteAPIError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// parseFilter builds an ImageFilter from query parameters, or nil when no
// filter parameter is present.
func parseFilter(r *http.Request) (*models.ImageFilter, error) {
	q := r.URL.Query()
	if len(q) == 0 {
		return nil, nil
	}

	filter := &models.ImageFilter{}
	any := false

	if v := q.Get("min_rating"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New("min_rating must be an integer")
		}
		filter.MinRating = &n
		any = true
	}
	if v := q.Get("max_rating"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New("max_rating must be an integer")
		}
		filter.MaxRating = &n
		any = true
	}
	if v := q.Get("min_sharpness"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.New("min_sharpness must be a number")
		}
		filter.MinSharpness = &f
		any = true
	}
	if q.Get("eyes_open") == "true" {
		filter.EyesOpenOnly = true
		any = true
	}
	if q.Get("analyzed") == "true" {
		filter.AnalyzedOnly = true
		any = true
	}
	if q.Get("raw") == "true" {
		filter.RawOnly = true
		any = true
	}
	if q.Get("sidecar") == "true" {
		filter.SidecarOnly = true
		any = true
	}
	if v := q.Get("formats"); v != "" {
		filter.IncludeFormats = strings.Split(v, ",")
		any = true
	}
	if v := q.Get("q"); v != "" {
		filter.SearchText = v
		any = true
	}

	if !any {
		return nil, nil
	}
	return filter, nil
}
