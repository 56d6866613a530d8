package handlers

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ThumbnailServer serves generated thumbnails out of the loaded folder's
// thumbnail subdirectory. Path traversal outside the directory is rejected.
func (h *CullingHandler) ThumbnailServer(thumbSubDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		folder := h.Service.FolderPath()
		if folder == "" {
			WriteAPIError(w, http.StatusConflict, "no_folder", "no folder loaded")
			return
		}

		name := chi.URLParam(r, "*")
		if name == "" || strings.Contains(name, "..") {
			WriteAPIError(w, http.StatusBadRequest, "invalid_path", "invalid thumbnail path")
			return
		}

		thumbDir := filepath.Join(folder, thumbSubDir)
		full := filepath.Join(thumbDir, filepath.Clean("/"+name))
		if !strings.HasPrefix(full, thumbDir+string(filepath.Separator)) {
			WriteAPIError(w, http.StatusBadRequest, "invalid_path", "invalid thumbnail path")
			return
		}
		http.ServeFile(w, r, full)
	}
}
