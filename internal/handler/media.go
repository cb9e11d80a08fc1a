package handler

import (
	"fmt"
	"net/http"

	"socialgraph/internal/httputil"
	"socialgraph/internal/model"
	"socialgraph/internal/service"
)

type MediaHandler struct {
	mediaService *service.MediaService
}

func NewMediaHandler(mediaService *service.MediaService) *MediaHandler {
	return &MediaHandler{mediaService: mediaService}
}

// Upload handles POST /media
// Stores one multipart "file" and returns its ref for a later POST /posts.
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	if err := parseMultipart(w, r, int64(model.MaxPostMediaSizeBytes)+1<<20); err != nil {
		writeError(w, r, err)
		return
	}
	files, err := formFiles(r, "file", model.MaxPostMediaSizeBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(files) != 1 {
		writeError(w, r, fmt.Errorf("exactly one file is required: %w", model.ErrValidation))
		return
	}

	result, err := h.mediaService.UploadPostMedia(r.Context(), files[0].data, files[0].contentType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}
