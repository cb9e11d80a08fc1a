package handler

import (
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"socialgraph/internal/httputil"
	"socialgraph/internal/model"
	"socialgraph/internal/service"
	"socialgraph/internal/transport/http/middleware"
)

type PostHandler struct {
	postService  *service.PostService
	mediaService *service.MediaService
}

func NewPostHandler(postService *service.PostService, mediaService *service.MediaService) *PostHandler {
	return &PostHandler{
		postService:  postService,
		mediaService: mediaService,
	}
}

// Create handles POST /posts
// Accepts JSON {content, tags, media_refs} or a multipart form with "content", a comma
// separated "tags" field and up to five "media" files.
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req model.CreatePostRequest
	var uploaded []string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		parsed, err := h.parseMultipartPost(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		req = *parsed
		uploaded = parsed.MediaRefs
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	post, err := h.postService.CreatePost(r.Context(), userID, req)
	if err != nil {
		// Files uploaded with this form belong to no post now.
		h.mediaService.DiscardPostMedia(r.Context(), uploaded...)
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, post)
}

func (h *PostHandler) parseMultipartPost(w http.ResponseWriter, r *http.Request) (*model.CreatePostRequest, error) {
	maxBody := int64(model.MaxPostMediaCount*model.MaxPostMediaSizeBytes) + 1<<20
	if err := parseMultipart(w, r, maxBody); err != nil {
		return nil, err
	}

	req := &model.CreatePostRequest{
		Content:   r.FormValue("content"),
		Tags:      model.ParseTags(r.FormValue("tags")),
		MediaRefs: []string{},
	}

	files, err := formFiles(r, "media", model.MaxPostMediaSizeBytes)
	if err != nil {
		return nil, err
	}
	if len(files) > model.MaxPostMediaCount {
		return nil, model.ErrTooManyMedia
	}
	for _, f := range files {
		res, err := h.mediaService.UploadPostMedia(r.Context(), f.data, f.contentType)
		if err != nil {
			h.mediaService.DiscardPostMedia(r.Context(), req.MediaRefs...)
			return nil, err
		}
		req.MediaRefs = append(req.MediaRefs, res.Ref)
	}
	return req, nil
}

// GetByID handles GET /posts/{id}
// Returns a single post with its author and comments.
func (h *PostHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := middleware.GetUserIDFromContext(r.Context())
	post, err := h.postService.GetPost(r.Context(), chi.URLParam(r, "id"), viewerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, post)
}

// ToggleLike handles POST /posts/{id}/like
func (h *PostHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	result, err := h.postService.ToggleLike(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// Delete handles DELETE /posts/{id}
// Only the author can delete. Comments are kept.
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.postService.DeletePost(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Post deleted successfully",
	})
}
