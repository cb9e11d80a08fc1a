package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"socialgraph/internal/httputil"
	"socialgraph/internal/model"
	"socialgraph/internal/service"
	"socialgraph/internal/transport/http/middleware"
)

type UserHandler struct {
	userService *service.UserService
}

func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// Create handles POST /users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.userService.CreateUser(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, user)
}

// Search handles GET /users/search?q=&limit=
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}

	users, err := h.userService.SearchUsers(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, users)
}

// GetProfile handles GET /users/{id}
// Returns the user, resolved followers and following, and their posts.
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := middleware.GetUserIDFromContext(r.Context())
	profile, err := h.userService.Profile(r.Context(), chi.URLParam(r, "id"), viewerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

// Update handles PUT /users/{id}
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req model.UpdateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.userService.UpdateProfile(r.Context(), userID, chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// ReplaceAvatar handles PUT /users/me/avatar with a multipart "avatar" file.
func (h *UserHandler) ReplaceAvatar(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	maxFormSize := int64(model.MaxAvatarSizeBytes) + 1<<20 // allow form overhead
	if err := parseMultipart(w, r, maxFormSize); err != nil {
		writeError(w, r, err)
		return
	}
	files, err := formFiles(r, "avatar", model.MaxAvatarSizeBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(files) != 1 {
		writeError(w, r, fmt.Errorf("exactly one avatar file is required: %w", model.ErrValidation))
		return
	}

	ref, err := h.userService.ReplaceAvatar(r.Context(), userID, files[0].data, files[0].contentType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"avatar_ref": ref})
}
