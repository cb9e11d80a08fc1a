package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"socialgraph/internal/httputil"
	"socialgraph/internal/service"
)

type FollowHandler struct {
	followService *service.FollowService
}

func NewFollowHandler(followService *service.FollowService) *FollowHandler {
	return &FollowHandler{
		followService: followService,
	}
}

// Toggle handles POST /users/{id}/follow
// Follows the user, or unfollows when already following. Returns {"following": bool}.
func (h *FollowHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	followerID, ok := requireUser(w, r)
	if !ok {
		return
	}

	result, err := h.followService.ToggleFollow(r.Context(), followerID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
