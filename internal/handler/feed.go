package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"socialgraph/internal/httputil"
	"socialgraph/internal/service"
)

type FeedHandler struct {
	feedService *service.FeedService
}

func NewFeedHandler(feedService *service.FeedService) *FeedHandler {
	return &FeedHandler{
		feedService: feedService,
	}
}

// Feed handles GET /posts?page=&limit=
// Every post, newest first.
func (h *FeedHandler) Feed(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pagination(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := h.feedService.Feed(r.Context(), page, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Home handles GET /feed/home?page=&limit=
// Posts by followed users and the caller.
func (h *FeedHandler) Home(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	page, limit, err := pagination(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := h.feedService.HomeFeed(r.Context(), userID, page, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Trending handles GET /posts/trending?limit=
func (h *FeedHandler) Trending(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}

	posts, err := h.feedService.Trending(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, posts)
}

// ByTag handles GET /posts/tag/{tag}
func (h *FeedHandler) ByTag(w http.ResponseWriter, r *http.Request) {
	posts, err := h.feedService.ByTag(r.Context(), chi.URLParam(r, "tag"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, posts)
}
