package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"socialgraph/internal/cache"
	"socialgraph/internal/handler"
	"socialgraph/internal/httputil"
	authmw "socialgraph/internal/transport/http/middleware"
)

// RouterConfig holds the dependencies needed to create routes
type RouterConfig struct {
	UserHandler         *handler.UserHandler
	FollowHandler       *handler.FollowHandler
	FeedHandler         *handler.FeedHandler
	PostHandler         *handler.PostHandler
	CommentHandler      *handler.CommentHandler
	MediaHandler        *handler.MediaHandler
	NotificationHandler *handler.NotificationHandler

	JWTSecret      string
	RequestTimeout time.Duration

	// Idempotency is nil when Redis is not configured.
	Idempotency    cache.IdempotencyStore
	IdempotencyTTL time.Duration

	// UploadsDir and UploadsPrefix serve the local media driver. Empty disables it.
	UploadsDir    string
	UploadsPrefix string
}

// NewRouter creates and configures a new Chi router with all route groups
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(authmw.RequestLogger)
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	if cfg.UploadsDir != "" && cfg.UploadsPrefix != "" {
		prefix := "/" + strings.Trim(cfg.UploadsPrefix, "/")
		r.Handle(prefix+"/*", http.StripPrefix(prefix+"/", http.FileServer(http.Dir(cfg.UploadsDir))))
	}

	idempotent := authmw.Idempotency(cfg.Idempotency, cfg.IdempotencyTTL)

	// Public routes
	r.Post("/users", cfg.UserHandler.Create)
	r.Get("/users/search", cfg.UserHandler.Search)

	r.Get("/posts", cfg.FeedHandler.Feed)
	r.Get("/posts/trending", cfg.FeedHandler.Trending)
	r.Get("/posts/tag/{tag}", cfg.FeedHandler.ByTag)
	r.Get("/posts/{id}/comments", cfg.CommentHandler.List)

	// Public reads that add viewer flags when a token is present
	r.Group(func(r chi.Router) {
		r.Use(authmw.OptionalAuthMiddleware(cfg.JWTSecret))

		r.Get("/users/{id}", cfg.UserHandler.GetProfile)
		r.Get("/posts/{id}", cfg.PostHandler.GetByID)
	})

	// Protected routes - require authentication
	r.Group(func(r chi.Router) {
		r.Use(authmw.AuthMiddleware(cfg.JWTSecret))
		r.Use(idempotent)

		r.Put("/users/me/avatar", cfg.UserHandler.ReplaceAvatar)
		r.Put("/users/{id}", cfg.UserHandler.Update)
		r.Post("/users/{id}/follow", cfg.FollowHandler.Toggle)

		r.Post("/posts", cfg.PostHandler.Create)
		r.Post("/posts/{id}/like", cfg.PostHandler.ToggleLike)
		r.Delete("/posts/{id}", cfg.PostHandler.Delete)
		r.Post("/posts/{id}/comments", cfg.CommentHandler.Create)
		r.Delete("/comments/{id}", cfg.CommentHandler.Delete)

		r.Post("/media", cfg.MediaHandler.Upload)

		r.Get("/feed/home", cfg.FeedHandler.Home)

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", cfg.NotificationHandler.List)
			r.Get("/unread-count", cfg.NotificationHandler.UnreadCount)
			r.Patch("/{id}/read", cfg.NotificationHandler.MarkRead)
			r.Post("/read-all", cfg.NotificationHandler.MarkAllRead)
		})
	})

	return r
}
