package middleware

import (
	"bytes"
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"socialgraph/internal/cache"
	"socialgraph/internal/httputil"
	"socialgraph/internal/logging"
	"socialgraph/internal/metrics"
)

// IdempotencyKeyHeader names the client-chosen key for a mutating request.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLength = 128

// Idempotency replays the stored response of a mutating request whose key was already
// completed, so a client retry never applies a toggle twice. Requests without the
// header pass through. Keys are scoped by user, method and path. 5xx responses are not
// stored so the request can be retried.
func Idempotency(store cache.IdempotencyStore, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if store == nil || key == "" || !isMutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLength {
				httputil.WriteBadRequest(w, "Idempotency-Key is too long")
				return
			}

			userID, _ := GetUserIDFromContext(r.Context())
			scoped := userID + ":" + r.Method + ":" + r.URL.Path + ":" + key
			log := logging.Component("idempotency")

			reserved, err := store.Reserve(r.Context(), scoped, ttl)
			if err != nil {
				// Without Redis the request still runs, just without replay protection.
				log.Warn().Err(err).Msg("Idempotency store unavailable")
				next.ServeHTTP(w, r)
				return
			}

			if !reserved {
				stored, err := store.Get(r.Context(), scoped)
				if err != nil || stored == nil || stored.Pending {
					httputil.WriteConflict(w, "A request with this Idempotency-Key is in progress")
					return
				}
				metrics.IdempotentReplays.Inc()
				if stored.ContentType != "" {
					w.Header().Set("Content-Type", stored.ContentType)
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Body)
				return
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			var body bytes.Buffer
			ww.Tee(&body)

			// A panicking handler must not leave the key pending until it expires.
			defer func() {
				if rec := recover(); rec != nil {
					if err := store.Release(context.WithoutCancel(r.Context()), scoped); err != nil {
						log.Warn().Err(err).Msg("Failed to release idempotency key")
					}
					panic(rec)
				}
			}()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ctx := context.WithoutCancel(r.Context())
			if status >= http.StatusInternalServerError {
				if err := store.Release(ctx, scoped); err != nil {
					log.Warn().Err(err).Msg("Failed to release idempotency key")
				}
				return
			}
			resp := cache.StoredResponse{
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        body.Bytes(),
			}
			if err := store.Complete(ctx, scoped, resp, ttl); err != nil {
				log.Warn().Err(err).Msg("Failed to store idempotent response")
			}
		})
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
