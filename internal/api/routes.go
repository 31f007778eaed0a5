package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xaenox/replydesk/internal/collision"
	"go.uber.org/zap"
)

// MountRoutes registers the claim and reply endpoints on r.
func MountRoutes(r chi.Router, h *Handler) {
	r.Route("/threads/{threadID}", func(r chi.Router) {
		r.Use(WithStaffUser)

		r.Get("/status", h.Status)
		r.Post("/messages/{messageID}/assign", h.Assign)
		r.Delete("/messages/{messageID}/assign", h.Release)
		r.Post("/messages/{messageID}/takeover", h.TakeOver)
		r.Get("/replies", h.ListReplies)
		r.Post("/replies", h.SendReply)
		r.Post("/draft", h.Draft)
	})
}

// NewRouter builds the service's HTTP handler.
func NewRouter(h *Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	MountRoutes(r, h)
	return r
}

// WithStaffUser copies the X-User-ID header into the request context.
func WithStaffUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := r.Header.Get(UserHeader); user != "" {
			r = r.WithContext(collision.WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
