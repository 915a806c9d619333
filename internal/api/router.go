package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/metrics"
)

// UserHeader carries the caller's user ID, set by the upstream
// authentication proxy.
const UserHeader = "X-User-ID"

type contextKey struct{}

// NewRouter builds the HTTP surface.
func NewRouter(h *Handler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", UserHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(requireUser)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.AddAccount)
			r.Post("/test", h.TestAccount)
			r.Delete("/{id}", h.DeleteAccount)
			r.Post("/{id}/sync", h.SyncAccount)
			r.Get("/{id}/unread", h.UnreadCount)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Post("/configs", h.AddConfig)
			r.Post("/configs/test", h.TestConfig)
			r.Put("/configs/{id}", h.UpdateConfig)
			r.Delete("/configs/{id}", h.DeleteConfig)
			r.Post("/test", h.SendTest)
			r.Get("/stats", h.Stats)
			r.Get("/options", h.Options)
		})
	})

	return r
}

// requireUser rejects requests without a caller identity.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			writeMessage(w, http.StatusUnauthorized, "missing "+UserHeader+" header", "")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, userID)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(contextKey{}).(string)
	return id
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
