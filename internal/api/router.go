package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(apiHandler.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Post("/login/demo", apiHandler.DemoLoginHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Get("/roles", apiHandler.RolesHandler)

			r.Group(func(r chi.Router) {
				r.Use(apiHandler.WorkspaceMiddleware)

				r.Route("/conversation", func(r chi.Router) {
					r.Get("/", apiHandler.GetConversationHandler)
					r.Put("/draft", apiHandler.SaveDraftHandler)
					r.Put("/settings", apiHandler.UpdateSettingsHandler)
					r.Put("/attachment", apiHandler.AttachImageHandler)
					r.Delete("/attachment", apiHandler.ClearAttachmentHandler)
					r.Post("/messages", apiHandler.PostMessageHandler)
					r.Post("/role", apiHandler.SelectRoleHandler)
				})

				r.Get("/sessions", apiHandler.ListSessionsHandler)
				r.Post("/sessions", apiHandler.NewSessionHandler)
				r.Post("/sessions/{sessionID}/load", apiHandler.LoadSessionHandler)
				r.Delete("/sessions/{sessionID}", apiHandler.DeleteSessionHandler)
			})
		})
	})

	return r
}

// requestLogger replaces chi's middleware.Logger with structured zap output.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("HTTP request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
