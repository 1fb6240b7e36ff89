package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"perftrail/internal/recorder"
)

// SetupRouter creates and configures the HTTP router. When rec is set every
// request served is recorded as a trace of its own.
func SetupRouter(handler *Handler, rec *recorder.Recorder) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if rec != nil {
		r.Use(rec.Middleware)
	}

	handler.RegisterRoutes(r)

	return r
}
