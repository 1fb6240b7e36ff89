package recorder

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ServerError is the error a request root fails with when the handler
// answers with a 5xx status.
type ServerError struct {
	Status int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server responded %d", e.Status)
}

// Middleware tracks every request passing through it. It must be mounted
// on a chi router so the matched route pattern is known once the handler
// returns; unmatched requests are grouped under "METHOD <unmatched>".
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		unit := Request(req.Method+" "+req.URL.Path, "")

		_ = r.Track(req.Context(), unit, func(ctx context.Context) error {
			next.ServeHTTP(ww, req.WithContext(ctx))

			route := req.Method + " <unmatched>"
			if rctx := chi.RouteContext(ctx); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = req.Method + " " + pattern
				}
			}
			r.SetTarget(ctx, route)

			if status := ww.Status(); status >= http.StatusInternalServerError {
				return &ServerError{Status: status}
			}
			return nil
		})
	})
}
