package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/logging"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(logging.ContextWith(r.Context(), "request_id", id))
		}

		next.ServeHTTP(ww, r)

		s.logger.Info(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}
