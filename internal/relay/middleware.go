package relay

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/zeusync/docsync/internal/core/observability/log"
)

// statusRecorder captures the status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests logs every request of the documents API
func logRequests(logger log.Log) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			fields := []log.Field{
				log.String("method", r.Method),
				log.String("path", r.URL.Path),
				log.Int("status", rec.status),
				log.String("remote_addr", r.RemoteAddr),
				log.Duration("duration", time.Since(start)),
			}
			if rec.status >= http.StatusInternalServerError {
				logger.Error("Request failed", fields...)
			} else {
				logger.Debug("Request handled", fields...)
			}
		})
	}
}

// requireBearer rejects requests without the configured bearer token. An
// empty token disables the check.
func requireBearer(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || got != token {
				writeError(w, http.StatusUnauthorized, ErrUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
