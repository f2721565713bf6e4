package httpapi

import (
	"net/http"
	"time"

	"github.com/KilimcininKorOglu/kurul/internal/logging"
)

// loggingResponseWriter wraps ResponseWriter and captures the status code.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs HTTP requests. Each request is tagged with a
// generated request ID, echoed back in the X-Request-ID header.
func LoggingMiddleware(logger logging.Logger) Middleware {
	apiLogger := logger.WithFields("component", "httpapi")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = logging.GenerateRequestID()
			}
			w.Header().Set("X-Request-ID", requestID)

			wrapped := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			// Health probes are noise at info level.
			if r.URL.Path == "/v1/health" {
				return
			}

			apiLogger.Info("http request",
				"requestId", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start).String(),
				"remoteAddr", r.RemoteAddr,
			)
		})
	}
}

// RecoveryMiddleware recovers from panics.
func RecoveryMiddleware(logger logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
					writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
