package orchestratorapi

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/agentic-nwb/orchestrator/internal/logging"
)

// responseWriter wraps http.ResponseWriter to capture the status code
// for the logging middleware, mirroring core.middleware.go's same
// wrapper.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// loggingMiddleware logs every non-2xx or slow (>1s) request, and
// everything at debug level otherwise.
func loggingMiddleware(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			fields := map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.statusCode,
				"duration_ms": duration.Milliseconds(),
				"remote_addr": r.RemoteAddr,
			}

			switch {
			case wrapped.statusCode >= 500:
				logger.Error("http request error", fields)
			case wrapped.statusCode >= 400:
				logger.Warn("http request client error", fields)
			case duration > time.Second:
				logger.Warn("http request slow", fields)
			default:
				logger.Debug("http request", fields)
			}
		})
	}
}

// recoveryMiddleware recovers panics in handlers, logs the stack, and
// returns a 500 instead of crashing the process.
func recoveryMiddleware(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("http handler panic recovered", map[string]interface{}{
						"panic":  fmt.Sprintf("%v", rec),
						"path":   r.URL.Path,
						"method": r.Method,
						"stack":  string(debug.Stack()),
					})
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
