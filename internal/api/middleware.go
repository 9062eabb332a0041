package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"
)

// LoggingMiddleware logs method, uri, duration and response code of every request.
// Failures are logged at warn level.
func LoggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			respWriter := newResponseWriter(w)
			handler.ServeHTTP(respWriter, req)

			level := slog.LevelDebug
			if respWriter.statusCode >= http.StatusBadRequest {
				level = slog.LevelWarn
			}
			logger.Log(req.Context(), level, "api",
				"method", req.Method,
				"uri", req.RequestURI,
				"client_ip", req.RemoteAddr,
				"duration", time.Since(start),
				"response_code", respWriter.statusCode)
		})
	}
}

// MetricsMiddleware records request metrics labelled by route name
func MetricsMiddleware(mdlw middleware.Middleware) mux.MiddlewareFunc {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			handlerID := req.URL.Path
			if route := mux.CurrentRoute(req); route != nil && route.GetName() != "" {
				handlerID = route.GetName()
			}
			std.Handler(handlerID, mdlw, handler).ServeHTTP(w, req)
		})
	}
}

// responseWriter is a wrapper around http.ResponseWriter and helps capture the response code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{w, http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
