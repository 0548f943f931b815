// Package middleware wraps the replicawatch HTTP routes.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RequestIDHeader carries the request ID in both directions
const RequestIDHeader = "X-Request-ID"

const eventStreamType = "text/event-stream"

// RequestID tags every request with an ID, reusing the caller's when sent.
// The ID is written back on the request so handlers and the error writer see it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// Logging writes one log line per request. Progress streams are logged when
// they close, with the number of events flushed to the client.
func Logging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newRecorder(w)

			next.ServeHTTP(rec, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", routeName(r)),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", r.Header.Get(RequestIDHeader)),
			}
			if rec.streaming() {
				logger.Info("Progress stream closed", append(fields,
					zap.Int("events", rec.flushes),
					zap.Bool("client_gone", r.Context().Err() != nil))...)
				return
			}

			fields = append(fields,
				zap.String("query", r.URL.RawQuery),
				zap.Int("bytes", rec.bytes),
				zap.String("remote_addr", r.RemoteAddr))
			if rec.status >= http.StatusInternalServerError {
				logger.Warn("Request failed", fields...)
				return
			}
			logger.Info("Request served", fields...)
		})
	}
}

// routeName prefers the matched mux template so job IDs do not fan out log keys
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// Recovery turns a handler panic into INTERNAL_ERROR. A panic after a progress
// stream has started is only logged: the status line is already sent.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := newRecorder(w)
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("Handler panicked",
					zap.Any("panic", v),
					zap.String("route", routeName(r)),
					zap.String("request_id", r.Header.Get(RequestIDHeader)),
					zap.Bool("response_started", rec.wroteHeader),
					zap.Stack("stack"))
				if !rec.wroteHeader {
					writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

// CORS lets the listed origins call the API. "*" admits any origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && (allowed["*"] || allowed[origin]) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader+", Last-Event-ID")
				h.Set("Access-Control-Expose-Headers", RequestIDHeader)
				h.Set("Access-Control-Max-Age", "86400")
				h.Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter sheds load with a token bucket shared by all clients. Health
// probes bypass it.
type RateLimiter struct {
	limiter *rate.Limiter
	exempt  map[string]bool
	logger  *zap.Logger
}

// NewRateLimiter allows requestsPerSecond with bursts up to burstSize
func NewRateLimiter(requestsPerSecond float64, burstSize int, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burstSize),
		exempt:  map[string]bool{"/health": true, "/ready": true},
		logger:  logger,
	}
}

// Limit rejects requests over the budget with 429 RATE_LIMITED
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.exempt[r.URL.Path] || rl.limiter.Allow() {
			next.ServeHTTP(w, r)
			return
		}

		rl.logger.Warn("Request throttled",
			zap.String("route", routeName(r)),
			zap.String("request_id", r.Header.Get(RequestIDHeader)),
			zap.String("remote_addr", r.RemoteAddr))
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
	})
}

// Chain composes middleware so the first argument runs outermost
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":     "error",
		"error_code": code,
		"message":    message,
	})
}

// recorder notes what a handler sent. It stays an http.Flusher so progress
// events are not held in a buffer.
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	bytes       int
	flushes     int
}

func newRecorder(w http.ResponseWriter) *recorder {
	return &recorder{ResponseWriter: w, status: http.StatusOK}
}

func (rec *recorder) WriteHeader(code int) {
	if !rec.wroteHeader {
		rec.status = code
		rec.wroteHeader = true
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *recorder) Write(b []byte) (int, error) {
	rec.wroteHeader = true
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += n
	return n, err
}

func (rec *recorder) Flush() {
	rec.wroteHeader = true
	rec.flushes++
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rec *recorder) streaming() bool {
	return strings.HasPrefix(rec.Header().Get("Content-Type"), eventStreamType)
}
