package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/crawlhook/crawlhookd/internal/correlation"
	"github.com/crawlhook/crawlhookd/internal/faults"
	"github.com/crawlhook/crawlhookd/internal/telemetry"
)

// handlerFunc is an http.HandlerFunc that may fail. Returned errors
// are classified and converted into structured responses by handle;
// handlers never write error bodies themselves.
type handlerFunc func(http.ResponseWriter, *http.Request) error

// handle is the single choke point for handler failures: classify,
// stamp the correlation id, log once, map kind to a transport status
// and emit the structured body.
func (s *Server) handle(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}
		s.writeFault(w, r, faults.Classify(err, r.Method+" "+r.URL.Path))
	}
}

// recoverMiddleware is the backstop beneath handle: a panic anywhere
// downstream still terminates in a structured response, never a raw
// failure on the transport.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", rec)
				}
				s.writeFault(w, r, faults.Classify(err, r.Method+" "+r.URL.Path))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeFault(w http.ResponseWriter, r *http.Request, rec *faults.Record) {
	rec = rec.WithCorrelation(correlation.FromContext(r.Context()))
	rec.Log(s.logger)
	telemetry.ObserveFailure(string(rec.Kind))
	s.writeJSON(w, s.statuses.StatusFor(rec), rec.ToResponse())
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.String("correlation_id", correlation.FromContext(r.Context())),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				s.writeFault(w, r, faults.NewSecurity(
					"invalid_api_key",
					r.Method+" "+r.URL.Path,
					"requests with a valid API key",
					"missing or invalid API key",
				))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// timeoutMiddleware bounds each request. The timeout body is the wire
// form of a processing fault, rendered per request so the correlation
// id survives even when the transport cuts the handler off.
func (s *Server) timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := faults.NewProcessing(
				"request",
				"http",
				"Retry the request or split it into smaller units of work",
				"request timed out",
			).WithCorrelation(correlation.FromContext(r.Context()))
			body, err := json.Marshal(rec.ToResponse())
			if err != nil {
				s.logger.Error("marshal timeout response failed", zap.Error(err))
			}
			w.Header().Set("Content-Type", "application/json")
			http.TimeoutHandler(next, d, string(body)).ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
