package httpapi

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/lozlokesh-lgtm/taxi/internal/observability"
)

type ctxKey int

const requestIDKey ctxKey = iota

// quietRoutes are polled by health checks and scrapers; their access lines go to debug.
var quietRoutes = map[string]bool{"healthz": true, "ready": true, "metrics": true}

func (s *Server) registerMiddleware() {
	s.mux.Use(s.recoverMiddleware, withRequestID, s.accessLog)
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// accessLog records one metric sample and one log line per routed request,
// tagged with the route name and the session the request acted on.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		name, tmpl := describeRoute(r)
		code := strconv.Itoa(rec.status)
		observability.HTTPRequestsTotal.WithLabelValues(r.Method, tmpl, code).Inc()
		observability.HTTPRequestDuration.WithLabelValues(r.Method, tmpl, code).Observe(elapsed.Seconds())

		level := slog.LevelInfo
		switch {
		case rec.status >= http.StatusInternalServerError:
			level = slog.LevelError
		case quietRoutes[name]:
			level = slog.LevelDebug
		}
		attrs := []slog.Attr{
			slog.String("route_name", name),
			slog.String("method", r.Method),
			slog.String("route", tmpl),
			slog.Int("status", rec.status),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.String("remote_addr", clientIP(r)),
		}
		if id := mux.Vars(r)["id"]; id != "" {
			attrs = append(attrs, slog.String("session_id", id))
		}
		if rid, ok := r.Context().Value(requestIDKey).(string); ok {
			attrs = append(attrs, slog.String("request_id", rid))
		}
		s.logger.LogAttrs(r.Context(), level, "http_request", attrs...)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				name, _ := describeRoute(r)
				s.logger.Error("panic recovered", "route_name", name, "error", v)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// describeRoute returns the mux route name and path template, falling back
// to the raw path for unnamed or unmatched routes.
func describeRoute(r *http.Request) (name, tmpl string) {
	tmpl = r.URL.Path
	route := mux.CurrentRoute(r)
	if route == nil {
		return "unmatched", tmpl
	}
	if t, err := route.GetPathTemplate(); err == nil {
		tmpl = t
	}
	if name = route.GetName(); name == "" {
		name = tmpl
	}
	return name, tmpl
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
