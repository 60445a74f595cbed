package httpserver

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"pdl_sync/internal/adapters/observability"
)

func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return http.TimeoutHandler(next, d, "timeout") }
}

// quietPaths are polled by orchestration and scrapers; they get metrics but
// no access line.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// ---- status-recording ResponseWriter ----

type srw struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *srw) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *srw) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *srw) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// recorder reuses a writer an outer middleware already wrapped.
func recorder(w http.ResponseWriter) *srw {
	if sw, ok := w.(*srw); ok {
		return sw
	}
	return &srw{ResponseWriter: w}
}

func routeOf(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// ---- Metrics middleware ----

func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := recorder(w)
		next.ServeHTTP(sw, r)
		observability.ObserveHTTP(routeOf(r), r.Method, sw.Status(), time.Since(start))
	})
}

// ---- Structured logging middleware ----

// Logger attaches a logger tagged with the chi request id to the request
// context, so service code logging through zerolog.Ctx carries the id, and
// writes one access line per request. Must run after chimw.RequestID.
func Logger(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rl := l
			if id := chimw.GetReqID(r.Context()); id != "" {
				rl = l.With().Str("request_id", id).Logger()
			}
			r = r.WithContext(rl.WithContext(r.Context()))

			start := time.Now()
			sw := recorder(w)
			next.ServeHTTP(sw, r)
			if quietPaths[r.URL.Path] {
				return
			}

			status := sw.Status()
			ev := rl.Info()
			if status >= http.StatusInternalServerError {
				ev = rl.Error()
			}
			ev.Str("route", routeOf(r)).
				Str("method", r.Method).
				Int("status", status).
				Int("bytes", sw.bytes).
				Dur("duration", time.Since(start)).
				Str("remote", remoteHost(r)).
				Str("ua", r.UserAgent()).
				Msg("http_request")
		})
	}
}

// remoteHost strips the port; chimw.RealIP has already applied any
// X-Forwarded-For or X-Real-IP header to RemoteAddr.
func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
