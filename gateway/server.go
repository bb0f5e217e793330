package main

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parleyhq/parley/internal/adapters/events"
	"github.com/parleyhq/parley/internal/adapters/metrics"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/pkg/otel"
)

const readTimeout = 30 * time.Second

func newRouter(cfg *config.Config, fab fabricService, agents agentService, broadcaster *events.Broadcaster) chi.Router {
	r := chi.NewRouter()
	r.Use(otel.Middleware("parley-gateway"))
	r.Use(recovery)
	r.Use(requestLogger)
	r.Use(cors(cfg.Gateway.CORSOrigins))

	h := &handlers{
		cfg:    cfg,
		fab:    fab,
		agents: agents,
		events: broadcaster,
	}

	r.Get("/", h.index)
	r.Get("/api/token", h.token)
	r.Post("/api/dispatch-agent", h.dispatchAgent)
	r.Handle("/api/v1/*", newAgentProxy(cfg.Agent.ServiceURL, broadcaster))
	r.Get("/api/events", broadcaster.Handler())
	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// newServer wires the router into an http.Server bound per config.
func newServer(cfg *config.Config, router chi.Router) *http.Server {
	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	return &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: readTimeout,
		// WriteTimeout stays zero: the proxy and event feed hold
		// long-lived streams.
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		duration := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())
		slog.Info("http request", "method", r.Method, "path", r.URL.Path, "status", sw.status, "duration", duration)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func cors(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")

	isAllowed := func(origin string) bool {
		if allowAll {
			return true
		}
		for _, o := range allowedOrigins {
			if o == origin {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case origin != "" && isAllowed(origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
