// Package msgserver is the reference message collaborator: the REST and push
// surface over a msgdb.Store.
package msgserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tOgg1/casechat/internal/logging"
	"github.com/tOgg1/casechat/internal/msgapi"
	"github.com/tOgg1/casechat/internal/msgdb"
)

const (
	// DefaultHost is the default listen host.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the default listen port.
	DefaultPort = 8470

	shutdownTimeout = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	// Hostname and Port form the listen address.
	Hostname string
	Port     int

	// Registry receives the HTTP metrics and is served on /metrics.
	// Default: a fresh registry.
	Registry *prometheus.Registry
}

// Server serves a msgdb.Store over HTTP.
type Server struct {
	store    *msgdb.Store
	opts     Options
	push     *pushHub
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	logger   zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New creates a server over store.
func New(store *msgdb.Store, opts Options) *Server {
	if opts.Hostname == "" {
		opts.Hostname = DefaultHost
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		store:    store,
		opts:     opts,
		push:     newPushHub(),
		registry: opts.Registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casechat", Subsystem: "msgserver", Name: "requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "casechat", Subsystem: "msgserver", Name: "request_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		logger: logging.Component("msgserver"),
	}
	s.registry.MustRegister(s.requests, s.latency,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "casechat", Subsystem: "msgserver", Name: "push_connections",
			Help: "Open push websocket connections.",
		}, func() float64 { return float64(s.push.connections()) }))
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.Hostname, strconv.Itoa(s.opts.Port))
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestID, s.instrument)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/messages", s.withView(s.listMessages)).Methods(http.MethodGet)
	v1.HandleFunc("/messages", s.withView(s.createMessage)).Methods(http.MethodPost)
	v1.HandleFunc("/messages/modified", s.withView(s.listModified)).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id:[0-9]+}", s.withView(s.getMessage)).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id:[0-9]+}", s.withView(s.updateMessage)).Methods(http.MethodPatch)
	v1.HandleFunc("/messages/{id:[0-9]+}", s.withView(s.deleteMessage)).Methods(http.MethodDelete)
	v1.HandleFunc("/chats/read", s.withView(s.markRead)).Methods(http.MethodPost)
	v1.HandleFunc("/unread", s.withView(s.unread)).Methods(http.MethodGet)
	v1.HandleFunc("/teams", s.withView(s.listTeams)).Methods(http.MethodGet)
	v1.HandleFunc("/teams", s.withView(s.createTeam)).Methods(http.MethodPost)
	v1.HandleFunc("/teams/{id:[0-9]+}", s.withView(s.updateTeam)).Methods(http.MethodPut)
	v1.HandleFunc("/push", s.handlePush).Methods(http.MethodGet)

	// Middleware only runs on matched routes.
	r.NotFoundHandler = s.requestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "route not found")
	}))
	r.MethodNotAllowedHandler = s.requestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}))
	return r
}

// Start runs the push hub. Serve and Run call it.
func (s *Server) Start(ctx context.Context) {
	go s.push.run(ctx)
}

// Run listens on Addr and serves until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	s.Start(hubCtx)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", listener.Addr().String()).Msg("message server listening")
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("message server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// ListenAddr returns the bound address once serving.
func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(msgapi.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(msgapi.HeaderRequestID, id)
		logger := s.logger.With().Str("request_id", id).Logger()
		next.ServeHTTP(w, r.WithContext(logging.WithContext(r.Context(), logger)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		s.requests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		s.latency.WithLabelValues(route).Observe(elapsed.Seconds())
		logger := logging.FromContext(r.Context())
		logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Interface("headers", logging.RedactHeaders(r.Header)).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
