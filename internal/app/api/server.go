// Package api serves the read side of the pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/xerrors"

	"github.com/ghalamif/proxyscope/internal/domain"
)

const (
	DefaultStreamInterval = 2 * time.Second
	shutdownTimeout       = 5 * time.Second
	writeTimeout          = 5 * time.Second
)

// Snapshotter is the read path the server exposes.
type Snapshotter interface {
	BuildSnapshot(ctx context.Context) domain.SystemSnapshot
	History(ctx context.Context, port int, limit int) ([]domain.TrafficSample, error)
}

type Options struct {
	Logger   slog.Logger
	Clock    quartz.Clock
	Gatherer prometheus.Gatherer
	// StreamInterval is the period between snapshots pushed to /api/stream.
	StreamInterval time.Duration
}

type Server struct {
	snap     Snapshotter
	logger   slog.Logger
	clock    quartz.Clock
	gatherer prometheus.Gatherer
	interval time.Duration
	upgrader websocket.Upgrader
}

func New(snap Snapshotter, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = DefaultStreamInterval
	}
	return &Server{
		snap:     snap,
		logger:   opts.Logger,
		clock:    opts.Clock,
		gatherer: opts.Gatherer,
		interval: opts.StreamInterval,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/snapshot", s.getSnapshot)
		r.Get("/history/", s.getHistory)
		r.Get("/history/{port}", s.getHistory)
		r.Get("/stream", s.stream)
	})
	return r
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return xerrors.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.logger.Info(ctx, "read api listening", slog.F("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		return xerrors.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return xerrors.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return xerrors.Errorf("serve: %w", err)
	}
	return nil
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snap.BuildSnapshot(r.Context()))
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "port")
	if raw == "" {
		writeJSON(w, http.StatusOK, []domain.TrafficSample{})
		return
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "port must be an integer")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	samples, err := s.snap.History(r.Context(), port, limit)
	if err != nil {
		s.logger.Error(r.Context(), "read history", slog.F("port", port), slog.Error(err))
		writeError(w, http.StatusServiceUnavailable, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

// stream pushes a snapshot right away and then every interval until the
// client goes away.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug(r.Context(), "websocket upgrade failed", slog.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reading is required to notice close frames.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func() error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(s.snap.BuildSnapshot(ctx))
	}
	if err := send(); err != nil {
		return
	}

	ticker := s.clock.NewTicker(s.interval, "api", "stream")
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case <-ticker.C:
			if err := send(); err != nil {
				s.logger.Debug(ctx, "websocket write failed", slog.Error(err))
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
