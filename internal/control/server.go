package control

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/usecase"
)

const (
	bodyLimit       = 64 << 10
	shutdownTimeout = 5 * time.Second
)

// Engine is the engine control surface.
type Engine interface {
	ResetCounters(packageID string) error
	Running() bool
	Ticks() int64
}

// Evaluator handles intervention callbacks and reports its state.
type Evaluator interface {
	domain.InterventionHandler
	Snapshot() usecase.Snapshot
}

// ForegroundFeed accepts pushed foreground transitions.
type ForegroundFeed interface {
	Record(pkg string, at time.Time)
}

// Deps are the components the server exposes. Feed and Registry are optional.
type Deps struct {
	Engine    Engine
	Evaluator Evaluator
	Feed      ForegroundFeed
	Store     domain.PolicyStore
	Registry  domain.DaemonRegistry
}

// Server is the local control API.
type Server struct {
	addr   string
	deps   Deps
	router chi.Router
	logger *zap.Logger
	now    func() time.Time
}

// NewServer creates a server listening on addr once Run is called.
func NewServer(addr string, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		addr:   addr,
		deps:   deps,
		logger: logger,
		now:    time.Now,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler (for tests and embedding).
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Get("/intervention", s.handleIntervention)
		r.Post("/intervention/dismiss", s.handleDismiss)
		r.Post("/intervention/password", s.handlePassword)
		r.Post("/intervention/forgot", s.handleForgot)

		r.Post("/policies/{packageID}/reset", s.handleReset)
		r.Post("/foreground", s.handleForeground)
	})
	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on an existing listener until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("control server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("control server shutdown failed", zap.Error(err))
		}
		return ctx.Err()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("control request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Evaluator.Snapshot()
	st := Status{
		Running:      s.deps.Engine.Running(),
		Ticks:        s.deps.Engine.Ticks(),
		Foreground:   snap.Foreground,
		InBackground: snap.InBackground,
		Active:       toIntervention(snap.Active),
		LastTickMs:   snap.LastTick.DurationMs,
		Policies:     []Policy{},
	}
	if !snap.SessionStart.IsZero() {
		start := snap.SessionStart
		st.SessionStart = &start
	}

	if s.deps.Store != nil {
		policies, err := s.deps.Store.Load()
		if err != nil {
			s.writeError(w, err)
			return
		}
		for _, p := range policies {
			st.Policies = append(st.Policies, PolicyView(p))
		}
		if last, err := s.deps.Store.LastResetTime(); err == nil && !last.IsZero() {
			st.LastReset = &last
		}
	}
	if s.deps.Registry != nil {
		if entry, err := s.deps.Registry.GetAll(); err == nil {
			st.Daemons = entry
		}
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleIntervention(w http.ResponseWriter, r *http.Request) {
	iv := s.deps.Evaluator.Active()
	if iv == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toIntervention(iv))
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Evaluator.Dismiss(); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePassword(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[passwordRequest](s, w, r)
	if !ok {
		return
	}
	accepted, err := s.deps.Evaluator.SubmitPassword(req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, passwordResponse{Accepted: accepted})
}

func (s *Server) handleForgot(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Evaluator.ForgotPassword(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, forgotResponse{Redirect: true})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	pkg := chi.URLParam(r, "packageID")
	if strings.TrimSpace(pkg) == "" {
		s.writeError(w, newInvalidRequest("packageID is required"))
		return
	}
	if err := s.deps.Engine.ResetCounters(pkg); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForeground(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feed == nil {
		s.writeError(w, newInvalidRequest("foreground feed is not enabled"))
		return
	}
	req, ok := readJSON[foregroundRequest](s, w, r)
	if !ok {
		return
	}
	at := s.now()
	if req.At != nil {
		at = *req.At
	}
	s.deps.Feed.Record(strings.TrimSpace(req.PackageID), at)
	w.WriteHeader(http.StatusAccepted)
}

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		s.writeError(w, newInvalidRequest("invalid request body"))
		return v, false
	}
	return v, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	apiErr := toAPIError(err)
	if apiErr.Code == CodeInternal {
		s.logger.Error("control request failed", zap.Error(err))
	}
	writeJSON(w, apiErr.Status, apiErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
