package devserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mailsync/mailsync/pkg/api"
	"github.com/mailsync/mailsync/pkg/telemetry"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Server serves the remote resource API from an in-memory Store.
type Server struct {
	store   *Store
	apiKey  string
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	router  chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithAPIKey requires "Authorization: Bearer <key>" on every resource route.
// Without it the server accepts any request.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithLogger sets the access logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics counts requests and exposes the registry on /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithStore serves an existing store.
func WithStore(store *Store) Option {
	return func(s *Server) { s.store = store }
}

// New builds the router, middlewares and routes.
func New(opts ...Option) *Server {
	s := &Server{
		store:  NewStore(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route(api.Version, func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/endpoints", s.listEndpoints)
		r.Post("/endpoints", s.createEndpoint)
		r.Put("/endpoints/{id}", s.updateEndpoint)
		r.Delete("/endpoints/{id}", s.deleteEndpoint)

		r.Get("/domains", s.listDomains)
		r.Post("/domains/{domain}/catch-all", s.createCatchAll)
		r.Put("/domains/{domain}/catch-all", s.updateCatchAll)
		r.Delete("/domains/{domain}/catch-all", s.deleteCatchAll)

		r.Get("/email-addresses", s.listEmailAddresses)
		r.Post("/email-addresses", s.createEmailAddress)
		r.Put("/email-addresses/{id}", s.updateEmailAddress)
		r.Delete("/email-addresses/{id}", s.deleteEmailAddress)
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Store returns the state behind the server.
func (s *Server) Store() *Store {
	return s.store
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("dev server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("dev server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// statusWriter captures the status code and bytes written.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// accessLog logs one line per request and counts it.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w}

		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Int("bytes", ww.bytes).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http_request")

		if s.metrics != nil {
			s.metrics.RecordRequest(r.Method, ww.status)
		}
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listEndpoints(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.ListResponse[api.Endpoint]{Data: s.store.Endpoints()})
}

func (s *Server) createEndpoint(w http.ResponseWriter, r *http.Request) {
	var req api.EndpointRequest
	if !decode(w, r, &req) {
		return
	}
	ep, err := s.store.CreateEndpoint(req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ep)
}

func (s *Server) updateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req api.EndpointRequest
	if !decode(w, r, &req) {
		return
	}
	ep, err := s.store.UpdateEndpoint(chi.URLParam(r, "id"), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) deleteEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteEndpoint(chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listDomains(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.ListResponse[api.Domain]{Data: s.store.Domains()})
}

func (s *Server) createCatchAll(w http.ResponseWriter, r *http.Request) {
	var req api.CatchAllRequest
	if !decode(w, r, &req) {
		return
	}
	dom, err := s.store.CreateCatchAll(chi.URLParam(r, "domain"), req.Route)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dom)
}

func (s *Server) updateCatchAll(w http.ResponseWriter, r *http.Request) {
	var req api.CatchAllRequest
	if !decode(w, r, &req) {
		return
	}
	dom, err := s.store.UpdateCatchAll(chi.URLParam(r, "domain"), req.Route)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dom)
}

func (s *Server) deleteCatchAll(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCatchAll(chi.URLParam(r, "domain")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listEmailAddresses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.ListResponse[api.EmailAddress]{Data: s.store.EmailAddresses()})
}

func (s *Server) createEmailAddress(w http.ResponseWriter, r *http.Request) {
	var req api.EmailAddressRequest
	if !decode(w, r, &req) {
		return
	}
	addr, err := s.store.CreateEmailAddress(req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, addr)
}

func (s *Server) updateEmailAddress(w http.ResponseWriter, r *http.Request) {
	var req api.EmailAddressRequest
	if !decode(w, r, &req) {
		return
	}
	addr, err := s.store.UpdateEmailAddress(chi.URLParam(r, "id"), req.Route)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

func (s *Server) deleteEmailAddress(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteEmailAddress(chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errInvalid):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
