package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"salesync/internal/config"
	"salesync/internal/database"
	"salesync/internal/metrics"
	"salesync/internal/models"
	"salesync/internal/service"
	"salesync/internal/worker"

	"github.com/rs/zerolog"
)

type SaleConfirmer interface {
	ConfirmSale(ctx context.Context, rec *models.PendingSaleRecord) (*service.Confirmation, error)
	PendingCount(ctx context.Context) (int, error)
}

type SyncController interface {
	TriggerNow(ctx context.Context) (worker.DrainResult, error)
	Snapshot() worker.SchedulerSnapshot
}

type ConnectivityController interface {
	SetOnline(ctx context.Context, online bool) error
	Online() bool
}

type StatusSource interface {
	Last() (models.StatusEvent, bool)
}

const (
	routeSales        = "/api/v1/sales"
	routePending      = "/api/v1/sync/pending"
	routeSyncNow      = "/api/v1/sync/now"
	routeStatus       = "/api/v1/sync/status"
	routeConnectivity = "/api/v1/connectivity"
	routeHealth       = "/healthz"

	// unknown paths share one metrics label
	routeOther = "other"
)

var knownRoutes = map[string]struct{}{
	routeSales:        {},
	routePending:      {},
	routeSyncNow:      {},
	routeStatus:       {},
	routeConnectivity: {},
	routeHealth:       {},
}

func endpointLabel(path string) string {
	if _, ok := knownRoutes[path]; ok {
		return path
	}
	return routeOther
}

// Deps are the collaborators behind the HTTP API.
type Deps struct {
	Sales        SaleConfirmer
	Sync         SyncController
	Connectivity ConnectivityController
	Status       StatusSource
	Health       func(ctx context.Context) error
}

// HTTPServer exposes the sale intake and sync control endpoints.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{cfg: cfg, deps: deps, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	api := http.NewServeMux()
	api.HandleFunc(routeSales, srv.handleSales)
	api.HandleFunc(routePending, srv.handlePending)
	api.HandleFunc(routeSyncNow, srv.handleSyncNow)
	api.HandleFunc(routeStatus, srv.handleStatus)
	api.HandleFunc(routeConnectivity, srv.handleConnectivity)

	root := http.NewServeMux()
	root.HandleFunc(routeHealth, srv.handleHealth)
	root.Handle("/", srv.auth.Wrap(api))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(root),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// Handler returns the root handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var rec models.PendingSaleRecord
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conf, err := s.deps.Sales.ConfirmSale(r.Context(), &rec)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidSale):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, database.ErrDuplicateKey):
		writeError(w, http.StatusConflict, "sale already exists")
		return
	default:
		writeError(w, http.StatusServiceUnavailable, "sale was not saved")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id_global": conf.Record.IDGlobal,
		"total_usd": conf.Event.Payload.TotalUSD,
		"total_bs":  conf.Event.Payload.TotalBs,
	})
}

func (s *HTTPServer) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	n, err := s.deps.Sales.PendingCount(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": n})
}

func (s *HTTPServer) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	res, err := s.deps.Sync.TriggerNow(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error(), "result": res})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := map[string]any{
		"online":    s.deps.Connectivity.Online(),
		"scheduler": s.deps.Sync.Snapshot(),
	}
	if n, err := s.deps.Sales.PendingCount(r.Context()); err == nil {
		resp["pending"] = n
	}
	if s.deps.Status != nil {
		if last, ok := s.deps.Status.Last(); ok {
			resp["last"] = last
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}

	if err := s.deps.Connectivity.SetOnline(r.Context(), *body.Online); err != nil {
		s.logger.Error().Err(err).Msg("Connectivity transition failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"online": s.deps.Connectivity.Online()})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	keys    *keyChecker
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{
		cfg:     cfg,
		keys:    newKeyChecker(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || !a.cfg.HTTP.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			err := a.keys.check(
				strings.TrimSpace(r.Header.Get(a.keys.headerKey)),
				strings.TrimSpace(r.Header.Get(a.keys.headerExtra)),
				requiredPermissionHTTP(r),
			)
			if err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requiredPermissionHTTP(r *http.Request) string {
	switch {
	case r.URL.Path == routeSales:
		return PermWriteSales
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/v1/sync"):
		return PermReadSync
	case r.URL.Path == routeSyncNow, r.URL.Path == routeConnectivity:
		return PermWriteSync
	default:
		return ""
	}
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.keys.headerKey)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.IncHTTP(endpointLabel(r.URL.Path))
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
