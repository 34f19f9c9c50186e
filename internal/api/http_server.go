package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"therapycore/internal/config"
	"therapycore/internal/domain"
	"therapycore/internal/logging"
	"therapycore/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HTTPServer exposes the REST binding under /api/v1.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    *Services
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc *Services, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:    cfg,
		svc:    svc,
		auth:   NewHTTPAuth(cfg),
		logger: logging.Component(logger, "http"),
	}

	srv.handle(mux, "GET /healthz", srv.handleHealthz)

	srv.handle(mux, "POST /api/v1/applications", srv.handleSubmitApplication)
	srv.handle(mux, "GET /api/v1/applications", srv.handleListApplications)
	srv.handle(mux, "GET /api/v1/applications/me", srv.handleMyApplication)
	srv.handle(mux, "GET /api/v1/applications/{id}", srv.handleGetApplication)
	srv.handle(mux, "POST /api/v1/applications/{id}/review", srv.handleReviewApplication)

	srv.handle(mux, "GET /api/v1/providers", srv.handleListProviders)
	srv.handle(mux, "GET /api/v1/providers/{id}", srv.handleGetProvider)
	srv.handle(mux, "PATCH /api/v1/providers/{id}", srv.handleUpdateProvider)
	srv.handle(mux, "GET /api/v1/providers/{id}/windows", srv.handleListWindows)
	srv.handle(mux, "PUT /api/v1/providers/{id}/windows", srv.handleSetWindow)
	srv.handle(mux, "GET /api/v1/providers/{id}/slots", srv.handleFreeSlots)
	srv.handle(mux, "GET /api/v1/providers/{id}/appointments", srv.handleProviderAppointments)
	srv.handle(mux, "GET /api/v1/providers/{id}/balance", srv.handleBalance)
	srv.handle(mux, "GET /api/v1/providers/{id}/ledger", srv.handleLedgerEntries)
	srv.handle(mux, "POST /api/v1/providers/{id}/withdrawals", srv.handleWithdrawal)
	srv.handle(mux, "GET /api/v1/providers/{id}/statement", srv.handleStatement)

	srv.handle(mux, "GET /api/v1/windows/{id}", srv.handleGetWindow)
	srv.handle(mux, "DELETE /api/v1/windows/{id}", srv.handleRemoveWindow)
	srv.handle(mux, "POST /api/v1/windows/{id}/toggle", srv.handleToggleWindow)

	srv.handle(mux, "POST /api/v1/appointments", srv.handleBook)
	srv.handle(mux, "GET /api/v1/appointments", srv.handleMyAppointments)
	srv.handle(mux, "GET /api/v1/appointments/{id}", srv.handleGetAppointment)
	srv.handle(mux, "POST /api/v1/appointments/{id}/cancel", srv.handleCancel)
	srv.handle(mux, "POST /api/v1/appointments/{id}/complete", srv.handleComplete)

	srv.handle(mux, "POST /api/v1/ledger/earnings", srv.handleRecordEarning)
	srv.handle(mux, "POST /api/v1/ledger/entries/{id}/settle", srv.handleSettle)
	srv.handle(mux, "POST /api/v1/ledger/entries/{id}/void", srv.handleVoid)

	srv.handle(mux, "GET /api/v1/admin/sync/dead-letters", srv.handleDeadLetters)

	handler := srv.requestIDMiddleware(srv.loggingMiddleware(srv.auth.Wrap(mux)))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// handle registers a route and tags the response recorder with its pattern.
func (s *HTTPServer) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if rec, ok := w.(*statusRecorder); ok {
			rec.endpoint = r.Pattern
		}
		h(w, r)
	})
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg  config.APIConfig
	auth *authenticator
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{cfg: cfg, auth: newAuthenticator(&cfg)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := strings.TrimSpace(r.Header.Get(a.auth.apiKeyHeader()))
		caller, err := a.auth.authenticate(
			apiKey,
			strings.TrimSpace(r.Header.Get(a.auth.extraHeader())),
			strings.TrimSpace(r.Header.Get(a.auth.userIDHeader())),
		)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error(), Code: "unauthenticated"})
			return
		}

		if !a.auth.allow(a.clientKey(apiKey, r)) {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errRateLimited.Error(), Code: "rate_limited"})
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func (a *HTTPAuth) clientKey(apiKey string, r *http.Request) string {
	if apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

const requestIDHeader = "X-Request-ID"

func (s *HTTPServer) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		l := s.logger.With().Str(logging.FieldRequestID, requestID).Logger()
		next.ServeHTTP(w, r.WithContext(l.WithContext(r.Context())))
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := recorder.endpoint
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint, strconv.Itoa(recorder.status))

		l := zerolog.Ctx(r.Context())
		ev := l.Info()
		if recorder.status >= http.StatusInternalServerError {
			ev = l.Error()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders a service error with its stable code.
func writeError(w http.ResponseWriter, err error) {
	statusCode := httpStatus(err)
	msg := err.Error()
	if statusCode == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, statusCode, errorBody{Error: msg, Code: domain.Code(err)})
}

func decodeBody(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", domain.ErrInvalidInput, name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", domain.ErrInvalidInput, name)
	}
	return v, nil
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, name)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid %s; expected RFC3339 or YYYY-MM-DD", domain.ErrInvalidInput, name)
	}
	return t, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status   int
	endpoint string
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
