package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"shieldtrade/internal/authz"
	"shieldtrade/internal/config"
	"shieldtrade/internal/hmacauth"
	"shieldtrade/internal/offer"
	"shieldtrade/internal/oplog"
)

const requestIDHeader = "X-Request-Id"

// Deps are the collaborators the HTTP surface exposes. RPCHealth and
// StoreHealth are optional.
type Deps struct {
	Session     *offer.Session
	Log         *oplog.Log
	Metrics     *Metrics
	RPCHealth   func(context.Context) error
	StoreHealth func(context.Context) error
	Logger      *zap.Logger
}

type Server struct {
	cfg        *config.AppConfig
	session    *offer.Session
	log        *oplog.Log
	hmac       *hmacauth.Verifier
	metrics    *Metrics
	logger     *zap.Logger
	httpServer *http.Server
	handler    http.Handler

	rpcHealthFn   func(context.Context) error
	storeHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	entries := deps.Log
	if entries == nil {
		entries = oplog.New(oplog.DefaultCapacity)
	}

	s := &Server{
		cfg:     cfg,
		session: deps.Session,
		log:     entries,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		metrics:       metrics,
		logger:        logger,
		rpcHealthFn:   deps.RPCHealth,
		storeHealthFn: deps.StoreHealth,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware, s.accessLog)
	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/offer", s.handleGetOffer)
		api.With(s.hmac.Middleware).Post("/offer", s.handleSetOffer)
		api.Post("/offer/refresh", s.handleRefresh)
		api.With(s.hmac.Middleware).Post("/offer/decrypt", s.handleDecrypt)
		api.Get("/log", s.handleGetLog)
		api.With(s.hmac.Middleware).Delete("/log", s.handleClearLog)
		api.Handle("/metrics", metrics.handler())
		api.Get("/health", s.handleHealth)
	})
	s.handler = r

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() error {
	s.logger.Info("API listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type setOfferRequest struct {
	Pay  *int64 `json:"pay"`
	Recv *int64 `json:"recv"`
}

type operationResponse struct {
	Error string      `json:"error,omitempty"`
	State offer.State `json:"state"`
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handleSetOffer(w http.ResponseWriter, r *http.Request) {
	var payload setOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json payload"})
		return
	}
	if payload.Pay == nil || payload.Recv == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pay and recv are required"})
		return
	}

	err := s.session.SetOffer(detach(r), *payload.Pay, *payload.Recv)
	s.respond(w, "set_offer", err)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.respond(w, "refresh", s.session.Refresh(detach(r)))
}

func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	s.respond(w, "decrypt", s.session.Decrypt(detach(r)))
}

// detach keeps session operations running after the client disconnects.
// Only their results can be dropped.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) respond(w http.ResponseWriter, op string, err error) {
	resp := operationResponse{State: s.session.State()}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		resp.Error = err.Error()
		s.logger.Debug("operation rejected", zap.String("operation", op), zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, resp)
}

// statusFor maps session errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, offer.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, offer.ErrBusy), errors.Is(err, offer.ErrStale):
		return http.StatusConflict
	case errors.Is(err, offer.ErrNotReady),
		errors.Is(err, offer.ErrNotDeployed),
		errors.Is(err, offer.ErrAlreadyDecrypted):
		return http.StatusPreconditionFailed
	case errors.Is(err, authz.ErrUnobtainable):
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.log.Entries())
}

func (s *Server) handleClearLog(w http.ResponseWriter, r *http.Request) {
	s.log.Clear()
	w.WriteHeader(http.StatusNoContent)
}

type probe struct {
	Connected bool    `json:"connected"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
}

func runProbe(ctx context.Context, fn func(context.Context) error) probe {
	if fn == nil {
		return probe{Connected: true}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := fn(ctx); err != nil {
		return probe{Error: err.Error()}
	}
	return probe{Connected: true, LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rpc := runProbe(r.Context(), s.rpcHealthFn)
	store := runProbe(r.Context(), s.storeHealthFn)
	st := s.session.State()

	status := "healthy"
	code := http.StatusOK
	if !rpc.Connected || !store.Connected {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, struct {
		Status   string `json:"status"`
		RPC      probe  `json:"rpc"`
		Store    probe  `json:"store"`
		Deployed bool   `json:"deployed"`
	}{
		Status:   status,
		RPC:      rpc,
		Store:    store,
		Deployed: st.IsDeployed,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
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

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.metrics.observeRequest(r.Method, route, rec.status)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", r.Header.Get(requestIDHeader)),
		)
	})
}
