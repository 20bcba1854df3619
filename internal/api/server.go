// Package api is the pipeline's HTTP surface: the run trigger, the
// confirmation link target, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/AdamTech2025/twitter-autobot/internal/confirm"
	"github.com/AdamTech2025/twitter-autobot/internal/coordinator"
	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

type Runner interface {
	Start(ctx context.Context, source types.TriggerSource) (*coordinator.Run, error)
	Cancel() bool
}

type RunStore interface {
	GetRun(ctx context.Context, id int64) (types.Run, error)
}

type Confirmer interface {
	Confirm(ctx context.Context, token string) (confirm.Outcome, error)
}

// Probes check each component for the health endpoint. A nil probe
// reports the component as not configured.
type Probes struct {
	Ledger    func(context.Context) error
	Generator func(context.Context) error
	Notifier  func(context.Context) error
	Publisher func(context.Context) error
}

type Config struct {
	CronSecret string
	SigningKey string
	HealthTTL  time.Duration
	Now        func() time.Time
}

type Server struct {
	runner    Runner
	runs      RunStore
	confirmer Confirmer
	probes    Probes
	auth      authenticator
	health    *cache.Cache
	log       *logrus.Entry
}

func New(cfg Config, runner Runner, runs RunStore, confirmer Confirmer, probes Probes, log *logrus.Entry) *Server {
	if cfg.HealthTTL <= 0 {
		cfg.HealthTTL = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{
		runner:    runner,
		runs:      runs,
		confirmer: confirmer,
		probes:    probes,
		auth:      authenticator{cronSecret: cfg.CronSecret, signingKey: cfg.SigningKey, now: cfg.Now},
		health:    cache.New(cfg.HealthTTL, 2*cfg.HealthTTL),
		log:       log,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/pipeline", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireTrigger)
			r.Get("/run", s.handleRun)
			r.Post("/run", s.handleRun)
			r.Post("/run/cancel", s.handleCancel)
			r.Get("/runs/{id}", s.handleGetRun)
		})
		r.Get("/confirm", s.handleConfirm)
		r.Get("/health", s.handleHealth)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type sourceKey struct{}

func (s *Server) requireTrigger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		source, ok := s.auth.source(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"accepted": false, "reason": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sourceKey{}, source)))
	})
}

// logRequests logs the path only; confirmation tokens live in the query.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
