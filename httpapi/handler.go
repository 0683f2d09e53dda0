// Package httpapi assembles the HTTP surface of the gateway: the chi
// router, the authentication dispatcher, the auth endpoints backed by
// the token service, and the storage proxy routes backed by the policy
// engine and the streaming gateway.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sambena/edgegate/dispatch"
	"github.com/sambena/edgegate/logger"
	"github.com/sambena/edgegate/policy"
	"github.com/sambena/edgegate/principal"
	"github.com/sambena/edgegate/ratelimit"
	"github.com/sambena/edgegate/token"
	"github.com/sambena/edgegate/upstream"
)

// Deps carries the wired collaborators for the HTTP surface.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Engine     *policy.Engine
	Tokens     *token.Service
	Users      principal.Store
	Limiter    *ratelimit.Limiter
	Client     *upstream.Client
	Gateway    *upstream.Gateway
	Logger     logger.Logger
}

// NewHandler builds the full router. The dispatcher middleware wraps
// every route; bypass, ingest and realtime paths pass through it
// unauthenticated per its path rules.
func NewHandler(d Deps) http.Handler {
	auth := &authHandlers{
		users:   d.Users,
		tokens:  d.Tokens,
		limiter: d.Limiter,
		logger:  d.Logger,
	}
	storage := &storageHandlers{
		engine:  d.Engine,
		client:  d.Client,
		gateway: d.Gateway,
		logger:  d.Logger,
	}
	sys := &sysHandlers{
		tokens: d.Tokens,
		client: d.Client,
		logger: d.Logger,
	}
	ingest := &ingestHandlers{
		engine:  d.Engine,
		gateway: d.Gateway,
		logger:  d.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(d.Dispatcher.Middleware)

	r.Options("/*", handlePreflight)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sys", func(r chi.Router) {
			r.Get("/health", sys.handleHealth)
			r.Get("/metrics", sys.handleMetrics)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", auth.handleRegister)
			r.Post("/login", auth.handleLogin)
			r.Post("/refresh", auth.handleRefresh)
			r.Post("/logout", auth.handleLogout)
			r.Get("/me", auth.handleMe)
		})

		r.Route("/storage", func(r chi.Router) {
			r.Get("/buckets", storage.handleListBuckets)
			r.Post("/buckets", storage.handleCreateBucket)

			r.Route("/buckets/{bucket}", func(r chi.Router) {
				r.Get("/", storage.handleGetBucket)
				r.Put("/", storage.handleUpdateBucket)
				r.Delete("/", storage.handleDeleteBucket)

				r.Route("/objects", func(r chi.Router) {
					r.Get("/*", storage.handleDownloadObject)
					r.Head("/*", storage.handleHeadObject)
					r.Put("/*", storage.handleUploadObject)
					r.Post("/*", storage.handleUploadObject)
					r.Delete("/*", storage.handleDeleteObject)
				})
			})
		})

		r.Post("/ingest/*", ingest.handleDelivery)
	})

	return r
}

// handlePreflight answers CORS preflight for every route.
func handlePreflight(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "x-api-key, Authorization, Content-Type")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}

// ingestHandlers serve webhook deliveries. The dispatcher lets these
// through unauthenticated; the delivery token travels in its own header
// and is checked here before the payload is forwarded.
type ingestHandlers struct {
	engine  *policy.Engine
	gateway *upstream.Gateway
	logger  logger.Logger
}

const webhookTokenHeader = "X-Webhook-Token"

func (h *ingestHandlers) handleDelivery(w http.ResponseWriter, r *http.Request) {
	if d := h.engine.VerifyWebhookToken(r.Header.Get(webhookTokenHeader)); !d.Allowed {
		dispatch.RespondDecision(w, r, d)
		return
	}

	source := chi.URLParam(r, "*")
	h.gateway.Forward(w, r, "/ingest/"+strings.TrimPrefix(source, "/"))
}

// sysHandlers expose health and operational metrics. Both routes are
// dispatcher bypass paths.
type sysHandlers struct {
	tokens *token.Service
	client *upstream.Client
	logger logger.Logger
}

func (h *sysHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	upstreamStatus := "ok"
	status := http.StatusOK
	if err := h.client.Health(r.Context()); err != nil {
		upstreamStatus = "unreachable"
		h.logger.Debug("health probe failed", logger.Err(err))
	}

	respondJSON(w, status, map[string]interface{}{
		"status":          "ok",
		"upstream":        upstreamStatus,
		"circuit_breaker": h.client.BreakerState(),
	})
}

func (h *sysHandlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"upstream":   h.client.Metrics().GetSnapshot(),
		"revocation": h.tokens.Metrics(),
	})
}
