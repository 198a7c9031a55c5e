// Package httpapi exposes Entitle over HTTP: the billing webhook endpoint
// and read-only entitlement and catalog queries. Handlers are standard
// net/http so they embed into any router, Forge apps included.
package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	entitle "github.com/xraph/entitle"
	"github.com/xraph/entitle/feature"
	"github.com/xraph/entitle/plan"
)

// SignatureHeader carries the webhook signature ("t=<unix>,v1=<hex>").
const SignatureHeader = "Entitle-Signature"

// maxPayloadBytes bounds webhook request bodies. Provider events are small;
// anything larger is not a subscription event.
const maxPayloadBytes = 1 << 20

// Handler serves the Entitle HTTP API.
type Handler struct {
	engine   *entitle.Engine
	registry *feature.Registry
	logger   *slog.Logger
	mux      *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithRegistry sets the feature registry used to validate feature keys at
// the API boundary. Defaults to the built-in catalog.
func WithRegistry(reg *feature.Registry) Option {
	return func(h *Handler) { h.registry = reg }
}

// New creates a Handler around an engine.
func New(eng *entitle.Engine, opts ...Option) *Handler {
	h := &Handler{
		engine:   eng,
		registry: feature.DefaultRegistry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.mux = http.NewServeMux()
	h.Register(h.mux)
	return h
}

// Register mounts all routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/billing", h.handleWebhook)
	mux.HandleFunc("GET /entitlements/{userID}", h.handleEntitlement)
	mux.HandleFunc("GET /entitlements/{userID}/features/{key}", h.handleFeatureCheck)
	mux.HandleFunc("GET /plans", h.handleListPlans)
	mux.HandleFunc("GET /deadletters", h.handleListDeadLetters)
}

// ServeHTTP implements http.Handler, so a Handler can be mounted as a single
// route subtree.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// handleWebhook receives provider lifecycle events.
//
// Status codes follow webhook delivery semantics: 401 tells the provider the
// signature failed, 200 acknowledges (including dead-lettered, duplicate,
// and stale payloads, which a retry cannot fix), and 5xx asks the provider
// to redeliver.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	err = h.engine.ProcessEvent(r.Context(), payload, r.Header.Get(SignatureHeader))
	switch {
	case err == nil, entitle.IsDiscard(err):
		writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
	case entitle.IsSecurity(err):
		writeError(w, http.StatusUnauthorized, "signature verification failed")
	default:
		h.logger.Error("webhook processing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "event processing failed")
	}
}

// handleEntitlement returns the resolved entitlement for a user.
func (h *Handler) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	ent, err := h.engine.Entitlement(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

// featureCheckResponse is the single-feature gating answer.
type featureCheckResponse struct {
	UserID  string      `json:"user_id"`
	Feature feature.Key `json:"feature"`
	Granted bool        `json:"granted"`
}

// handleFeatureCheck answers whether a user's entitlement grants one key.
// Unknown keys are a 404, not a silent false: a typo'd key in a caller is a
// bug worth surfacing.
func (h *Handler) handleFeatureCheck(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	key := feature.Key(r.PathValue("key"))

	if !h.registry.Known(key) {
		writeError(w, http.StatusNotFound, "unknown feature key")
		return
	}

	writeJSON(w, http.StatusOK, featureCheckResponse{
		UserID:  userID,
		Feature: key,
		Granted: h.engine.HasFeature(r.Context(), userID, key),
	})
}

// handleListPlans lists catalog plans. Only purchasable plans are returned
// unless ?all=true.
func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	opts := plan.ListOpts{ActiveOnly: r.URL.Query().Get("all") != "true"}
	opts.Limit, opts.Offset = pageParams(r)

	plans, err := h.engine.ListPlans(r.Context(), opts)
	if err != nil {
		h.logger.Error("list plans failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list plans failed")
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

// handleListDeadLetters lists parked event payloads for operator review.
func (h *Handler) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	if limit == 0 {
		limit = 50
	}

	dls, err := h.engine.ListDeadLetters(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list dead letters failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list dead letters failed")
		return
	}
	writeJSON(w, http.StatusOK, dls)
}

func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	offset, _ = strconv.Atoi(q.Get("offset"))
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // response already committed
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
