package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/stargate/pkg/httputil"
	"github.com/platinummonkey/stargate/pkg/ledger"
	"github.com/platinummonkey/stargate/pkg/verification"
)

// Gate is the coordinator surface the admin API exposes.
type Gate interface {
	SyncRepo(ctx context.Context, repo string) error
	SyncAll(ctx context.Context) map[string]error
	BindUser(ctx context.Context, userID, login, repo string) error
	UnbindUser(ctx context.Context, userID, repo string) (string, error)
	Status(ctx context.Context, repo string) (verification.StatusReport, error)
	ClaimsFor(ctx context.Context, userID string) ([]ledger.Binding, error)
}

// Handlers provides the administrative HTTP API
type Handlers struct {
	gate     Gate
	registry *prometheus.Registry
	logger   *logrus.Logger
}

// NewHandlers creates new admin API handlers. registry may be nil to omit
// the metrics endpoint.
func NewHandlers(gate Gate, registry *prometheus.Registry, logger *logrus.Logger) *Handlers {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handlers{
		gate:     gate,
		registry: registry,
		logger:   logger,
	}
}

// RegisterRoutes registers the admin API routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/sync", h.syncAll).Methods("POST")
	router.HandleFunc("/api/v1/sync/{owner}/{repo}", h.syncRepo).Methods("POST")
	router.HandleFunc("/api/v1/status/{owner}/{repo}", h.status).Methods("GET")
	router.HandleFunc("/api/v1/users/{id}/claims", h.userClaims).Methods("GET")
	router.HandleFunc("/api/v1/bindings", h.createBinding).Methods("POST")
	router.HandleFunc("/api/v1/bindings/{user}/{owner}/{repo}", h.deleteBinding).Methods("DELETE")
	router.HandleFunc("/health", h.health).Methods("GET")
	if h.registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})).Methods("GET")
	}
}

// syncAll handles POST /api/v1/sync
func (h *Handlers) syncAll(w http.ResponseWriter, r *http.Request) {
	results := h.gate.SyncAll(r.Context())

	repos := make(map[string]string, len(results))
	failed := 0
	for repo, err := range results {
		if err != nil {
			repos[repo] = err.Error()
			failed++
		} else {
			repos[repo] = "ok"
		}
	}

	status := http.StatusOK
	if failed > 0 {
		status = http.StatusBadGateway
	}
	httputil.WriteJSON(w, status, map[string]interface{}{
		"repos":  repos,
		"failed": failed,
	})
}

// syncRepo handles POST /api/v1/sync/{owner}/{repo}
func (h *Handlers) syncRepo(w http.ResponseWriter, r *http.Request) {
	repo, ok := repoFromPath(w, r)
	if !ok {
		return
	}

	if err := h.gate.SyncRepo(r.Context(), repo); err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadGateway, err.Error())
		return
	}
	httputil.WriteSuccess(w, map[string]string{"repo": repo, "status": "ok"})
}

// status handles GET /api/v1/status/{owner}/{repo}
func (h *Handlers) status(w http.ResponseWriter, r *http.Request) {
	repo, ok := repoFromPath(w, r)
	if !ok {
		return
	}

	report, err := h.gate.Status(r.Context(), repo)
	if err != nil {
		h.logger.Errorf("status query for %s failed: %v", repo, err)
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, report)
}

// userClaims handles GET /api/v1/users/{id}/claims
func (h *Handlers) userClaims(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	claims, err := h.gate.ClaimsFor(r.Context(), userID)
	if err != nil {
		h.logger.Errorf("claims query for %s failed: %v", userID, err)
		httputil.WriteInternalError(w, err)
		return
	}
	if claims == nil {
		claims = []ledger.Binding{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id": userID,
		"claims":  claims,
	})
}

// bindingRequest is the POST /api/v1/bindings payload
type bindingRequest struct {
	UserID      string `json:"user_id"`
	GithubLogin string `json:"github_login"`
	Repo        string `json:"repo"`
}

// createBinding handles POST /api/v1/bindings
func (h *Handlers) createBinding(w http.ResponseWriter, r *http.Request) {
	var req bindingRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.UserID, "user_id") ||
		!httputil.RequireNonEmpty(w, req.GithubLogin, "github_login") ||
		!httputil.RequireNonEmpty(w, req.Repo, "repo") {
		return
	}

	if err := h.gate.BindUser(r.Context(), req.UserID, req.GithubLogin, req.Repo); err != nil {
		writeGateError(w, err)
		return
	}
	httputil.WriteCreated(w, map[string]string{
		"user_id":      req.UserID,
		"github_login": req.GithubLogin,
		"repo":         req.Repo,
	})
}

// deleteBinding handles DELETE /api/v1/bindings/{user}/{owner}/{repo}
func (h *Handlers) deleteBinding(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user")
	if !ok {
		return
	}
	repo, ok := repoFromPath(w, r)
	if !ok {
		return
	}

	login, err := h.gate.UnbindUser(r.Context(), userID, repo)
	if err != nil {
		writeGateError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{
		"user_id":      userID,
		"github_login": login,
		"repo":         repo,
	})
}

// health handles GET /health
func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}

func repoFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := httputil.ParsePathStringOrError(w, r, "owner")
	if !ok {
		return "", false
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "repo")
	if !ok {
		return "", false
	}
	return owner + "/" + name, true
}

// writeGateError maps coordinator rejection errors to HTTP status codes.
func writeGateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, verification.ErrInvalidHandle):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, verification.ErrNotStargazer):
		httputil.WriteErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, verification.ErrAlreadyClaimed), errors.Is(err, verification.ErrAlreadyBound):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, verification.ErrNoBinding):
		httputil.WriteNotFoundError(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
