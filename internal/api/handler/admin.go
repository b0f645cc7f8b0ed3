package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	mw "github.com/kiranshivaraju/beyanname/internal/api/middleware"
	"github.com/kiranshivaraju/beyanname/internal/api/response"
	"github.com/kiranshivaraju/beyanname/internal/pipeline"
	"github.com/kiranshivaraju/beyanname/internal/store"
	"github.com/kiranshivaraju/beyanname/pkg/models"
)

// AdminStore is the store surface the admin routes need.
type AdminStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, ownerID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, ownerID string) error
	ListFailures(ctx context.Context, filter store.FailureFilter) ([]*models.FailureLog, int, error)
}

// SweepRunner runs one recovery sweep. *pipeline.Sweeper satisfies it.
type SweepRunner interface {
	RunOnce(ctx context.Context) (pipeline.SweepResult, error)
}

type Admin struct {
	store   AdminStore
	sweeper SweepRunner
	now     func() time.Time
}

func NewAdmin(s AdminStore, sweeper SweepRunner) *Admin {
	return &Admin{store: s, sweeper: sweeper, now: func() time.Time { return time.Now().UTC() }}
}

var validFailureKinds = map[models.FailureKind]bool{
	models.FailureTimeout:       true,
	models.FailureProviderError: true,
	models.FailureEmptyResponse: true,
	models.FailureCancelled:     true,
	models.FailureInternal:      true,
}

// ListFailures handles GET /api/v1/admin/failures.
func (h *Admin) ListFailures(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", defaultListLimit)
	if page < 1 || limit < 1 || limit > maxListLimit {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be positive and limit between 1 and 100", nil)
		return
	}
	kind := models.FailureKind(r.URL.Query().Get("kind"))
	if kind != "" && !validFailureKinds[kind] {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown failure kind", nil)
		return
	}

	failures, total, err := h.store.ListFailures(r.Context(), store.FailureFilter{
		OwnerID: r.URL.Query().Get("owner_id"),
		Kind:    kind,
		Page:    page,
		Limit:   limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if failures == nil {
		failures = []*models.FailureLog{}
	}
	response.Collection(w, failures, response.NewPaginationMeta(page, limit, total))
}

// Sweep handles POST /api/v1/admin/sweep.
func (h *Admin) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Sweeper is not configured", nil)
		return
	}
	res, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, res)
}

type createKeyRequest struct {
	Name    string   `json:"name"`
	OwnerID string   `json:"owner_id"`
	Scopes  []string `json:"scopes"`
}

type createKeyResponse struct {
	*models.APIKey
	Key string `json:"key"`
}

// CreateKey handles POST /api/v1/admin/keys. The raw key is returned once
// and never stored.
func (h *Admin) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
		return
	}
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		ownerID, _ = mw.GetOwnerID(r)
	}
	scopes := req.Scopes
	if scopes == nil {
		scopes = []string{}
	}

	rawKey, err := generateKey()
	if err != nil {
		writeError(w, r, err)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, err)
		return
	}

	now := h.now()
	key := &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      req.Name,
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:len(mw.APIKeyPrefix)+5],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, createKeyResponse{APIKey: key, Key: rawKey})
}

// ListKeys handles GET /api/v1/admin/keys.
func (h *Admin) ListKeys(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		ownerID, _ = mw.GetOwnerID(r)
	}
	keys, err := h.store.ListAPIKeys(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	response.JSON(w, keys)
}

// RevokeKey handles DELETE /api/v1/admin/keys/{keyID}.
func (h *Admin) RevokeKey(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "keyID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "keyID must be a UUID", nil)
		return
	}
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		ownerID, _ = mw.GetOwnerID(r)
	}
	if err := h.store.RevokeAPIKey(r.Context(), id, ownerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found", nil)
			return
		}
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// generateKey returns a bearer API key: the bk_ marker followed by 48 hex
// characters.
func generateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return mw.APIKeyPrefix + hex.EncodeToString(buf), nil
}
