package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kiranshivaraju/beyanname/internal/api/handler"
	mw "github.com/kiranshivaraju/beyanname/internal/api/middleware"
	"github.com/kiranshivaraju/beyanname/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	// CORSOrigins lists the browser origins allowed to call the API. Empty
	// disables CORS handling.
	CORSOrigins []string

	HealthHandler http.HandlerFunc

	CreateJob      http.HandlerFunc
	ListJobs       http.HandlerFunc
	GetJob         http.HandlerFunc
	JobStatus      http.HandlerFunc
	RetryJob       http.HandlerFunc
	CancelJob      http.HandlerFunc
	GetArtifact    http.HandlerFunc
	RenderArtifact http.HandlerFunc

	ListFailures     http.HandlerFunc
	Sweep            http.HandlerFunc
	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// WithJobs wires every /jobs route to h.
func (d Dependencies) WithJobs(h *handler.Jobs) Dependencies {
	d.CreateJob = h.Create
	d.ListJobs = h.List
	d.GetJob = h.Get
	d.JobStatus = h.Status
	d.RetryJob = h.Retry
	d.CancelJob = h.Cancel
	d.GetArtifact = h.Artifact
	d.RenderArtifact = h.RenderArtifact
	return d
}

// WithAdmin wires every admin route to h.
func (d Dependencies) WithAdmin(h *handler.Admin) Dependencies {
	d.ListFailures = h.ListFailures
	d.Sweep = h.Sweep
	d.CreateKeyHandler = h.CreateKey
	d.ListKeysHandler = h.ListKeys
	d.RevokeKeyHandler = h.RevokeKey
	return d
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/jobs", orNotImplemented(deps.CreateJob))
		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobs))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJob))
		r.Get("/api/v1/jobs/{jobID}/status", orNotImplemented(deps.JobStatus))
		r.Post("/api/v1/jobs/{jobID}/retry", orNotImplemented(deps.RetryJob))
		r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJob))
		r.Get("/api/v1/jobs/{jobID}/artifact", orNotImplemented(deps.GetArtifact))
		r.Post("/api/v1/jobs/{jobID}/artifact", orNotImplemented(deps.RenderArtifact))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeAdmin))

			r.Get("/api/v1/admin/failures", orNotImplemented(deps.ListFailures))
			r.Post("/api/v1/admin/sweep", orNotImplemented(deps.Sweep))
			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
