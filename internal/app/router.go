package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/odyssey-erp/accesscore/internal/audit/http"
	"github.com/odyssey-erp/accesscore/internal/auth"
	"github.com/odyssey-erp/accesscore/internal/observability"
	"github.com/odyssey-erp/accesscore/internal/rbac"
	"github.com/odyssey-erp/accesscore/internal/roles"
	"github.com/odyssey-erp/accesscore/internal/sessions"
	"github.com/odyssey-erp/accesscore/internal/sidebar"
	"github.com/odyssey-erp/accesscore/internal/users"
	"github.com/odyssey-erp/accesscore/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger        *slog.Logger
	Config        *Config
	Authenticator *auth.Authenticator
	Metrics       *observability.Metrics

	AuthHandler     *auth.Handler
	SessionsHandler *sessions.Handler
	RBACHandler     *rbac.Handler
	SidebarHandler  *sidebar.Handler
	AuditHandler    *audithttp.Handler
	RolesHandler    *roles.Handler
	UsersHandler    *users.Handler
	JobHandler      *jobs.Handler
}

// NewRouter constructs the chi.Router with the service defaults.
//
// Layout:
//
//	/healthz, /metrics      public
//	/auth                   login, refresh, logout
//	/sessions               the caller's own sessions
//	/me                     the caller's permissions and sidebar
//	/admin                  gated administration
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		if params.Authenticator != nil {
			r.Use(params.Authenticator.Middleware)
		}

		if params.SessionsHandler != nil {
			r.Route("/sessions", params.SessionsHandler.MountRoutes)
		}
		r.Route("/me", func(r chi.Router) {
			if params.RBACHandler != nil {
				params.RBACHandler.MountSelfRoutes(r)
			}
			if params.SidebarHandler != nil {
				params.SidebarHandler.MountRoutes(r)
			}
		})
		r.Route("/admin", func(r chi.Router) {
			if params.RBACHandler != nil {
				params.RBACHandler.MountAdminRoutes(r)
			}
			if params.SessionsHandler != nil {
				params.SessionsHandler.MountAdminRoutes(r)
			}
			if params.RolesHandler != nil {
				params.RolesHandler.MountAdminRoutes(r)
			}
			if params.UsersHandler != nil {
				params.UsersHandler.MountAdminRoutes(r)
			}
			if params.AuditHandler != nil {
				params.AuditHandler.MountRoutes(r)
			}
			if params.JobHandler != nil {
				r.Route("/jobs", params.JobHandler.MountRoutes)
			}
		})
	})

	return r
}
