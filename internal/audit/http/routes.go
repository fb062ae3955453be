package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/accesscore/internal/shared"
)

const rateLimit = 10
const rateWindow = time.Minute

// MountRoutes mendaftarkan endpoint audit log, ekspor CSV dan pembersihan.
// The router must already authenticate.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.With(h.rbac.RequirePermission(shared.PermAuditView)).Get("/audit-logs", h.handleList)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.With(h.rbac.RequirePermission(shared.PermAuditView)).Get("/audit-logs/export.csv", h.handleExport)
		gr.With(h.rbac.RequirePermission(shared.PermAuditClear)).Delete("/audit-logs", h.handleClear)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if id, ok := shared.IdentityFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(id.UserID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
