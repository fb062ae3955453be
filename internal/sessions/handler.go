package sessions

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/accesscore/internal/platform/httpx"
	"github.com/odyssey-erp/accesscore/internal/rbac"
	"github.com/odyssey-erp/accesscore/internal/shared"
)

// Handler exposes session self-service and administration endpoints.
type Handler struct {
	logger   *slog.Logger
	manager  *Manager
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, manager *Manager, validate *validator.Validate, rbac rbac.Middleware) *Handler {
	if validate == nil {
		validate = validator.New()
	}
	return &Handler{logger: logger, manager: manager, validate: validate, rbac: rbac}
}

// MountRoutes registers the caller's own session routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listOwn)
	r.Post("/logout-others", h.logoutOthers)
	r.Delete("/{sessionID}", h.logoutOne)
}

// MountAdminRoutes registers per-user session administration under /admin.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermSessionsView))
		r.Get("/users/{userID}/sessions", h.listForUser)
		r.Get("/users/{userID}/session-limit", h.getLimit)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermSessionsManage))
		r.Delete("/users/{userID}/sessions", h.deactivateAll)
		r.Put("/users/{userID}/session-limit", h.setLimit)
	})
}

type limitRequest struct {
	MaxSessions int `json:"max_sessions" validate:"required,min=1,max=100"`
}

func (h *Handler) listOwn(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	list, err := h.manager.ListActive(r.Context(), id.UserID, id.SessionID)
	if err != nil {
		h.fail(w, "list sessions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": nonNil(list)})
}

func (h *Handler) logoutOne(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	if err := h.manager.LogoutOne(r.Context(), id.UserID, chi.URLParam(r, "sessionID")); err != nil {
		h.fail(w, "logout session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logoutOthers(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	n, err := h.manager.LogoutOthers(r.Context(), id.UserID, id.SessionID)
	if err != nil {
		h.fail(w, "logout other sessions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"logged_out": n})
}

func (h *Handler) listForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.manager.ListActive(r.Context(), userID, "")
	if err != nil {
		h.fail(w, "list user sessions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": nonNil(list)})
}

func (h *Handler) deactivateAll(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	n, err := h.manager.DeactivateAll(r.Context(), userID)
	if err != nil {
		h.fail(w, "deactivate user sessions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"logged_out": n})
}

func (h *Handler) getLimit(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := h.manager.GetLimit(r.Context(), userID)
	if err != nil {
		h.fail(w, "get session limit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, limit)
}

func (h *Handler) setLimit(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req limitRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.manager.SetLimit(r.Context(), userID, req.MaxSessions); err != nil {
		h.fail(w, "set session limit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, Limit{UserID: userID, MaxSessions: req.MaxSessions})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("sessions "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func userIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id: %w", httpx.ErrValidation)
	}
	return id, nil
}

func nonNil(list []Session) []Session {
	if list == nil {
		return []Session{}
	}
	return list
}
