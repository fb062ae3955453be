package rbac

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/accesscore/internal/platform/httpx"
	"github.com/odyssey-erp/accesscore/internal/shared"
)

// Handler exposes permission administration and self-inspection endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate, rbac Middleware) *Handler {
	if validate == nil {
		validate = validator.New()
	}
	return &Handler{logger: logger, service: service, validate: validate, rbac: rbac}
}

// MountAdminRoutes registers the /admin permission routes.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermPermissionsView, shared.PermRolesView)).Get("/permissions", h.listPermissions)
	r.With(h.rbac.RequireAll(shared.PermRolesEdit, shared.PermPermissionsEdit)).Put("/roles/{roleID}/permissions", h.replaceRolePermissions)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermUsersEdit, shared.PermPermissionsEdit))
		r.Put("/users/{userID}/permissions", h.replaceUserPermissions)
		r.Put("/users/{userID}/overrides", h.replaceUserOverrides)
	})
	r.With(h.rbac.RequirePermission(shared.PermUsersEdit)).Put("/users/{userID}/role", h.assignRole)
	r.With(h.rbac.RequireAny(shared.PermUsersView, shared.PermPermissionsView)).Get("/users/{userID}/permissions/effective", h.effectiveForUser)
}

// MountSelfRoutes registers routes for the authenticated caller.
func (h *Handler) MountSelfRoutes(r chi.Router) {
	r.Get("/permissions", h.myPermissions)
}

type keysRequest struct {
	Permissions []string `json:"permissions" validate:"omitempty,dive,required,max=128"`
}

type overridesRequest struct {
	Overrides []Override `json:"overrides" validate:"omitempty,dive"`
}

type roleRequest struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

type effectiveResponse struct {
	UserID      int64         `json:"user_id"`
	Permissions PermissionSet `json:"permissions"`
	Hash        string        `json:"permissions_hash"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) replaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req keysRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ReplaceRolePermissions(r.Context(), roleID, req.Permissions); err != nil {
		h.fail(w, "replace role permissions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) replaceUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req keysRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ReplaceUserPermissions(r.Context(), userID, req.Permissions); err != nil {
		h.fail(w, "replace user permissions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) replaceUserOverrides(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req overridesRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ReplaceUserOverrides(r.Context(), userID, req.Overrides); err != nil {
		h.fail(w, "replace user overrides", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req roleRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.AssignUserRole(r.Context(), userID, req.RoleID); err != nil {
		h.fail(w, "assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) effectiveForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.writeEffective(w, r, userID)
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	h.writeEffective(w, r, id.UserID)
}

func (h *Handler) writeEffective(w http.ResponseWriter, r *http.Request, userID int64) {
	entry, err := h.service.Effective(r.Context(), userID)
	if err != nil {
		h.fail(w, "effective permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, effectiveResponse{UserID: userID, Permissions: entry.Permissions, Hash: entry.Hash})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("rbac "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %w", name, httpx.ErrValidation)
	}
	return id, nil
}
