package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/accesscore/internal/platform/httpx"
	"github.com/odyssey-erp/accesscore/internal/sessions"
	"github.com/odyssey-erp/accesscore/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	authenticator  *Authenticator
	validator      *validator.Validate
	locationHeader string
	loginLimit     int
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, authenticator *Authenticator, locationHeader string) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		authenticator:  authenticator,
		validator:      validator.New(),
		locationHeader: locationHeader,
		loginLimit:     10,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(h.loginLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
	r.With(limiter).Post("/login", h.handleLogin)
	r.With(limiter).Post("/refresh", h.handleRefresh)
	r.With(h.authenticator.Middleware).Post("/logout", h.handleLogout)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	device := sessions.DeviceFromRequest(r, h.locationHeader)
	tokens, err := h.service.Login(r.Context(), req.Email, req.Password, device)
	if err != nil {
		h.fail(w, "login", err)
		return
	}
	h.logger.Info("login", slog.String("session_id", tokens.SessionID), slog.String("ip", device.IP))
	httpx.JSON(w, http.StatusOK, tokens)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tokens, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, "refresh", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tokens)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	if err := h.service.Logout(r.Context(), id.UserID, id.SessionID); err != nil {
		h.fail(w, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("auth "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
