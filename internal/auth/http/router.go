package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spendlog/backend/internal/auth/service"
	commonhttp "github.com/spendlog/backend/internal/common/http"
	"github.com/spendlog/backend/internal/common/jwtverify"
	"github.com/spendlog/backend/internal/common/logger"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=72"`
	NewPassword     string `json:"new_password" validate:"required,max=72"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type profileResponse struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type Handler struct {
	auth           *service.AuthService
	errors         *commonhttp.ErrorHandler
	requestTimeout time.Duration
	log            *logger.Logger
}

func NewHandler(auth *service.AuthService, requestTimeout time.Duration, verify jwtverify.VerifyFunc, log *logger.Logger) http.Handler {
	h := &Handler{
		auth:           auth,
		errors:         commonhttp.NewErrorHandler(log),
		requestTimeout: requestTimeout,
		log:            log,
	}

	protected := jwtverify.Middleware(verify, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", commonhttp.HealthHandler(log))
	mux.HandleFunc("/api/auth/register", h.register)
	mux.HandleFunc("/api/auth/login", h.login)
	mux.HandleFunc("/api/auth/refresh", h.refresh)
	mux.HandleFunc("/api/auth/logout", h.logout)
	mux.Handle("/api/auth/me", protected(http.HandlerFunc(h.me)))
	mux.Handle("/api/auth/change-password", protected(http.HandlerFunc(h.changePassword)))
	return mux
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		commonhttp.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req registerRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		h.log.Warnf("register failed: invalid json: %v", err)
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeInvalidJSON, "invalid json", nil, "")
		return
	}

	if details, err := commonhttp.ValidateStruct(req); err != nil {
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeValidationFailed, "validation failed", details, "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	result, err := h.auth.Register(ctx, service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
	}, requestMeta(r))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	setRefreshCookie(w, r, result.RefreshToken, result.RefreshExpiresAt)
	commonhttp.WriteJSON(w, http.StatusCreated, tokenResponse{Token: result.AccessToken})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		commonhttp.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req loginRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		h.log.Warnf("login failed: invalid json: %v", err)
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeInvalidJSON, "invalid json", nil, "")
		return
	}

	if details, err := commonhttp.ValidateStruct(req); err != nil {
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeValidationFailed, "validation failed", details, "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	result, err := h.auth.Login(ctx, service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	}, requestMeta(r))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	setRefreshCookie(w, r, result.RefreshToken, result.RefreshExpiresAt)
	commonhttp.WriteJSON(w, http.StatusOK, tokenResponse{Token: result.AccessToken})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		commonhttp.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	cookie, err := r.Cookie("refresh_token")
	if err != nil || cookie.Value == "" {
		commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized, commonhttp.CodeMissingRefreshToken, "missing refresh token", nil, "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	result, err := h.auth.Rotate(ctx, cookie.Value, requestMeta(r))
	if err != nil {
		// Theft signals surface to the client as a plain invalid-token
		// rejection; the engine already recorded what actually happened.
		if service.IsTheftSignal(err) {
			err = service.ErrInvalidRefreshToken
		}
		if errors.Is(err, service.ErrInvalidRefreshToken) {
			clearRefreshCookie(w, r)
		}
		h.errors.HandleError(w, r, err)
		return
	}

	setRefreshCookie(w, r, result.RefreshToken, result.RefreshExpiresAt)
	commonhttp.WriteJSON(w, http.StatusOK, tokenResponse{Token: result.AccessToken})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		commonhttp.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	cookie, err := r.Cookie("refresh_token")
	if err == nil && cookie.Value != "" {
		ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
		defer cancel()
		if err := h.auth.Logout(ctx, cookie.Value); err != nil {
			h.log.Errorf("logout revoke failed: %v", err)
		}
	}

	clearRefreshCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		commonhttp.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	claims, ok := jwtverify.FromContext(r.Context())
	if !ok {
		commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized, commonhttp.CodeInvalidToken, "invalid token", nil, "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	user, err := h.auth.GetProfile(ctx, claims.Subject)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	commonhttp.WriteJSON(w, http.StatusOK, profileResponse{Email: user.Email, Role: user.Role})
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		commonhttp.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	claims, ok := jwtverify.FromContext(r.Context())
	if !ok {
		commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized, commonhttp.CodeInvalidToken, "invalid token", nil, "")
		return
	}

	var req changePasswordRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeInvalidJSON, "invalid json", nil, "")
		return
	}

	if details, err := commonhttp.ValidateStruct(req); err != nil {
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeValidationFailed, "validation failed", details, "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	if err := h.auth.ChangePassword(ctx, claims.Subject, req.CurrentPassword, req.NewPassword); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	// Every session is revoked on password change; the client must log in
	// again.
	clearRefreshCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func requestMeta(r *http.Request) service.RequestMeta {
	return service.RequestMeta{
		IP:        commonhttp.GetClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func setRefreshCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	if token == "" {
		return
	}

	cookie := &http.Cookie{
		Name:     "refresh_token",
		Value:    token,
		Path:     "/api/auth",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil,
	}

	http.SetCookie(w, cookie)
}

func clearRefreshCookie(w http.ResponseWriter, r *http.Request) {
	cookie := &http.Cookie{
		Name:     "refresh_token",
		Value:    "",
		Path:     "/api/auth",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil,
	}

	http.SetCookie(w, cookie)
}
