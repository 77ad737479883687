package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"docvault-server/internal/domain"
	"docvault-server/internal/logger"
	"docvault-server/internal/service"
	"docvault-server/pkg/hash"
	"docvault-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

type AuthHandler struct {
	authService *service.AuthService
	validator   *validator.Validate
	log         *logger.Logger
}

func NewAuthHandler(authService *service.AuthService, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		validator:   validator.New(),
		log:         log.Component("auth"),
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	user, err := h.authService.Register(r.Context(), &req)
	switch {
	case errors.Is(err, service.ErrUsernameTaken):
		response.Conflict(w, err.Error())
		return
	case errors.Is(err, hash.ErrPasswordTooShort), errors.Is(err, hash.ErrPasswordTooLong):
		response.BadRequest(w, err.Error())
		return
	case err != nil:
		h.log.Error("register failed").Err(err).Send()
		response.InternalError(w, "Failed to register user")
		return
	}

	response.Created(w, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	loginResp, err := h.authService.Login(r.Context(), &req)
	if errors.Is(err, service.ErrInvalidCredentials) {
		response.Unauthorized(w, err.Error())
		return
	}
	if err != nil {
		h.log.Error("login failed").Err(err).Send()
		response.InternalError(w, "Failed to log in")
		return
	}

	response.Success(w, loginResp)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req domain.RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	tokenResp, err := h.authService.RefreshToken(r.Context(), &req)
	if errors.Is(err, service.ErrInvalidRefreshToken) {
		response.Unauthorized(w, err.Error())
		return
	}
	if err != nil {
		h.log.Error("refresh failed").Err(err).Send()
		response.InternalError(w, "Failed to refresh token")
		return
	}

	response.Success(w, tokenResp)
}
