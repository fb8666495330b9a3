package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"cadence-diary-server/internal/domain"
	"cadence-diary-server/internal/middleware"
	"cadence-diary-server/internal/service"
	"cadence-diary-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

type AuthHandler struct {
	authService *service.AuthService
	validate    *validator.Validate
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		validate:    validator.New(),
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	sess := middleware.GetSession(r)
	if sess == nil {
		response.Unauthorized(w, "No session")
		return
	}

	resp := h.authService.Login(r.Context(), sess, &req)
	response.Success(w, resp)
}

func (h *AuthHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	sess := middleware.GetSession(r)
	if sess == nil {
		response.Unauthorized(w, "No session")
		return
	}

	resp, err := h.authService.CreateAccount(r.Context(), sess, &req)
	if err != nil {
		if errors.Is(err, service.ErrNoPendingPattern) {
			response.BadRequest(w, "No pending identification attempt")
			return
		}
		response.InternalError(w, "Failed to create account")
		return
	}

	response.Success(w, resp)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	if sess == nil {
		response.Unauthorized(w, "No session")
		return
	}

	if err := h.authService.Logout(sess); err != nil {
		response.InternalError(w, "Failed to log out")
		return
	}

	middleware.ClearSessionCookie(w)
	response.Success(w, map[string]string{"message": "Logged out successfully"})
}
