package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// requestTimeout bounds the database work behind one request.
const requestTimeout = 5 * time.Second

// HTTPHandler holds dependencies for auth-related HTTP requests.
type HTTPHandler struct {
	svc Service
}

func NewHTTPHandler(svc Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// Routes mounts the auth endpoints under /api/v1/auth.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/register", h.HandleRegister)
		r.Post("/login", h.HandleLogin)
	})
}

// writeJSON is a helper function to write JSON responses, handling serialization and headers.
func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for sending structured JSON error responses.
func (h *HTTPHandler) writeError(w http.ResponseWriter, code int, message string) {
	h.writeJSON(w, code, map[string]string{"error": message})
}

type registerRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister is the HTTP handler for the POST /register endpoint.
func (h *HTTPHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	playerID, err := h.svc.Register(ctx, req.Email, req.DisplayName, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrPlayerExists):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, "Registration failed")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"player_id": playerID})
}

// HandleLogin is the HTTP handler for the POST /login endpoint.
func (h *HTTPHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	token, err := h.svc.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			h.writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"access_token": token})
}
