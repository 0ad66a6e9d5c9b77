package playerprofile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	requestTimeout = 5 * time.Second
	// maxUploadBytes caps avatar request bodies.
	maxUploadBytes = 1 << 20
)

// HTTPHandler holds dependencies for profile-related HTTP requests.
type HTTPHandler struct {
	svc Service
}

func NewHTTPHandler(svc Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// Routes mounts the profile endpoints under /api/v1/profiles.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Route("/api/v1/profiles", func(r chi.Router) {
		r.Post("/", h.HandleCreateProfile)
		r.Get("/{playerID}", h.HandleGetProfile)
		r.Put("/{playerID}/avatar", h.HandleUploadAvatar)
	})
}

// writeJSON and writeError helpers can be refactored into a shared package later
// to avoid duplication, but for now we'll keep them here for clarity.
func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, code int, message string) {
	h.writeJSON(w, code, map[string]string{"error": message})
}

func (h *HTTPHandler) statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidAvatar):
		return http.StatusBadRequest
	case errors.Is(err, ErrProfileNotFound), errors.Is(err, ErrPlayerDoesNotExist):
		return http.StatusNotFound
	case errors.Is(err, ErrDisplayNameNotAvailable):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

type createProfileRequest struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
}

func (h *HTTPHandler) HandleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	p, err := h.svc.CreateProfile(ctx, req.PlayerID, req.DisplayName)
	if err != nil {
		h.writeError(w, h.statusFor(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, p)
}

// HandleGetProfile is the HTTP handler for GET /profiles/{playerID}.
func (h *HTTPHandler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	p, err := h.svc.GetProfile(ctx, playerID)
	if err != nil {
		h.writeError(w, h.statusFor(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// HandleUploadAvatar takes a raw PNG body.
func (h *HTTPHandler) HandleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "Avatar too large")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	handle, err := h.svc.UploadAvatar(ctx, playerID, data)
	if err != nil {
		h.writeError(w, h.statusFor(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"avatar_handle": handle})
}
