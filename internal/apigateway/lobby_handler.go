package apigateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cheildo/urbanshadows-lobby/internal/lobby"
	"github.com/cheildo/urbanshadows-lobby/internal/matchmaking"
)

// Lobby is the part of lobby.Machine the presentation layer drives.
type Lobby interface {
	Host(ctx context.Context, maxSlots int, mapName string) <-chan error
	Search(ctx context.Context, filter map[string]string, maxResults int) <-chan error
	Join(ctx context.Context, index int) <-chan error
	SetReady(name string, ready bool) error
	StartGame(ctx context.Context) (bool, error)
	SyncMembers(ctx context.Context) <-chan error
	Leave(ctx context.Context) <-chan error
	Snapshot() lobby.Update
	Results() []matchmaking.SessionDescriptor
}

// LobbyHandler serves the lobby REST API for the local player.
type LobbyHandler struct {
	lobby     Lobby
	avatars   lobby.AvatarResolver
	localName string
}

func NewLobbyHandler(l Lobby, avatars lobby.AvatarResolver, localName string) *LobbyHandler {
	return &LobbyHandler{
		lobby:     l,
		avatars:   avatars,
		localName: localName,
	}
}

// Routes mounts the handler under /api/v1/lobby.
func (h *LobbyHandler) Routes(r chi.Router) {
	r.Route("/api/v1/lobby", func(r chi.Router) {
		r.Get("/", h.HandleGetLobby)
		r.Post("/host", h.HandleHost)
		r.Post("/search", h.HandleSearch)
		r.Get("/sessions", h.HandleListSessions)
		r.Post("/join/{index}", h.HandleJoin)
		r.Post("/ready", h.HandleReady)
		r.Post("/start", h.HandleStart)
		r.Post("/sync", h.HandleSync)
		r.Post("/leave", h.HandleLeave)
		r.Get("/avatars/{handle}", h.HandleAvatar)
	})
}

// writeJSON is a helper function to write JSON responses, handling serialization and headers.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for sending structured JSON error responses.
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor translates lobby errors to HTTP status codes.
func statusFor(err error) int {
	var rr *lobby.RemoteRejectedError
	switch {
	case errors.Is(err, lobby.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lobby.ErrInvalidLocalState):
		return http.StatusConflict
	case errors.Is(err, lobby.ErrProviderUnavailable), errors.Is(err, lobby.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, lobby.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &rr):
		switch rr.Reason {
		case matchmaking.ReasonSessionFull, matchmaking.ReasonSessionNotFound:
			return http.StatusConflict
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// await blocks until the machine reports the outcome of an operation.
func await(ctx context.Context, ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// respond writes the lobby view on success or the mapped error.
func (h *LobbyHandler) respond(w http.ResponseWriter, r *http.Request, op string, err error) {
	if err != nil {
		if r.Context().Err() != nil {
			slog.Warn("Client went away before lobby operation finished", "op", op)
			return
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.lobby.Snapshot())
}

// HandleGetLobby returns state, role, session and members.
func (h *LobbyHandler) HandleGetLobby(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.lobby.Snapshot())
}

type hostRequest struct {
	MaxSlots int    `json:"max_slots"`
	MapName  string `json:"map_name"`
}

func (h *LobbyHandler) HandleHost(w http.ResponseWriter, r *http.Request) {
	var req hostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.MaxSlots <= 0 || req.MapName == "" {
		writeError(w, http.StatusBadRequest, "max_slots and map_name are required")
		return
	}
	h.respond(w, r, "host", await(r.Context(), h.lobby.Host(r.Context(), req.MaxSlots, req.MapName)))
}

type searchRequest struct {
	Filter     map[string]string `json:"filter"`
	MaxResults int               `json:"max_results"`
}

func (h *LobbyHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	// An empty body searches with defaults.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := await(r.Context(), h.lobby.Search(r.Context(), req.Filter, req.MaxResults)); err != nil {
		h.respond(w, r, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionList(h.lobby.Results(), true))
}

// sessionEntry carries the raw result index Join expects.
type sessionEntry struct {
	Index          int `json:"index"`
	CurrentPlayers int `json:"current_players"`
	matchmaking.SessionDescriptor
}

type sessionsResponse struct {
	Sessions []sessionEntry `json:"sessions"`
}

func sessionList(results []matchmaking.SessionDescriptor, filtered bool) sessionsResponse {
	resp := sessionsResponse{Sessions: make([]sessionEntry, 0, len(results))}
	for i, d := range results {
		if filtered && !lobby.Joinable(d) {
			continue
		}
		resp.Sessions = append(resp.Sessions, sessionEntry{Index: i, CurrentPlayers: d.CurrentPlayers(), SessionDescriptor: d})
	}
	return resp
}

// HandleListSessions returns the last search results. view=raw includes
// sessions that are not joinable.
func (h *LobbyHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	view := r.URL.Query().Get("view")
	if view != "" && view != "filtered" && view != "raw" {
		writeError(w, http.StatusBadRequest, "view must be filtered or raw")
		return
	}
	writeJSON(w, http.StatusOK, sessionList(h.lobby.Results(), view != "raw"))
}

func (h *LobbyHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	h.respond(w, r, "join", await(r.Context(), h.lobby.Join(r.Context(), index)))
}

type readyRequest struct {
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

// HandleReady sets a member's ready flag; the local player when name is empty.
func (h *LobbyHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	var req readyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		req.Name = h.localName
	}
	h.respond(w, r, "ready", h.lobby.SetReady(req.Name, req.Ready))
}

func (h *LobbyHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	started, err := h.lobby.StartGame(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"started": started, "lobby": h.lobby.Snapshot()})
}

func (h *LobbyHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "sync", await(r.Context(), h.lobby.SyncMembers(r.Context())))
}

func (h *LobbyHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "leave", await(r.Context(), h.lobby.Leave(r.Context())))
}

// HandleAvatar renders a member's avatar as PNG.
func (h *LobbyHandler) HandleAvatar(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if h.avatars == nil {
		writeError(w, http.StatusNotFound, "avatars are not available")
		return
	}
	img, err := h.avatars.ResolveAvatar(r.Context(), handle)
	if err != nil {
		slog.Warn("Failed to resolve avatar", "handle", handle, "error", err)
		writeError(w, statusFor(err), "avatar unavailable")
		return
	}
	var buf bytes.Buffer
	if err := encodePNG(&buf, img); err != nil {
		slog.Error("Failed to encode avatar", "handle", handle, "error", err)
		writeError(w, http.StatusInternalServerError, "avatar unavailable")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func encodePNG(buf *bytes.Buffer, img lobby.Image) error {
	if img.Width <= 0 || img.Height <= 0 || len(img.Pixels) != img.Width*img.Height*4 {
		return fmt.Errorf("malformed avatar image %dx%d with %d bytes", img.Width, img.Height, len(img.Pixels))
	}
	rgba := &image.RGBA{
		Pix:    img.Pixels,
		Stride: img.Width * 4,
		Rect:   image.Rect(0, 0, img.Width, img.Height),
	}
	return png.Encode(buf, rgba)
}
