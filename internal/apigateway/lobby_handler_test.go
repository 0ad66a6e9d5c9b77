package apigateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheildo/urbanshadows-lobby/internal/lobby"
	"github.com/cheildo/urbanshadows-lobby/internal/matchmaking"
)

type nopTraveler struct{}

func (nopTraveler) TravelAsHost(context.Context, matchmaking.SessionDescriptor) error { return nil }
func (nopTraveler) TravelAsClient(context.Context, matchmaking.SessionDescriptor, string) error {
	return nil
}
func (nopTraveler) StartGameplay(context.Context, matchmaking.SessionDescriptor) error { return nil }
func (nopTraveler) StopHosting(context.Context, matchmaking.SessionDescriptor) error   { return nil }

type mapAvatars map[string]lobby.Image

func (m mapAvatars) ResolveAvatar(_ context.Context, handle string) (lobby.Image, error) {
	img, ok := m[handle]
	if !ok {
		return lobby.Image{}, fmt.Errorf("%w: avatar %q", lobby.ErrNotFound, handle)
	}
	return img, nil
}

var (
	alice = matchmaking.Identity{UserID: "u-alice", DisplayName: "alice", AvatarHandle: "a1"}
	bob   = matchmaking.Identity{UserID: "u-bob", DisplayName: "bob"}
)

func newMachine(t *testing.T, p matchmaking.Provider, id matchmaking.Identity) *lobby.Machine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m := lobby.NewMachine(p, nopTraveler{}, id, lobby.Config{HostAddress: "10.0.0.5:7777", Region: "eu"})
	m.Start(ctx)
	return m
}

func newProvider(t *testing.T) *matchmaking.MemoryProvider {
	t.Helper()
	p := matchmaking.NewMemoryProvider()
	require.NoError(t, p.Initialize(context.Background()))
	return p
}

func newServer(t *testing.T, m *lobby.Machine, avatars lobby.AvatarResolver) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub()
	require.NoError(t, m.Subscribe(hub))
	r := chi.NewRouter()
	NewLobbyHandler(m, avatars, "alice").Routes(r)
	r.Handle("/ws", NewWebsocketHandler(hub, m))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub
}

type lobbyView struct {
	State   string               `json:"state"`
	Role    string               `json:"role"`
	Members []matchmaking.Member `json:"members"`
	Session *struct {
		ID    string `json:"id"`
		State string `json:"state"`
	} `json:"session"`
}

func post(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestLobbyHandler_HostAndGet(t *testing.T) {
	m := newMachine(t, newProvider(t), alice)
	srv, _ := newServer(t, m, nil)

	resp := post(t, srv, "/api/v1/lobby/host", `{"max_slots":4,"map_name":"Harbor"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view lobbyView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "Hosted", view.State)
	assert.Equal(t, "Host", view.Role)
	require.Len(t, view.Members, 1)
	assert.Equal(t, "alice", view.Members[0].DisplayName)
	require.NotNil(t, view.Session)

	resp = post(t, srv, "/api/v1/lobby/host", `{"max_slots":4,"map_name":"Harbor"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	get, err := http.Get(srv.URL + "/api/v1/lobby/")
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusOK, get.StatusCode)
}

func TestLobbyHandler_BadRequests(t *testing.T) {
	m := newMachine(t, newProvider(t), alice)
	srv, _ := newServer(t, m, nil)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"host without map", "/api/v1/lobby/host", `{"max_slots":4}`, http.StatusBadRequest},
		{"host garbage", "/api/v1/lobby/host", `{`, http.StatusBadRequest},
		{"join non-numeric", "/api/v1/lobby/join/x", ``, http.StatusBadRequest},
		{"join out of range", "/api/v1/lobby/join/3", ``, http.StatusNotFound},
		{"ready outside lobby", "/api/v1/lobby/ready", `{"ready":true}`, http.StatusConflict},
		{"start outside lobby", "/api/v1/lobby/start", ``, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestLobbyHandler_SearchViews(t *testing.T) {
	p := newProvider(t)
	host := newMachine(t, p, bob)
	require.NoError(t, <-host.Host(context.Background(), 4, "Harbor"))

	closed := newMachine(t, p, matchmaking.Identity{UserID: "u-carol", DisplayName: "carol"})
	require.NoError(t, <-closed.Host(context.Background(), 2, "Docks"))
	id := closed.Snapshot().Session.ID
	// Wait for the background travel step before closing, so it cannot
	// overwrite the state afterwards.
	require.Eventually(t, func() bool {
		s, err := p.Metadata(context.Background(), id, matchmaking.KeyState)
		return err == nil && s == matchmaking.SessionInProgress.String()
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.SetMetadata(context.Background(), id, matchmaking.KeyState, matchmaking.SessionClosed.String()))

	m := newMachine(t, p, alice)
	srv, _ := newServer(t, m, nil)

	var found sessionsResponse
	require.Eventually(t, func() bool {
		resp, err := http.Post(srv.URL+"/api/v1/lobby/search", "application/json", nil)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		found = sessionsResponse{}
		return resp.StatusCode == http.StatusOK &&
			json.NewDecoder(resp.Body).Decode(&found) == nil &&
			len(found.Sessions) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Harbor", found.Sessions[0].MapName)
	assert.Equal(t, 1, found.Sessions[0].CurrentPlayers)

	get := func(view string) sessionsResponse {
		resp, err := http.Get(srv.URL + "/api/v1/lobby/sessions?view=" + view)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out sessionsResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}
	assert.Len(t, get("raw").Sessions, 2)
	assert.Len(t, get("filtered").Sessions, 1)

	resp := post(t, srv, fmt.Sprintf("/api/v1/lobby/join/%d", found.Sessions[0].Index), ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view lobbyView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "Joined", view.State)
	assert.Equal(t, "Client", view.Role)

	resp = post(t, srv, "/api/v1/lobby/leave", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view = lobbyView{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "Idle", view.State)
}

func TestLobbyHandler_ListSessionsRejectsUnknownView(t *testing.T) {
	m := newMachine(t, newProvider(t), alice)
	srv, _ := newServer(t, m, nil)

	resp, err := http.Get(srv.URL + "/api/v1/lobby/sessions?view=all")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLobbyHandler_Avatar(t *testing.T) {
	img := lobby.Image{Width: 2, Height: 1, Pixels: []byte{255, 0, 0, 255, 0, 0, 255, 255}}
	m := newMachine(t, newProvider(t), alice)
	srv, _ := newServer(t, m, mapAvatars{"a1": img, "broken": {Width: 4, Height: 4}})

	resp, err := http.Get(srv.URL + "/api/v1/lobby/avatars/a1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	decoded, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 2, decoded.Bounds().Dx())
	r, g, b, _ := decoded.At(1, 0).RGBA()
	assert.Equal(t, []uint32{0, 0, 0xffff}, []uint32{r, g, b})

	missing, err := http.Get(srv.URL + "/api/v1/lobby/avatars/nobody")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	broken, err := http.Get(srv.URL + "/api/v1/lobby/avatars/broken")
	require.NoError(t, err)
	defer broken.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, broken.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&lobby.IndexError{Index: 2, Len: 1}, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", lobby.ErrInvalidLocalState), http.StatusConflict},
		{lobby.ErrProviderUnavailable, http.StatusServiceUnavailable},
		{lobby.ErrTimeout, http.StatusGatewayTimeout},
		{&lobby.RemoteRejectedError{Op: "join", Reason: matchmaking.ReasonSessionFull}, http.StatusConflict},
		{&lobby.RemoteRejectedError{Op: "join", Reason: matchmaking.ReasonAddressUnresolvable}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func readUpdate(t *testing.T, conn *websocket.Conn) (string, lobbyView) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	var view lobbyView
	if msg.Type == MessageLobbyUpdate {
		require.NoError(t, json.Unmarshal(msg.Payload, &view))
	}
	return msg.Type, view
}

func TestWebsocket_PushesLobbyUpdates(t *testing.T) {
	m := newMachine(t, newProvider(t), alice)
	srv, hub := newServer(t, m, nil)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	typ, view := readUpdate(t, conn)
	assert.Equal(t, MessageLobbyUpdate, typ)
	assert.Equal(t, "Idle", view.State)
	assert.Equal(t, 1, hub.Count())

	resp := post(t, srv, "/api/v1/lobby/host", `{"max_slots":2,"map_name":"Harbor"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for {
		typ, view = readUpdate(t, conn)
		if view.State == "Hosted" {
			break
		}
	}
	require.Len(t, view.Members, 1)
	assert.Equal(t, "alice", view.Members[0].DisplayName)

	hub.Broadcast(Message{Type: MessageServerReady, Payload: map[string]string{"sessionID": "1"}})
	for typ != MessageServerReady {
		typ, _ = readUpdate(t, conn)
	}
}

func TestHub_RemoveStopsDelivery(t *testing.T) {
	hub := NewHub()
	c := hub.add("c1", nil)
	hub.LobbyUpdated(lobby.Update{State: lobby.StateIdle})
	require.Len(t, c.send, 1)

	hub.Remove("c1")
	hub.LobbyUpdated(lobby.Update{State: lobby.StateIdle})
	assert.Equal(t, 0, hub.Count())

	frame, open := <-c.send
	assert.True(t, open)
	assert.True(t, bytes.Contains(frame, []byte(MessageLobbyUpdate)))
	_, open = <-c.send
	assert.False(t, open)
}
