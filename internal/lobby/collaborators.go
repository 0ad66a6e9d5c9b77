package lobby

import (
	"context"

	"github.com/cheildo/urbanshadows-lobby/internal/matchmaking"
)

// Traveler moves the process into the gameplay connection. Calls are fire
// and forget; connection failures surface in the networking layer.
type Traveler interface {
	// TravelAsHost starts listening for connections on the session's map.
	TravelAsHost(ctx context.Context, session matchmaking.SessionDescriptor) error
	// TravelAsClient connects to a host at address.
	TravelAsClient(ctx context.Context, session matchmaking.SessionDescriptor, address string) error
	// StartGameplay moves a ready lobby into the match.
	StartGameplay(ctx context.Context, session matchmaking.SessionDescriptor) error
	// StopHosting gives up the listen server of a lobby that never started.
	StopHosting(ctx context.Context, session matchmaking.SessionDescriptor) error
}

// Image is raw RGBA pixel data, four bytes per pixel, row major.
type Image struct {
	Width  int
	Height int
	Pixels []byte
}

// AvatarResolver fetches the pixels behind a member's avatar handle.
type AvatarResolver interface {
	ResolveAvatar(ctx context.Context, handle string) (Image, error)
}

// Update is the full lobby view pushed to observers after every membership,
// readiness or state change.
type Update struct {
	State   State                          `json:"state"`
	Role    Role                           `json:"role"`
	Session *matchmaking.SessionDescriptor `json:"session,omitempty"`
	Members []matchmaking.Member           `json:"members"`
	Error   string                         `json:"error,omitempty"`
}

// Observer receives lobby updates on the machine's loop goroutine. It must
// not block and must not call back into the Machine synchronously.
type Observer interface {
	LobbyUpdated(Update)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Update)

func (f ObserverFunc) LobbyUpdated(u Update) { f(u) }
